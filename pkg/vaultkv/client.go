// Package vaultkv speaks to a HashiCorp Vault style secret store: JWT-auth
// login plus the KV v2 data and metadata endpoints. Path structure inside
// the mount is opaque here; tenant policy is enforced by the store against
// the claims bound into the presented token, not by this client.
package vaultkv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// tokenHeader carries the store token on every data operation.
const tokenHeader = "X-Vault-Token"

// Config holds the secret store connection settings.
type Config struct {
	URL     string // Base URL, e.g. http://localhost:8200
	JWTPath string // Auth method login path, e.g. auth/jwt/login
	Role    string // JWT auth role to log in as, e.g. matric-service
}

// Auth is the relevant slice of a successful login response.
type Auth struct {
	ClientToken   string
	LeaseDuration int // Seconds the token is valid for, as declared by the store.
}

// APIError is a non-2xx response from the store. Callers classify on the
// status code; 403 in particular is a policy decision, not a fault.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vaultkv: request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client issues authenticated requests against the store's v1 API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a store client with a bounded request timeout.
func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewWithHTTPClient is like New but uses the provided HTTP client. Pass a
// client with a timeout; this package does not add one.
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	return &Client{cfg: cfg, httpClient: hc}
}

func (c *Client) url(path string) string {
	return strings.TrimSuffix(c.cfg.URL, "/") + "/v1/" + strings.TrimPrefix(path, "/")
}

// LoginJWT exchanges an identity-provider JWT for a store token via the
// configured JWT auth mount.
func (c *Client) LoginJWT(ctx context.Context, jwt string) (*Auth, error) {
	payload := map[string]string{
		"role": c.cfg.Role,
		"jwt":  jwt,
	}

	body, err := c.do(ctx, http.MethodPost, c.cfg.JWTPath, "", payload)
	if err != nil {
		return nil, err
	}

	var loginResp struct {
		Auth struct {
			ClientToken   string `json:"client_token"`
			LeaseDuration int    `json:"lease_duration"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return nil, fmt.Errorf("vaultkv: failed to decode login response: %w", err)
	}
	if loginResp.Auth.ClientToken == "" {
		return nil, fmt.Errorf("vaultkv: login response missing client_token")
	}

	return &Auth{
		ClientToken:   loginResp.Auth.ClientToken,
		LeaseDuration: loginResp.Auth.LeaseDuration,
	}, nil
}

// GetSecret reads the secret at path and returns its key/value payload.
func (c *Client) GetSecret(ctx context.Context, token, path string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, "secret/data/"+path, token, nil)
	if err != nil {
		return nil, err
	}

	// KV v2 nests the payload one level under versioning metadata.
	var secretResp struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &secretResp); err != nil {
		return nil, fmt.Errorf("vaultkv: failed to decode secret response: %w", err)
	}

	return secretResp.Data.Data, nil
}

// PutSecret writes data as a new version of the secret at path.
func (c *Client) PutSecret(ctx context.Context, token, path string, data map[string]any) error {
	payload := map[string]any{"data": data}

	_, err := c.do(ctx, http.MethodPost, "secret/data/"+path, token, payload)
	return err
}

// ListSecrets enumerates the keys directly under path. Keys ending in "/"
// are sub-prefixes.
func (c *Client) ListSecrets(ctx context.Context, token, path string) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "secret/metadata/"+path+"?list=true", token, nil)
	if err != nil {
		return nil, err
	}

	var listResp struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("vaultkv: failed to decode list response: %w", err)
	}

	return listResp.Data.Keys, nil
}

// do performs a single API request, returning the raw body on 2xx and a
// typed *APIError otherwise.
func (c *Client) do(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("vaultkv: failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return nil, fmt.Errorf("vaultkv: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vaultkv: failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vaultkv: failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return body, nil
}
