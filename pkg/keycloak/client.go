// Package keycloak implements the small slice of the Keycloak token endpoint
// the broker depends on: the client_credentials grant. Token issuance
// semantics (mappers, realms, custom claims) are Keycloak's business; this
// client only carries the request and hands back the raw access token.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the identity provider connection settings.
type Config struct {
	URL          string // Base URL, e.g. http://localhost:8081
	Realm        string // Realm name, e.g. matric-dev
	ClientID     string
	ClientSecret string
	Scope        string // Space-delimited, e.g. "openid profile"
}

// APIError is a non-2xx response from the token endpoint. The status code is
// what callers classify on; the body is kept for diagnostics only.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keycloak: token request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client requests bearer tokens from a Keycloak realm.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a Keycloak client with a bounded request timeout.
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

// tokenURL builds the realm token endpoint.
func (c *Client) tokenURL() string {
	return fmt.Sprintf(
		"%s/realms/%s/protocol/openid_connect/token",
		strings.TrimSuffix(c.cfg.URL, "/"),
		c.cfg.Realm,
	)
}

// ClientCredentialsGrant requests an access token using the OAuth2
// client_credentials grant and returns the raw JWT. Only the access_token
// field of the response is consumed; everything else the realm returns is
// provider detail.
func (c *Client) ClientCredentialsGrant(ctx context.Context) (string, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	if c.cfg.Scope != "" {
		data.Set("scope", c.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.tokenURL(),
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("keycloak: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak: failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("keycloak: failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("keycloak: failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("keycloak: token response missing access_token")
	}

	return tokenResp.AccessToken, nil
}
