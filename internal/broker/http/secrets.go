package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/matric-platform/secretbroker/pkg/brokersdk"
	"github.com/matric-platform/secretbroker/pkg/httpx"
	"github.com/matric-platform/secretbroker/pkg/slogx"
)

// SecretBroker is the subset of the broker the HTTP surface needs.
type SecretBroker interface {
	Get(ctx context.Context, path string) (map[string]any, error)
	Put(ctx context.Context, path string, data map[string]any) error
	List(ctx context.Context, path string) ([]string, error)
	HasValidToken() bool
}

type SecretsHandler struct {
	Broker SecretBroker
}

// HandleRead serves GET /v1/secrets/{path...}. With ?list=true it returns
// the child keys under the path instead of the secret payload.
func (h *SecretsHandler) HandleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	path := r.PathValue("path")
	if path == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, brokersdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Secret path is required",
		})
		return
	}

	if r.URL.Query().Get("list") == "true" {
		keys, err := h.Broker.List(ctx, path)
		if err != nil {
			writeBrokerError(w, log, "list", path, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, brokersdk.SecretListResponse{
			Path: path,
			Keys: keys,
		})
		return
	}

	data, err := h.Broker.Get(ctx, path)
	if err != nil {
		writeBrokerError(w, log, "get", path, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, brokersdk.SecretResponse{
		Path: path,
		Data: data,
	})
}

// HandleWrite serves PUT /v1/secrets/{path...}.
func (h *SecretsHandler) HandleWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	path := r.PathValue("path")
	if path == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, brokersdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Secret path is required",
		})
		return
	}

	var req brokersdk.WriteSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, brokersdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Request body must be JSON",
		})
		return
	}
	if len(req.Data) == 0 {
		httpx.WriteJSON(w, http.StatusBadRequest, brokersdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Field 'data' must be a non-empty object",
		})
		return
	}

	if err := h.Broker.Put(ctx, path, req.Data); err != nil {
		writeBrokerError(w, log, "put", path, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeBrokerError translates broker error kinds onto HTTP statuses. Denied
// access belongs to the caller (403); broken upstreams are the sidecar's
// problem and surface as 502 so consumers can tell the two apart.
func writeBrokerError(w http.ResponseWriter, log *slog.Logger, op, path string, err error) {
	code := "server_error"
	var berr *brokersdk.Error
	if errors.As(err, &berr) {
		code = berr.Code
	}

	kind, known := brokersdk.KindOf(err)
	switch {
	case known && kind == brokersdk.KindAccessDenied:
		log.Warn("secret operation denied", "op", op, "path", path)
		httpx.WriteJSON(w, http.StatusForbidden, brokersdk.ErrorResponse{
			Error:            code,
			ErrorDescription: "Access to this secret path is denied",
		})
	case known && (kind == brokersdk.KindAuthentication || kind == brokersdk.KindTransport || kind == brokersdk.KindUpstream):
		log.Error("secret operation failed upstream", "op", op, "path", path, "error", err)
		httpx.WriteJSON(w, http.StatusBadGateway, brokersdk.ErrorResponse{
			Error:            code,
			ErrorDescription: "Upstream dependency failed",
		})
	default:
		log.Error("secret operation failed", "op", op, "path", path, "error", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, brokersdk.ErrorResponse{
			Error:            code,
			ErrorDescription: "Internal error",
		})
	}
}
