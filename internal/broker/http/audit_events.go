package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/matric-platform/secretbroker/internal/broker/service"
	"github.com/matric-platform/secretbroker/pkg/brokersdk"
	"github.com/matric-platform/secretbroker/pkg/httpx"
	"github.com/matric-platform/secretbroker/pkg/slogx"
)

type AuditEventsHandler struct {
	AuditService *service.AuditService
}

// ServeHTTP handles GET /v1/audit/events?limit=N, newest events first.
func (h *AuditEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.WriteJSON(w, http.StatusBadRequest, brokersdk.ErrorResponse{
				Error:            "invalid_request",
				ErrorDescription: "Query parameter 'limit' must be a positive integer",
			})
			return
		}
		limit = n
	}

	events, err := h.AuditService.Recent(ctx, limit)
	if err != nil {
		log.Error("failed to list audit events", "error", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, brokersdk.ErrorResponse{
			Error:            "server_error",
			ErrorDescription: "Failed to retrieve audit events",
		})
		return
	}

	response := brokersdk.AuditEventsResponse{
		Events: make([]brokersdk.AuditEventEntry, len(events)),
	}
	for i, e := range events {
		response.Events[i] = brokersdk.AuditEventEntry{
			ID:       e.ID,
			TenantID: e.TenantID,
			UserID:   e.UserID,
			Op:       e.Op,
			Path:     e.Path,
			Outcome:  e.Outcome,
			Status:   e.Status,
			At:       e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	httpx.WriteJSON(w, http.StatusOK, response)
}
