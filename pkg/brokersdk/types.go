package brokersdk

// Wire types shared between the sidecar HTTP surface and its clients.

// ErrorResponse is the JSON body returned for any failed request.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// SecretResponse carries one secret's key/value payload.
type SecretResponse struct {
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
}

// SecretListResponse carries the child key names under a path prefix.
type SecretListResponse struct {
	Path string   `json:"path"`
	Keys []string `json:"keys"`
}

// WriteSecretRequest is the body accepted by the write endpoint.
type WriteSecretRequest struct {
	Data map[string]any `json:"data"`
}

// AuditEventEntry is one recorded broker operation.
type AuditEventEntry struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	Op       string `json:"op"`
	Path     string `json:"path,omitempty"`
	Outcome  string `json:"outcome"`
	Status   int    `json:"status,omitempty"`
	At       string `json:"at"`
}

// AuditEventsResponse lists recent audit events, newest first.
type AuditEventsResponse struct {
	Events []AuditEventEntry `json:"events"`
}

// HealthChecks reports per-dependency health in readiness responses.
type HealthChecks struct {
	Database string `json:"database,omitempty"`
	Token    string `json:"token,omitempty"`
}

// HealthResponse is returned by the livez and readyz endpoints.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}
