package domain

import "time"

// Audit outcomes. "denied" is first-class because policy denials are the
// signal a tenant operator actually wants to see.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
	OutcomeError  = "error"
)

// AuditEvent is one completed secret operation. It records who asked for
// what and how it went; it never records secret material or tokens.
type AuditEvent struct {
	ID        string // ULID, sortable by time
	TenantID  string
	UserID    string
	Op        string // get, put, list
	Path      string
	Outcome   string // ok, denied, error
	Status    int    // collaborator HTTP status, 0 when none applies
	CreatedAt time.Time
}
