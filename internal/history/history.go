package history

import (
	"context"
	"time"
)

// Event is one reassignment exported to external audit/analytics systems.
// The authoritative movement row lives in the shared incident database;
// sinks only mirror it.
type Event struct {
	IncidentID  string    `json:"incident_id"`
	SubjectType string    `json:"subject_type"` // "unit" or "vehicle"
	SubjectID   string    `json:"subject_id"`
	FromSection string    `json:"from_section"`
	ToSection   string    `json:"to_section"`
	Actor       string    `json:"actor"`
	Comment     string    `json:"comment,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink is a destination for movement events. Implementations must be safe
// for concurrent use. Delivery is best-effort: callers log failures and
// move on, they never let a sink error reach the interactive path.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
