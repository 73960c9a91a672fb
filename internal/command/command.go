package command

import (
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of a logged command. New mutations register a
// type here and an undo dispatch arm in UndoLast; unknown types fail undo
// explicitly instead of silently no-opping.
type Type string

const (
	TypeMoveUnit    Type = "move-unit"
	TypeMoveVehicle Type = "move-vehicle"
)

// Actor identifies who triggered a mutation, for the audit trail.
type Actor struct {
	ID   string
	Name string
}

// Record is one row of the append-only command log. A record is mutated
// exactly once, from Undone=false to Undone=true, and never deleted.
type Record struct {
	ID         int64
	IncidentID string
	SubjectID  string
	Type       Type
	Payload    string
	CreatedAt  time.Time
	Undone     bool
}

// movePayload captures enough pre-state to reverse a move. Empty section
// ids mean "unassigned".
type movePayload struct {
	SubjectID string `json:"subject_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Comment   string `json:"comment,omitempty"`
}

// Sentinel errors surfaced to callers as typed failures.
var (
	// ErrNotFound reports a missing incident or subject.
	ErrNotFound = errors.New("not found")
	// ErrArchived reports a mutation against an archived (read-only) incident.
	ErrArchived = errors.New("incident is archived")
)

// UnsupportedCommandError reports an undo request for a command type this
// build does not know how to reverse.
type UnsupportedCommandError struct {
	Type Type
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("unsupported command type %q", e.Type)
}
