package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wattnpapa/S1-Control-sub000/internal/metrics"
)

// UndoLast reverses the most recent not-yet-undone command for the incident.
// It returns false when there is nothing to undo; that is a normal outcome,
// not an error. Exactly one command record transitions to undone per call.
func (e *Engine) UndoLast(ctx context.Context, incidentID string, actor Actor) (bool, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	// undo mutates the incident, so the archived guard applies here too
	if err := incidentWritable(ctx, tx, incidentID); err != nil {
		return false, err
	}

	var rec Record
	err = tx.QueryRowContext(ctx, `
		SELECT id, subject_id, command_type, payload
		FROM commands
		WHERE incident_id=? AND undone=0
		ORDER BY created_at DESC, id DESC
		LIMIT 1;`, incidentID).Scan(&rec.ID, &rec.SubjectID, &rec.Type, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var table, subjectType string
	switch rec.Type {
	case TypeMoveUnit:
		table, subjectType = "units", "unit"
	case TypeMoveVehicle:
		table, subjectType = "vehicles", "vehicle"
	default:
		return false, &UnsupportedCommandError{Type: rec.Type}
	}

	var p movePayload
	if err := json.Unmarshal([]byte(rec.Payload), &p); err != nil {
		return false, fmt.Errorf("decode payload of command %d: %w", rec.ID, err)
	}

	now := e.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE `+table+` SET section_id=? WHERE id=? AND incident_id=?;`,
		nullable(p.From), p.SubjectID, incidentID); err != nil {
		return false, err
	}

	// history stays append-only: the undo is itself a new movement row
	m := movement{
		incidentID:  incidentID,
		subjectType: subjectType,
		subjectID:   p.SubjectID,
		from:        p.To,
		to:          p.From,
		comment:     fmt.Sprintf("undo of %s", rec.Type),
		actor:       actor.Name + " (undo)",
		at:          now,
	}
	if err := insertMovement(ctx, tx, m); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE commands SET undone=1 WHERE id=?;`, rec.ID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	e.logger.Info("command undone",
		"incident", incidentID, "command", rec.ID, "type", rec.Type, "actor", actor.Name)
	metrics.IncUndo()
	e.mirror(m)
	return true, nil
}

// HasUndoable reports whether UndoLast would find a command to reverse.
// Read-only; used to enable or disable undo affordances.
func (e *Engine) HasUndoable(ctx context.Context, incidentID string) (bool, error) {
	var n int
	err := e.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(1) FROM commands WHERE incident_id=? AND undone=0;`,
		incidentID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
