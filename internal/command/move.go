package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wattnpapa/S1-Control-sub000/internal/metrics"
)

// MoveUnit reassigns a unit to another operational section.
type MoveUnit struct {
	IncidentID      string `json:"incident_id"`
	UnitID          string `json:"unit_id"`
	TargetSectionID string `json:"target_section_id"`
	Comment         string `json:"comment,omitempty"`
}

// MoveVehicle reassigns a vehicle to another operational section.
type MoveVehicle struct {
	IncidentID      string `json:"incident_id"`
	VehicleID       string `json:"vehicle_id"`
	TargetSectionID string `json:"target_section_id"`
}

// moveOp normalizes the two subject kinds onto one transactional path.
type moveOp struct {
	incidentID  string
	subjectID   string
	table       string
	subjectType string
	cmdType     Type
	target      string
	comment     string
}

func (e *Engine) MoveUnit(ctx context.Context, req MoveUnit, actor Actor) error {
	return e.move(ctx, moveOp{
		incidentID:  req.IncidentID,
		subjectID:   req.UnitID,
		table:       "units",
		subjectType: "unit",
		cmdType:     TypeMoveUnit,
		target:      req.TargetSectionID,
		comment:     req.Comment,
	}, actor)
}

func (e *Engine) MoveVehicle(ctx context.Context, req MoveVehicle, actor Actor) error {
	return e.move(ctx, moveOp{
		incidentID:  req.IncidentID,
		subjectID:   req.VehicleID,
		table:       "vehicles",
		subjectType: "vehicle",
		cmdType:     TypeMoveVehicle,
		target:      req.TargetSectionID,
	}, actor)
}

func (e *Engine) move(ctx context.Context, op moveOp, actor Actor) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := incidentWritable(ctx, tx, op.incidentID); err != nil {
		return err
	}

	var current sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT section_id FROM `+op.table+` WHERE id=? AND incident_id=?;`,
		op.subjectID, op.incidentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op.subjectType, op.subjectID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	from := current.String
	if from == op.target {
		// already in the target section: succeed without writing anything
		return nil
	}

	now := e.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE `+op.table+` SET section_id=? WHERE id=?;`,
		nullable(op.target), op.subjectID); err != nil {
		return err
	}

	m := movement{
		incidentID:  op.incidentID,
		subjectType: op.subjectType,
		subjectID:   op.subjectID,
		from:        from,
		to:          op.target,
		comment:     op.comment,
		actor:       actor.Name,
		at:          now,
	}
	if err := insertMovement(ctx, tx, m); err != nil {
		return err
	}

	payload, err := json.Marshal(movePayload{
		SubjectID: op.subjectID,
		From:      from,
		To:        op.target,
		Comment:   op.comment,
	})
	if err != nil {
		return fmt.Errorf("encode command payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commands(incident_id, subject_id, command_type, payload, created_at, undone)
		VALUES(?, ?, ?, ?, ?, 0);`,
		op.incidentID, op.subjectID, string(op.cmdType), string(payload), now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	e.logger.Info("subject moved",
		"incident", op.incidentID, "type", op.subjectType,
		"subject", op.subjectID, "from", from, "to", op.target, "actor", actor.Name)
	metrics.IncCommand(string(op.cmdType))
	e.mirror(m)
	return nil
}
