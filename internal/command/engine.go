package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wattnpapa/S1-Control-sub000/internal/history"
	"github.com/wattnpapa/S1-Control-sub000/internal/store"
)

// Engine applies state mutations transactionally: the mutation, its
// movement row and its command-log row commit together or not at all.
// It holds no transaction beyond a single operation's scope.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	sinks  []history.Sink
	now    func() time.Time
}

func NewEngine(st *store.Store) *Engine {
	return &Engine{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
}

func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.logger = l
	}
}

// AddSink attaches a best-effort movement mirror. Sink failures are logged
// and dropped, never surfaced to the mutation caller.
func (e *Engine) AddSink(s history.Sink) {
	if s != nil {
		e.sinks = append(e.sinks, s)
	}
}

// incidentWritable fails with ErrNotFound when the incident does not exist
// and with ErrArchived when it is read-only. Every mutating entry point
// calls this inside its transaction.
func incidentWritable(ctx context.Context, tx *sql.Tx, incidentID string) error {
	var archived bool
	err := tx.QueryRowContext(ctx,
		`SELECT archived FROM incidents WHERE id=?;`, incidentID).Scan(&archived)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if archived {
		return fmt.Errorf("incident %s: %w", incidentID, ErrArchived)
	}
	return nil
}

type movement struct {
	incidentID  string
	subjectType string
	subjectID   string
	from        string
	to          string
	comment     string
	actor       string
	at          time.Time
}

func insertMovement(ctx context.Context, tx *sql.Tx, m movement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO movements(incident_id, subject_type, subject_id, from_section_id, to_section_id, comment, actor, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		m.incidentID, m.subjectType, m.subjectID,
		nullable(m.from), nullable(m.to), m.comment, m.actor, m.at)
	return err
}

// nullable maps the empty section id ("unassigned") to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// mirror forwards a committed movement to the configured sinks. Strictly
// best-effort.
func (e *Engine) mirror(m movement) {
	if len(e.sinks) == 0 {
		return
	}
	ev := history.Event{
		IncidentID:  m.incidentID,
		SubjectType: m.subjectType,
		SubjectID:   m.subjectID,
		FromSection: m.from,
		ToSection:   m.to,
		Actor:       m.actor,
		Comment:     m.comment,
		OccurredAt:  m.at,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sink := range e.sinks {
		if err := sink.Send(ctx, ev); err != nil {
			e.logger.Warn("movement mirror failed", "subject", m.subjectID, "error", err)
		}
	}
}
