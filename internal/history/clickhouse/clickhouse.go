package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/wattnpapa/S1-Control-sub000/internal/history"
)

// Sink mirrors movement events into ClickHouse for long-term analytics
// across incidents.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to a ClickHouse server at addr (host:port, native protocol)
// and writes into table within database.
func New(addr, database, username, password, table string) (*Sink, error) {
	if database == "" {
		database = "default"
	}
	if username == "" {
		username = "default"
	}
	if table == "" {
		table = "movement_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}

	sink := &Sink{conn: conn, table: table}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(3, 'UTC'),
		incident_id String,
		subject_type String,
		subject_id String,
		from_section String,
		to_section String,
		actor String,
		comment String
	) ENGINE = MergeTree() ORDER BY (incident_id, occurred_at)`, s.table)
	return s.conn.Exec(ctx, stmt)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, incident_id, subject_type, subject_id, from_section, to_section, actor, comment) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		e.OccurredAt.UTC(),
		e.IncidentID,
		e.SubjectType,
		e.SubjectID,
		e.FromSection,
		e.ToSection,
		e.Actor,
		e.Comment,
	); err != nil {
		return fmt.Errorf("insert movement into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
