package presence

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wattnpapa/S1-Control-sub000/internal/metrics"
	"github.com/wattnpapa/S1-Control-sub000/internal/store"
)

// Client is one live workstation as recorded in the shared database.
type Client struct {
	ClientID     string    `json:"client_id"`
	ComputerName string    `json:"computer_name"`
	IPAddress    string    `json:"ip_address"`
	LastSeen     time.Time `json:"last_seen"`
	StartedAt    time.Time `json:"started_at"`
	IsLeader     bool      `json:"is_leader"`
	IsSelf       bool      `json:"is_self"`
}

const (
	DefaultInterval   = 5 * time.Second
	DefaultStaleAfter = 30 * time.Second
)

// Service registers this process in the shared database and keeps the
// leader election converged via periodic heartbeats. There is no central
// coordinator: every heartbeat reaps stale peers and recomputes the full
// election, which is fine for the handful of workstations this serves.
type Service struct {
	clientID   string
	startedAt  time.Time
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	st   *store.Store // nil when stopped
	quit chan struct{}
	done chan struct{}

	leader atomic.Bool
}

func New() *Service {
	return &Service{
		clientID:   uuid.NewString(),
		startedAt:  time.Now().UTC(),
		interval:   DefaultInterval,
		staleAfter: DefaultStaleAfter,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// ClientID is stable for the lifetime of this process.
func (s *Service) ClientID() string { return s.clientID }

func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetIntervals adjusts the heartbeat cadence and the stale threshold.
// Call before Start.
func (s *Service) SetIntervals(interval, staleAfter time.Duration) {
	if interval > 0 {
		s.interval = interval
	}
	if staleAfter > 0 {
		s.staleAfter = staleAfter
	}
}

// Start attaches the service to a store, performs one heartbeat
// synchronously and arms the repeating timer. Starting an already running
// service fully stops the previous attachment first.
func (s *Service) Start(st *store.Store) {
	s.Stop(true)

	s.mu.Lock()
	s.st = st
	quit := make(chan struct{})
	done := make(chan struct{})
	s.quit, s.done = quit, done
	s.mu.Unlock()

	s.Heartbeat()
	go s.run(quit, done)
}

func (s *Service) run(quit, done chan struct{}) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			s.Heartbeat()
		}
	}
}

// Stop cancels the timer and, when removeEntry is set, deletes this
// instance's presence row. The delete is best-effort: if it fails the row
// is reaped as stale by a surviving peer.
func (s *Service) Stop(removeEntry bool) {
	s.mu.Lock()
	st := s.st
	quit, done := s.quit, s.done
	s.st = nil
	s.quit, s.done = nil, nil
	s.mu.Unlock()

	if quit != nil {
		close(quit)
		<-done
	}
	if removeEntry && st != nil {
		if _, err := st.DB().ExecContext(context.Background(),
			`DELETE FROM clients WHERE client_id=?;`, s.clientID); err != nil {
			s.logger.Debug("presence row cleanup failed", "error", err)
		}
	}
	s.leader.Store(false)
}

// Heartbeat runs one presence round: reap stale peers, refresh our own row,
// recompute the leader, all in one transaction. A detached service
// heartbeats as a no-op. Errors are logged and swallowed; the next tick
// retries.
func (s *Service) Heartbeat() {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()
	if st == nil {
		return
	}
	leader, live, err := s.beat(context.Background(), st)
	if err != nil {
		s.logger.Warn("presence heartbeat failed", "error", err)
		return
	}
	s.leader.Store(leader)
	metrics.IncHeartbeat()
	metrics.SetActiveClients(live)
	metrics.SetLeader(leader)
}

func (s *Service) beat(ctx context.Context, st *store.Store) (leader bool, live int, err error) {
	now := s.now().UTC()
	tx, err := st.BeginTx(ctx)
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// any client's heartbeat may reap any stale peer, not just its own row
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM clients WHERE last_seen < ?;`, now.Add(-s.staleAfter)); err != nil {
		return false, 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO clients(client_id, computer_name, ip_address, last_seen, started_at, is_leader)
		VALUES(?, ?, ?, ?, ?, 0)
		ON CONFLICT(client_id) DO UPDATE SET
			computer_name=excluded.computer_name,
			ip_address=excluded.ip_address,
			last_seen=excluded.last_seen;`,
		s.clientID, hostname(), localIP(), now, s.startedAt); err != nil {
		return false, 0, err
	}

	// oldest instance wins; client_id breaks started_at ties deterministically
	var winner string
	if err := tx.QueryRowContext(ctx,
		`SELECT client_id FROM clients ORDER BY started_at ASC, client_id ASC LIMIT 1;`).Scan(&winner); err != nil {
		return false, 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE clients SET is_leader=(client_id=?);`, winner); err != nil {
		return false, 0, err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM clients;`).Scan(&live); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return winner == s.clientID, live, nil
}

// ListActive heartbeats opportunistically so the returned election state is
// current even between ticks, then lists all non-stale rows.
func (s *Service) ListActive(ctx context.Context) ([]Client, error) {
	s.Heartbeat()

	s.mu.Lock()
	st := s.st
	s.mu.Unlock()
	if st == nil {
		return nil, nil
	}
	clients, err := Active(ctx, st, s.now().UTC(), s.staleAfter)
	if err != nil {
		return nil, err
	}
	for i := range clients {
		clients[i].IsSelf = clients[i].ClientID == s.clientID
	}
	return clients, nil
}

// CanWriteBackups reports whether this instance won the last election.
// Cheap and non-blocking; meant to be polled by the backup coordinator.
func (s *Service) CanWriteBackups() bool { return s.leader.Load() }

// Active lists all non-stale presence rows ordered by computer name and
// start time. Exposed package-level so read-only tooling can inspect the
// cluster without registering itself.
func Active(ctx context.Context, st *store.Store, now time.Time, staleAfter time.Duration) ([]Client, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	rows, err := st.DB().QueryContext(ctx, `
		SELECT client_id, computer_name, ip_address, last_seen, started_at, is_leader
		FROM clients
		WHERE last_seen >= ?
		ORDER BY computer_name ASC, started_at ASC;`, now.UTC().Add(-staleAfter))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanClients(rows)
}

func scanClients(rows *sql.Rows) ([]Client, error) {
	out := make([]Client, 0)
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ClientID, &c.ComputerName, &c.IPAddress, &c.LastSeen, &c.StartedAt, &c.IsLeader); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
