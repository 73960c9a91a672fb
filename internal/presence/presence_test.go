package presence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wattnpapa/S1-Control-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "einsatz.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// newDetachedService builds a service with a fixed identity and no timer;
// tests drive heartbeats by hand.
func newDetachedService(st *store.Store, clientID string, startedAt time.Time) *Service {
	s := New()
	s.clientID = clientID
	s.startedAt = startedAt.UTC()
	s.st = st
	return s
}

func countLeaders(t *testing.T, st *store.Store) int {
	t.Helper()
	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(1) FROM clients WHERE is_leader=1;`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestHeartbeatRegistersAndElectsSelf(t *testing.T) {
	st := newTestStore(t)
	s := newDetachedService(st, "client-a", time.Now())

	s.Heartbeat()

	clients, err := Active(context.Background(), st, time.Now(), DefaultStaleAfter)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(clients) != 1 {
		t.Fatalf("active clients = %d, want 1", len(clients))
	}
	c := clients[0]
	if c.ClientID != "client-a" || !c.IsLeader {
		t.Errorf("client = %+v, want client-a as leader", c)
	}
	if c.IPAddress == "" || c.ComputerName == "" {
		t.Errorf("missing host info: %+v", c)
	}
	if !s.CanWriteBackups() {
		t.Error("sole instance should be allowed to write backups")
	}
}

func TestLeaderUniquenessAndOldestWins(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	older := newDetachedService(st, "client-b", base)
	newer := newDetachedService(st, "client-a", base.Add(time.Minute))

	older.Heartbeat()
	newer.Heartbeat()
	older.Heartbeat()

	if n := countLeaders(t, st); n != 1 {
		t.Fatalf("leaders = %d, want exactly 1", n)
	}
	if !older.CanWriteBackups() {
		t.Error("oldest instance should be leader")
	}
	if newer.CanWriteBackups() {
		t.Error("newer instance must not be leader")
	}
}

func TestStartedAtTieBreaksOnClientID(t *testing.T) {
	st := newTestStore(t)
	startedAt := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	// identical startedAt; "client-a" sorts before "client-z"
	a := newDetachedService(st, "client-a", startedAt)
	z := newDetachedService(st, "client-z", startedAt)

	z.Heartbeat()
	a.Heartbeat()
	z.Heartbeat()

	if n := countLeaders(t, st); n != 1 {
		t.Fatalf("leaders = %d, want exactly 1", n)
	}
	if !a.CanWriteBackups() {
		t.Error("tie must deterministically elect the smaller client id")
	}
	if z.CanWriteBackups() {
		t.Error("losing side of the tie must not be leader")
	}
}

func TestLeaderHandoffOnGracefulStop(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	leader := newDetachedService(st, "client-a", base)
	survivor := newDetachedService(st, "client-b", base.Add(time.Second))

	leader.Heartbeat()
	survivor.Heartbeat()
	if !leader.CanWriteBackups() {
		t.Fatal("client-a should lead initially")
	}

	leader.Stop(true)

	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(1) FROM clients WHERE client_id='client-a';`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("graceful stop should delete own presence row")
	}

	survivor.Heartbeat()
	if !survivor.CanWriteBackups() {
		t.Error("survivor should take over leadership on its next heartbeat")
	}
	if countLeaders(t, st) != 1 {
		t.Error("exactly one leader after handoff")
	}
}

func TestStaleRowsAreReaped(t *testing.T) {
	st := newTestStore(t)

	// orphaned row from a crashed client, last seen well past the threshold
	stale := time.Now().UTC().Add(-2 * DefaultStaleAfter)
	_, err := st.DB().Exec(`
		INSERT INTO clients(client_id, computer_name, ip_address, last_seen, started_at, is_leader)
		VALUES('client-dead', 'crashed-host', '10.0.0.9', ?, ?, 1);`, stale, stale)
	if err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	live := newDetachedService(st, "client-live", time.Now())
	live.Heartbeat()

	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(1) FROM clients WHERE client_id='client-dead';`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("stale row should be reaped by any live client's heartbeat")
	}
	if !live.CanWriteBackups() {
		t.Error("survivor should inherit leadership from the reaped row")
	}
}

func TestHeartbeatPreservesStartedAt(t *testing.T) {
	st := newTestStore(t)
	started := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	s := newDetachedService(st, "client-a", started)

	s.Heartbeat()
	s.Heartbeat()

	var got time.Time
	if err := st.DB().QueryRow(`SELECT started_at FROM clients WHERE client_id='client-a';`).Scan(&got); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(started) {
		t.Errorf("started_at = %v, want immutable %v", got, started)
	}
}

func TestListActiveMarksSelf(t *testing.T) {
	st := newTestStore(t)
	a := newDetachedService(st, "client-a", time.Now())
	b := newDetachedService(st, "client-b", time.Now())
	a.Heartbeat()
	b.Heartbeat()

	clients, err := a.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("clients = %d, want 2", len(clients))
	}
	selfSeen := 0
	for _, c := range clients {
		if c.IsSelf {
			selfSeen++
			if c.ClientID != "client-a" {
				t.Errorf("IsSelf on %s, want client-a", c.ClientID)
			}
		}
	}
	if selfSeen != 1 {
		t.Errorf("IsSelf set on %d rows, want 1", selfSeen)
	}
}

func TestDetachedHeartbeatIsNoOp(t *testing.T) {
	s := New()
	s.Heartbeat() // must not panic or error without an attached store
	if s.CanWriteBackups() {
		t.Error("detached service must not claim leadership")
	}
	clients, err := s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive detached: %v", err)
	}
	if clients != nil {
		t.Errorf("ListActive detached = %v, want nil", clients)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	st := newTestStore(t)
	s := New()
	s.SetIntervals(50*time.Millisecond, time.Second)

	s.Start(st)
	defer s.Stop(true)

	// a second Start must fully replace the previous attachment
	s.Start(st)

	deadline := time.After(2 * time.Second)
	for {
		clients, err := Active(context.Background(), st, time.Now(), time.Second)
		if err != nil {
			t.Fatalf("Active: %v", err)
		}
		if len(clients) == 1 && clients[0].IsLeader {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("election did not converge, clients=%v", clients)
		case <-time.After(20 * time.Millisecond):
		}
	}

	s.Stop(true)
	clients, err := Active(context.Background(), st, time.Now(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(clients) != 0 {
		t.Errorf("rows remain after stop: %v", clients)
	}
}
