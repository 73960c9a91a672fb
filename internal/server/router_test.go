package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wattnpapa/S1-Control-sub000/internal/backup"
	"github.com/wattnpapa/S1-Control-sub000/internal/command"
	"github.com/wattnpapa/S1-Control-sub000/internal/presence"
	"github.com/wattnpapa/S1-Control-sub000/internal/store"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "incident.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	seed := []string{
		`INSERT INTO incidents(id, name, archived, created_at) VALUES('einsatz-1', 'Hochwasser Sued', 0, '2026-08-30 10:00:00');`,
		`INSERT INTO sections(id, incident_id, name) VALUES('sec-a', 'einsatz-1', 'Abschnitt A');`,
		`INSERT INTO sections(id, incident_id, name) VALUES('sec-b', 'einsatz-1', 'Abschnitt B');`,
		`INSERT INTO units(id, incident_id, name, strength, section_id) VALUES('unit-1', 'einsatz-1', 'TZ Basis', '1/2/9/12', 'sec-a');`,
		`INSERT INTO vehicles(id, incident_id, name, callsign, section_id) VALUES('veh-1', 'einsatz-1', 'MTW', 'Heros 84/21', 'sec-a');`,
	}
	for _, q := range seed {
		if _, err := st.DB().ExecContext(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	p := presence.New()
	p.Start(st)
	t.Cleanup(func() { p.Stop(true) })

	return Service{
		Store:    st,
		Engine:   command.NewEngine(st),
		Presence: p,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "/api").Handler()

	w := doJSON(t, h, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code %d: %s", w.Code, w.Body.String())
	}
	var resp statusResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Healthy {
		t.Fatal("expected healthy store")
	}
	if !resp.Leader {
		t.Fatal("sole client should be leader")
	}
	if resp.ActiveClients != 1 {
		t.Fatalf("active clients = %d, want 1", resp.ActiveClients)
	}
	if resp.ClientID != svc.Presence.ClientID() {
		t.Fatal("client id mismatch")
	}
}

func TestClientsEndpoint(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "").Handler()

	w := doJSON(t, h, http.MethodGet, "/clients", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code %d: %s", w.Code, w.Body.String())
	}
	var clients []presence.Client
	if err := json.Unmarshal(w.Body.Bytes(), &clients); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clients) != 1 || !clients[0].IsSelf {
		t.Fatalf("unexpected client list: %+v", clients)
	}
}

func TestMoveUnitAndUndoFlow(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "/api").Handler()

	w := doJSON(t, h, http.MethodPost, "/api/move/unit",
		`{"incident_id":"einsatz-1","unit_id":"unit-1","target_section_id":"sec-b","actor":"S1 Tester"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("move code %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/api/undoable?incident=einsatz-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("undoable code %d", w.Code)
	}
	var ur undoableResp
	if err := json.Unmarshal(w.Body.Bytes(), &ur); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ur.Undoable {
		t.Fatal("expected undoable after move")
	}

	w = doJSON(t, h, http.MethodPost, "/api/undo",
		`{"incident_id":"einsatz-1","actor":"S1 Tester"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("undo code %d: %s", w.Code, w.Body.String())
	}
	var resp undoResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Undone {
		t.Fatal("expected undo to apply")
	}

	var sec string
	err := svc.Store.DB().QueryRowContext(context.Background(),
		`SELECT section_id FROM units WHERE id='unit-1';`).Scan(&sec)
	if err != nil {
		t.Fatalf("query unit: %v", err)
	}
	if sec != "sec-a" {
		t.Fatalf("unit section = %q, want sec-a", sec)
	}
}

func TestMoveVehicleEndpoint(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "").Handler()

	w := doJSON(t, h, http.MethodPost, "/move/vehicle",
		`{"incident_id":"einsatz-1","vehicle_id":"veh-1","target_section_id":"sec-b","actor":"S1 Tester"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("move code %d: %s", w.Code, w.Body.String())
	}
}

func TestMoveUnitValidation(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "").Handler()

	w := doJSON(t, h, http.MethodPost, "/move/unit", `{"unit_id":"unit-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code %d, want 400", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/move/unit", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code %d, want 400", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "").Handler()

	// unknown subject -> 404
	w := doJSON(t, h, http.MethodPost, "/move/unit",
		`{"incident_id":"einsatz-1","unit_id":"ghost","target_section_id":"sec-b"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code %d, want 404: %s", w.Code, w.Body.String())
	}

	// archived incident -> 409
	if _, err := svc.Store.DB().ExecContext(context.Background(),
		`UPDATE incidents SET archived=1 WHERE id='einsatz-1';`); err != nil {
		t.Fatalf("archive: %v", err)
	}
	w = doJSON(t, h, http.MethodPost, "/undo", `{"incident_id":"einsatz-1"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("code %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestBackupEndpoints(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "/api").Handler()

	w := doJSON(t, h, http.MethodGet, "/api/backups", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list code %d", w.Code)
	}
	var snaps []backup.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("expected empty snapshot list, got %d", len(snaps))
	}

	w = doJSON(t, h, http.MethodPost, "/api/backup/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run code %d: %s", w.Code, w.Body.String())
	}
	var rr backupRunResp
	if err := json.Unmarshal(w.Body.Bytes(), &rr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Path == "" {
		t.Fatal("expected snapshot path")
	}

	w = doJSON(t, h, http.MethodGet, "/api/backups", "")
	if err := json.Unmarshal(w.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snaps))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(svc, "/api").Handler()

	w := doJSON(t, h, http.MethodGet, "/api/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics code %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatal("expected exposition body")
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"/":      "",
		"api":    "/api",
		"/api":   "/api",
		"/api/":  "/api",
		" /api ": "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
