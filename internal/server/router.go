package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wattnpapa/S1-Control-sub000/internal/backup"
	"github.com/wattnpapa/S1-Control-sub000/internal/command"
	"github.com/wattnpapa/S1-Control-sub000/internal/metrics"
	"github.com/wattnpapa/S1-Control-sub000/internal/presence"
	"github.com/wattnpapa/S1-Control-sub000/internal/store"
)

// Router provides embeddable HTTP handlers for the coordination core.
// Endpoints:
//   GET  {basePath}/status        store health plus this client's presence view
//   GET  {basePath}/clients       active clients from the shared presence table
//   GET  {basePath}/undoable      query: incident=...
//   GET  {basePath}/backups       snapshots next to the database file
//   POST {basePath}/move/unit     body: move request JSON
//   POST {basePath}/move/vehicle  body: move request JSON
//   POST {basePath}/undo          body: undo request JSON
//   POST {basePath}/backup/run    immediate snapshot, bypassing leader gating
//   GET  {basePath}/metrics       Prometheus text exposition
// basePath may be empty or start with '/'; no trailing slash.

// Service bundles the components the router operates on. Backup may be nil
// when periodic snapshotting is disabled.
type Service struct {
	Store    *store.Store
	Engine   *command.Engine
	Presence *presence.Service
	Backup   *backup.Coordinator
}

type Router struct {
	svc      Service
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/move/unit, etc.
func NewRouter(svc Service, basePath string) *Router {
	return &Router{svc: svc, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/clients", r.handleClients)
	group.GET("/undoable", r.handleUndoable)
	group.GET("/backups", r.handleBackups)
	group.POST("/move/unit", r.handleMoveUnit)
	group.POST("/move/vehicle", r.handleMoveVehicle)
	group.POST("/undo", r.handleUndo)
	group.POST("/backup/run", r.handleBackupRun)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Shutdown or Close on the returned server to stop it.
func NewServer(addr, basePath string, svc Service) (*http.Server, error) {
	r := NewRouter(svc, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Database      string `json:"database"`
	Healthy       bool   `json:"healthy"`
	ClientID      string `json:"client_id"`
	Leader        bool   `json:"leader"`
	ActiveClients int    `json:"active_clients"`
}

type moveUnitReq struct {
	command.MoveUnit
	Actor string `json:"actor"`
}

type moveVehicleReq struct {
	command.MoveVehicle
	Actor string `json:"actor"`
}

type undoReq struct {
	IncidentID string `json:"incident_id"`
	Actor      string `json:"actor"`
}

type undoResp struct {
	Undone bool `json:"undone"`
}

type undoableResp struct {
	Undoable bool `json:"undoable"`
}

type backupRunResp struct {
	Path string `json:"path"`
}

func (r *Router) handleStatus(c *gin.Context) {
	healthy := r.svc.Store.Ping(c.Request.Context()) == nil
	clients, err := r.svc.Presence.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, statusResp{
		Database:      r.svc.Store.Path(),
		Healthy:       healthy,
		ClientID:      r.svc.Presence.ClientID(),
		Leader:        r.svc.Presence.CanWriteBackups(),
		ActiveClients: len(clients),
	})
}

func (r *Router) handleClients(c *gin.Context) {
	clients, err := r.svc.Presence.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, clients)
}

func (r *Router) handleUndoable(c *gin.Context) {
	incident := c.Query("incident")
	if incident == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "incident query param required"})
		return
	}
	ok, err := r.svc.Engine.HasUndoable(c.Request.Context(), incident)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, undoableResp{Undoable: ok})
}

func (r *Router) handleBackups(c *gin.Context) {
	snaps, err := backup.List(r.svc.Store.Path())
	if err != nil {
		writeError(c, err)
		return
	}
	if snaps == nil {
		snaps = []backup.Snapshot{}
	}
	writeJSON(c, http.StatusOK, snaps)
}

func (r *Router) handleMoveUnit(c *gin.Context) {
	var req moveUnitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.IncidentID == "" || req.UnitID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "incident_id and unit_id required"})
		return
	}
	if err := r.svc.Engine.MoveUnit(c.Request.Context(), req.MoveUnit, actorFrom(req.Actor)); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleMoveVehicle(c *gin.Context) {
	var req moveVehicleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.IncidentID == "" || req.VehicleID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "incident_id and vehicle_id required"})
		return
	}
	if err := r.svc.Engine.MoveVehicle(c.Request.Context(), req.MoveVehicle, actorFrom(req.Actor)); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUndo(c *gin.Context) {
	var req undoReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.IncidentID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "incident_id required"})
		return
	}
	undone, err := r.svc.Engine.UndoLast(c.Request.Context(), req.IncidentID, actorFrom(req.Actor))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, undoResp{Undone: undone})
}

func (r *Router) handleBackupRun(c *gin.Context) {
	path, err := backup.BackupNow(r.svc.Store.Path())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, backupRunResp{Path: path})
}

func actorFrom(name string) command.Actor {
	if name == "" {
		name = "api"
	}
	return command.Actor{Name: name}
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var unsupported *command.UnsupportedCommandError
	var unavailable *store.UnavailableError
	switch {
	case errors.Is(err, command.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, command.ErrArchived):
		return http.StatusConflict
	case errors.Is(err, backup.ErrLocked):
		return http.StatusConflict
	case errors.As(err, &unsupported):
		return http.StatusNotImplemented
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
