package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client provides HTTP client functionality to communicate with an
// s1control daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8732/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new s1control API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8732/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var st Status
	if err := c.doGet(ctx, "/status", &st); err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// Status returns the daemon's database and presence state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.doGet(ctx, "/status", &st)
	return st, err
}

// Clients lists all active workstations registered in the shared database.
func (c *Client) Clients(ctx context.Context) ([]ClientInfo, error) {
	var clients []ClientInfo
	err := c.doGet(ctx, "/clients", &clients)
	return clients, err
}

// Undoable reports whether incident has a command that can be reversed.
func (c *Client) Undoable(ctx context.Context, incidentID string) (bool, error) {
	var resp struct {
		Undoable bool `json:"undoable"`
	}
	path := "/undoable?incident=" + url.QueryEscape(incidentID)
	if err := c.doGet(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Undoable, nil
}

// Backups lists the snapshots next to the shared database file.
func (c *Client) Backups(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot
	err := c.doGet(ctx, "/backups", &snaps)
	return snaps, err
}

// MoveUnit reassigns a unit to another section.
func (c *Client) MoveUnit(ctx context.Context, req MoveUnitRequest) error {
	c.logger.Debug("Moving unit", "incident", req.IncidentID, "unit", req.UnitID, "target", req.TargetSectionID)
	return c.doPost(ctx, "/move/unit", req, nil)
}

// MoveVehicle reassigns a vehicle to another section.
func (c *Client) MoveVehicle(ctx context.Context, req MoveVehicleRequest) error {
	c.logger.Debug("Moving vehicle", "incident", req.IncidentID, "vehicle", req.VehicleID, "target", req.TargetSectionID)
	return c.doPost(ctx, "/move/vehicle", req, nil)
}

// Undo reverses the most recent not-yet-undone command of an incident.
// It returns false when the command log is empty.
func (c *Client) Undo(ctx context.Context, req UndoRequest) (bool, error) {
	var resp struct {
		Undone bool `json:"undone"`
	}
	if err := c.doPost(ctx, "/undo", req, &resp); err != nil {
		return false, err
	}
	return resp.Undone, nil
}

// RunBackup triggers an immediate snapshot and returns its path.
func (c *Client) RunBackup(ctx context.Context) (string, error) {
	var resp struct {
		Path string `json:"path"`
	}
	if err := c.doPost(ctx, "/backup/run", nil, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", req.URL.String())
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
