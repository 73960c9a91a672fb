package client

import "time"

// Status summarizes the daemon's view of the shared database and its own
// presence registration.
type Status struct {
	Database      string `json:"database"`
	Healthy       bool   `json:"healthy"`
	ClientID      string `json:"client_id"`
	Leader        bool   `json:"leader"`
	ActiveClients int    `json:"active_clients"`
}

// ClientInfo is one registered workstation as seen in the presence table.
type ClientInfo struct {
	ClientID     string    `json:"client_id"`
	ComputerName string    `json:"computer_name"`
	IPAddress    string    `json:"ip_address"`
	LastSeen     time.Time `json:"last_seen"`
	StartedAt    time.Time `json:"started_at"`
	IsLeader     bool      `json:"is_leader"`
	IsSelf       bool      `json:"is_self"`
}

// MoveUnitRequest reassigns a unit to another section.
type MoveUnitRequest struct {
	IncidentID      string `json:"incident_id"`
	UnitID          string `json:"unit_id"`
	TargetSectionID string `json:"target_section_id"`
	Comment         string `json:"comment,omitempty"`
	Actor           string `json:"actor,omitempty"`
}

// MoveVehicleRequest reassigns a vehicle to another section.
type MoveVehicleRequest struct {
	IncidentID      string `json:"incident_id"`
	VehicleID       string `json:"vehicle_id"`
	TargetSectionID string `json:"target_section_id"`
	Actor           string `json:"actor,omitempty"`
}

// UndoRequest reverses the most recent not-yet-undone command of an incident.
type UndoRequest struct {
	IncidentID string `json:"incident_id"`
	Actor      string `json:"actor,omitempty"`
}

// Snapshot is one backup file next to the shared database.
type Snapshot struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
