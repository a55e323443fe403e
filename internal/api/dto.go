package api

import (
	"github.com/starford/unitdeck/internal/dispatcher"
	"github.com/starford/unitdeck/internal/hostinfo"
	"github.com/starford/unitdeck/internal/models"
	"github.com/starford/unitdeck/internal/registry"
)

// ServiceRow is one row of the unified view (aliased from the registry).
type ServiceRow = registry.Row

// ActionOutcome is the response of a control action (aliased from the dispatcher).
type ActionOutcome = dispatcher.Outcome

// MetadataRequest is the body of a metadata update. Omitted fields are left
// unchanged; an empty group or note clears it.
type MetadataRequest = models.MetadataFields

// ToggleRequest is the body of a toggle update.
type ToggleRequest struct {
	ToggleType string `json:"toggle_type" example:"logs" validate:"required"`
	IsExpanded *bool  `json:"is_expanded" example:"true" validate:"required"`
}

// DeleteMetadataResponse reports whether a metadata record existed.
type DeleteMetadataResponse struct {
	Deleted bool `json:"deleted"`
}

// StatusResponse is the live status of one unit.
type StatusResponse struct {
	Unit    models.UnitSnapshot `json:"unit" validate:"required"`
	Details models.UnitDetails  `json:"details" validate:"required"`
}

// LogsResponse wraps recent journal entries.
type LogsResponse struct {
	Logs []map[string]any `json:"logs" validate:"required"`
}

// JournalResponse wraps a unit's full journal.
type JournalResponse struct {
	Journal []map[string]any `json:"journal" validate:"required"`
}

// OperationsResponse lists control actions in flight.
type OperationsResponse struct {
	Operations []models.PendingOperation `json:"operations" validate:"required"`
}

// DiskUsageResponse lists mounted filesystems.
type DiskUsageResponse struct {
	Disks []hostinfo.Disk `json:"disks" validate:"required"`
}
