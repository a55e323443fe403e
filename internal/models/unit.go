// Package models defines the domain types for the console.
package models

import (
	"strings"
	"time"
)

// ActiveState is the normalised systemd ActiveState of a unit.
type ActiveState string

const (
	ActiveStateActive       ActiveState = "active"
	ActiveStateInactive     ActiveState = "inactive"
	ActiveStateFailed       ActiveState = "failed"
	ActiveStateActivating   ActiveState = "activating"
	ActiveStateDeactivating ActiveState = "deactivating"
	ActiveStateUnknown      ActiveState = "unknown"
)

// ParseActiveState maps a raw systemd value onto the closed set above.
// "reloading" counts as activating; anything unrecognised is unknown.
func ParseActiveState(raw string) ActiveState {
	switch s := ActiveState(strings.TrimSpace(raw)); s {
	case ActiveStateActive, ActiveStateInactive, ActiveStateFailed,
		ActiveStateActivating, ActiveStateDeactivating:
		return s
	case "reloading":
		return ActiveStateActivating
	default:
		return ActiveStateUnknown
	}
}

// EnabledState is the normalised unit-file state of a unit.
type EnabledState string

const (
	EnabledStateEnabled  EnabledState = "enabled"
	EnabledStateDisabled EnabledState = "disabled"
	EnabledStateStatic   EnabledState = "static"
	EnabledStateMasked   EnabledState = "masked"
	EnabledStateUnknown  EnabledState = "unknown"
)

// ParseEnabledState maps a raw UnitFileState onto the closed set above.
func ParseEnabledState(raw string) EnabledState {
	switch strings.TrimSpace(raw) {
	case "enabled", "enabled-runtime", "linked", "linked-runtime":
		return EnabledStateEnabled
	case "disabled":
		return EnabledStateDisabled
	case "static", "indirect", "generated", "alias", "transient":
		return EnabledStateStatic
	case "masked", "masked-runtime":
		return EnabledStateMasked
	default:
		return EnabledStateUnknown
	}
}

// UnitSnapshot is the live state of one unit at one refresh instant.
type UnitSnapshot struct {
	Name         string       `json:"name"`
	ActiveState  ActiveState  `json:"active_state"`
	SubState     string       `json:"sub_state"`
	EnabledState EnabledState `json:"enabled_state"`
	Description  string       `json:"description"`
	LoadState    string       `json:"load_state"`

	// Err is set when this unit's output could not be parsed cleanly.
	Err error `json:"-"`
}

// UnitDetails carries the optional process information of a running unit.
type UnitDetails struct {
	MainPID     int        `json:"main_pid,omitempty"`
	MemoryBytes uint64     `json:"memory_bytes,omitempty"`
	Memory      string     `json:"memory,omitempty"`
	ActiveSince *time.Time `json:"active_since,omitempty"`
	Uptime      string     `json:"uptime,omitempty"`
}

// UnitMetadata is the operator-authored annotation of a unit name.
type UnitMetadata struct {
	Name      string     `json:"name" yaml:"name"`
	Favorite  bool       `json:"favorite" yaml:"favorite"`
	Group     *string    `json:"group" yaml:"group,omitempty"`
	Note      *string    `json:"note" yaml:"note,omitempty"`
	LastSeen  *time.Time `json:"last_seen" yaml:"last_seen,omitempty"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}

// UnitToggle remembers whether a UI panel of a unit was left expanded.
type UnitToggle struct {
	Name      string    `json:"name" yaml:"name"`
	Type      string    `json:"toggle_type" yaml:"toggle_type"`
	Expanded  bool      `json:"is_expanded" yaml:"is_expanded"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// MetadataFields is a partial metadata update. Nil fields are left untouched;
// an empty Group or Note clears the stored value.
type MetadataFields struct {
	Favorite *bool   `json:"favorite,omitempty"`
	Group    *string `json:"group,omitempty"`
	Note     *string `json:"note,omitempty"`
}

// Empty reports whether the update changes nothing.
func (f MetadataFields) Empty() bool {
	return f.Favorite == nil && f.Group == nil && f.Note == nil
}

// Action is a control verb understood by systemctl.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

// Actions lists every supported action.
var Actions = []Action{ActionStart, ActionStop, ActionRestart, ActionEnable, ActionDisable}

// ParseAction validates raw against the supported actions.
func ParseAction(raw string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == raw {
			return a, true
		}
	}
	return "", false
}

// PendingOperation exists while a control command for Unit is running.
type PendingOperation struct {
	ID        string    `json:"id"`
	Unit      string    `json:"unit"`
	Action    Action    `json:"action"`
	StartedAt time.Time `json:"started_at"`
}
