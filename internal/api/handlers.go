package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/unitdeck/internal/dispatcher"
	"github.com/starford/unitdeck/internal/hostinfo"
	"github.com/starford/unitdeck/internal/metadata"
	"github.com/starford/unitdeck/internal/models"
	"github.com/starford/unitdeck/internal/registry"
	"github.com/starford/unitdeck/internal/systemd"
)

const maxBodyBytes = 1 << 20

// Deps are the components the API serves.
type Deps struct {
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Units      *systemd.Reader
	Store      *metadata.Store
	Host       *hostinfo.Reader
}

// Handler holds API route handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// unitName extracts the unit name from the URL. Escaped characters such as
// the backslash of "\x2d" sequences are decoded.
func unitName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListServices handles GET /api/services.
//
//	@Summary		List every unit with its metadata
//	@Tags			services
//	@Produce		json
//	@Param			If-None-Match	header		string	false	"View checksum from a previous ETag"
//	@Success		200				{array}		ServiceRow
//	@Success		304				"View unchanged"
//	@Security		BearerAuth
//	@Router			/services [get]
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	v := h.Registry.CurrentView()
	w.Header().Set("X-View-State", string(h.Registry.State()))
	if !v.AsOf.IsZero() {
		w.Header().Set("X-View-As-Of", v.AsOf.UTC().Format(time.RFC3339Nano))
	}
	if v.Checksum != "" {
		etag := `"` + v.Checksum + `"`
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match == etag || strings.Trim(match, `"`) == v.Checksum {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeJSON(w, http.StatusOK, v.Rows)
}

// GetService handles GET /api/services/{name}.
//
//	@Summary		Get one unit from the current view
//	@Tags			services
//	@Produce		json
//	@Param			name	path		string	true	"Unit name"
//	@Success		200		{object}	ServiceRow
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/services/{name} [get]
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	row, err := h.Registry.Unit(unitName(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Refresh handles POST /api/refresh. A failed listing is reported in the
// body with ok=false, not as an HTTP error.
//
//	@Summary		Refresh the unit view now
//	@Tags			services
//	@Produce		json
//	@Success		200	{object}	registry.RefreshResult
//	@Security		BearerAuth
//	@Router			/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.Refresh(r.Context()))
}

// RegistryStatus handles GET /api/status.
//
//	@Summary		Registry freshness
//	@Tags			services
//	@Produce		json
//	@Success		200	{object}	registry.Status
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) RegistryStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.Status())
}

// UnitStatus handles GET /api/services/{name}/status.
//
//	@Summary		Live status of one unit, with process details
//	@Tags			services
//	@Produce		json
//	@Param			name	path		string	true	"Unit name"
//	@Success		200		{object}	StatusResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/services/{name}/status [get]
func (h *Handler) UnitStatus(w http.ResponseWriter, r *http.Request) {
	unit, details, err := h.Units.Status(r.Context(), unitName(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Unit: unit, Details: details})
}

// UnitLogs handles GET /api/services/{name}/logs.
//
//	@Summary		Recent journal entries of one unit
//	@Tags			services
//	@Produce		json
//	@Param			name	path		string	true	"Unit name"
//	@Param			lines	query		int		false	"Number of entries (default 50, max 5000)"
//	@Success		200		{object}	LogsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/services/{name}/logs [get]
func (h *Handler) UnitLogs(w http.ResponseWriter, r *http.Request) {
	lines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "lines must be a positive integer")
			return
		}
		lines = n
	}
	entries, err := h.Units.Logs(r.Context(), unitName(r), lines)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: entries})
}

// UnitJournal handles GET /api/services/{name}/journal.
//
//	@Summary		Full journal of one unit
//	@Tags			services
//	@Produce		json
//	@Param			name	path		string	true	"Unit name"
//	@Success		200		{object}	JournalResponse
//	@Security		BearerAuth
//	@Router			/services/{name}/journal [get]
func (h *Handler) UnitJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Units.Journal(r.Context(), unitName(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, JournalResponse{Journal: entries})
}

// Control handles POST /api/services/{name}/{action}.
//
//	@Summary		Start, stop, restart, enable or disable a unit
//	@Tags			control
//	@Produce		json
//	@Param			name	path		string	true	"Unit name"
//	@Param			action	path		string	true	"Action"	Enums(start, stop, restart, enable, disable)
//	@Success		200		{object}	ActionOutcome
//	@Failure		400		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/services/{name}/{action} [post]
func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "action")
	action, ok := models.ParseAction(raw)
	if !ok {
		badRequest(w, fmt.Sprintf("unknown action %q", raw))
		return
	}
	out, err := h.Dispatcher.Execute(r.Context(), unitName(r), action)
	if err != nil {
		var detail any
		if out.Accepted {
			detail = out
		}
		writeError(w, r, err, detail)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Operations handles GET /api/operations.
//
//	@Summary		Control actions in flight
//	@Tags			control
//	@Produce		json
//	@Success		200	{object}	OperationsResponse
//	@Security		BearerAuth
//	@Router			/operations [get]
func (h *Handler) Operations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, OperationsResponse{Operations: h.Dispatcher.Pending()})
}

// UpdateMetadata handles PUT /api/services/{name}/metadata.
//
//	@Summary		Update favorite, group or note of a unit
//	@Tags			metadata
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string			true	"Unit name"
//	@Param			body	body		MetadataRequest	true	"Fields to change"
//	@Success		200		{object}	models.UnitMetadata
//	@Failure		400		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/services/{name}/metadata [put]
func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req MetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	m, err := h.Registry.UpdateMetadata(r.Context(), unitName(r), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMetadata handles DELETE /api/services/{name}/metadata.
//
//	@Summary		Forget the stored metadata of a unit
//	@Tags			metadata
//	@Produce		json
//	@Param			name	path		string	true	"Unit name"
//	@Success		200		{object}	DeleteMetadataResponse
//	@Security		BearerAuth
//	@Router			/services/{name}/metadata [delete]
func (h *Handler) DeleteMetadata(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Registry.DeleteMetadata(r.Context(), unitName(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, DeleteMetadataResponse{Deleted: deleted})
}

// ToggleStates handles GET /api/toggle-states.
//
//	@Summary		Expanded UI panels per unit
//	@Tags			metadata
//	@Produce		json
//	@Success		200	{object}	map[string]map[string]bool
//	@Security		BearerAuth
//	@Router			/toggle-states [get]
func (h *Handler) ToggleStates(w http.ResponseWriter, r *http.Request) {
	toggles, err := h.Store.Toggles(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toggles)
}

// SetToggle handles POST /api/services/{name}/toggle.
//
//	@Summary		Remember whether a UI panel is expanded
//	@Tags			metadata
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string			true	"Unit name"
//	@Param			body	body		ToggleRequest	true	"Toggle state"
//	@Success		200		{object}	models.UnitToggle
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/services/{name}/toggle [post]
func (h *Handler) SetToggle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ToggleType == "" || req.IsExpanded == nil {
		badRequest(w, "toggle_type and is_expanded are required")
		return
	}
	name := unitName(r)
	if err := h.Units.ValidName(name); err != nil {
		writeError(w, r, err, nil)
		return
	}
	t, err := h.Store.SetToggle(r.Context(), name, req.ToggleType, *req.IsExpanded)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DiskUsage handles GET /api/disk-usage.
//
//	@Summary		Mounted filesystems, fullest first
//	@Tags			host
//	@Produce		json
//	@Success		200	{object}	DiskUsageResponse
//	@Security		BearerAuth
//	@Router			/disk-usage [get]
func (h *Handler) DiskUsage(w http.ResponseWriter, r *http.Request) {
	disks, err := h.Host.DiskUsage(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, DiskUsageResponse{Disks: disks})
}

// RAMUsage handles GET /api/ram-usage.
//
//	@Summary		Host memory usage
//	@Tags			host
//	@Produce		json
//	@Success		200	{object}	hostinfo.Memory
//	@Security		BearerAuth
//	@Router			/ram-usage [get]
func (h *Handler) RAMUsage(w http.ResponseWriter, r *http.Request) {
	mem, err := h.Host.MemoryUsage()
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}
