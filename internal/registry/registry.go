// Package registry keeps the authoritative unit view: the latest systemd
// snapshot joined with stored metadata, swapped atomically on every change.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/unitdeck/internal/apperr"
	"github.com/starford/unitdeck/internal/checksum"
	"github.com/starford/unitdeck/internal/models"
)

// DefaultStaleAfter is the age after which a view is reported stale.
const DefaultStaleAfter = 30 * time.Second

// Event kinds passed to the EventCallback.
const (
	EventViewRefreshed   = "view.refreshed"
	EventUnitUpdated     = "unit.updated"
	EventMetadataUpdated = "metadata.updated"
	EventMetadataDeleted = "metadata.deleted"
)

// UnitReader is the part of the systemd reader the registry needs.
type UnitReader interface {
	ListUnits(ctx context.Context) ([]models.UnitSnapshot, error)
	GetUnit(ctx context.Context, name string) (models.UnitSnapshot, error)
	ValidName(name string) error
}

// MetadataStore is the part of the metadata store the registry needs.
type MetadataStore interface {
	ListAll(ctx context.Context) ([]models.UnitMetadata, error)
	MarkSeen(ctx context.Context, names []string, at time.Time) error
	Upsert(ctx context.Context, name string, fields models.MetadataFields) (models.UnitMetadata, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// EventCallback is invoked after the view changed. unit is empty for
// whole-view events.
type EventCallback func(kind, unit string)

// State is the freshness of the registry as a whole.
type State string

const (
	StateCold  State = "cold"
	StateFresh State = "fresh"
	StateStale State = "stale"
)

// Row is one unit of the unified view.
type Row struct {
	Name         string              `json:"name"`
	ActiveState  models.ActiveState  `json:"active_state"`
	SubState     string              `json:"sub_state"`
	EnabledState models.EnabledState `json:"enabled_state"`
	Description  string              `json:"description"`
	LoadState    string              `json:"load_state"`
	Favorite     bool                `json:"favorite"`
	Group        *string             `json:"group"`
	Note         *string             `json:"note"`
	Present      bool                `json:"present"`
}

// View is an immutable unified view. Rows are sorted by name.
type View struct {
	Rows     []Row     `json:"rows"`
	AsOf     time.Time `json:"as_of"`
	Checksum string    `json:"checksum"`
}

// RefreshResult reports the outcome of a full refresh. A failed listing is
// reported here rather than returned as an error.
type RefreshResult struct {
	OK      bool      `json:"ok"`
	State   State     `json:"state"`
	AsOf    time.Time `json:"as_of"`
	Units   int       `json:"units"`
	Reasons []string  `json:"reasons,omitempty"`
}

// Status summarises the registry for health and status endpoints.
type Status struct {
	State       State     `json:"state"`
	AsOf        time.Time `json:"as_of"`
	Units       int       `json:"units"`
	StaleAfter  string    `json:"stale_after"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// Registry merges live snapshots with metadata. Reads are lock-free; all
// writers (refreshes, targeted re-reads, metadata edits) hold mu while they
// build and swap the next view.
type Registry struct {
	reader     UnitReader
	store      MetadataStore
	logger     *slog.Logger
	now        func() time.Time
	staleAfter time.Duration
	onEvent    EventCallback

	view    atomic.Pointer[View]
	flight  singleflight.Group
	trigger chan struct{}

	mu          sync.Mutex
	live        map[string]models.UnitSnapshot
	metas       map[string]models.UnitMetadata
	lastAttempt time.Time
	lastErr     string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithEventCallback registers fn to be told about view changes.
func WithEventCallback(fn EventCallback) Option {
	return func(r *Registry) { r.onEvent = fn }
}

// New creates a cold Registry.
func New(reader UnitReader, store MetadataStore, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		reader:     reader,
		store:      store,
		logger:     logger,
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
		trigger:    make(chan struct{}, 1),
		live:       make(map[string]models.UnitSnapshot),
		metas:      make(map[string]models.UnitMetadata),
	}
	for _, o := range opts {
		o(r)
	}
	r.view.Store(&View{Rows: []Row{}})
	return r
}

// CurrentView returns the last built view. Callers must not modify it.
func (r *Registry) CurrentView() View {
	return *r.view.Load()
}

// Unit returns the row for name from the current view.
func (r *Registry) Unit(name string) (Row, error) {
	v := r.view.Load()
	i := sort.Search(len(v.Rows), func(i int) bool { return v.Rows[i].Name >= name })
	if i < len(v.Rows) && v.Rows[i].Name == name {
		return v.Rows[i], nil
	}
	return Row{}, fmt.Errorf("registry: %s: %w", name, apperr.ErrNotFound)
}

// State reports the freshness of the current view.
func (r *Registry) State() State {
	return r.stateOf(r.view.Load())
}

func (r *Registry) stateOf(v *View) State {
	switch {
	case v.AsOf.IsZero():
		return StateCold
	case r.now().Sub(v.AsOf) >= r.staleAfter:
		return StateStale
	default:
		return StateFresh
	}
}

// Status returns a summary of the registry.
func (r *Registry) Status() Status {
	v := r.view.Load()
	r.mu.Lock()
	lastAttempt, lastErr := r.lastAttempt, r.lastErr
	r.mu.Unlock()
	return Status{
		State:       r.stateOf(v),
		AsOf:        v.AsOf,
		Units:       len(v.Rows),
		StaleAfter:  r.staleAfter.String(),
		LastAttempt: lastAttempt,
		LastError:   lastErr,
	}
}

// Refresh re-reads every unit and all metadata and swaps in a new view.
// Concurrent callers share one in-flight refresh. On failure the previous
// view is kept and the result carries the reasons.
func (r *Registry) Refresh(ctx context.Context) RefreshResult {
	v, _, _ := r.flight.Do("refresh", func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx)), nil
	})
	return v.(RefreshResult)
}

func (r *Registry) refresh(ctx context.Context) RefreshResult {
	start := r.now()
	units, err := r.reader.ListUnits(ctx)
	if err != nil {
		return r.failed(start, fmt.Errorf("registry: list units: %w: %w", apperr.ErrRefresh, err))
	}

	units, reasons := r.dedupe(units)
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	seenAt := r.now()
	if err := r.store.MarkSeen(ctx, names, seenAt); err != nil {
		r.logger.Warn("mark seen failed", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	metas, err := r.store.ListAll(ctx)
	if err != nil {
		r.mu.Unlock()
		return r.failed(start, fmt.Errorf("registry: load metadata: %w", err))
	}
	r.live = make(map[string]models.UnitSnapshot, len(units))
	for _, u := range units {
		r.live[u.Name] = u
	}
	r.metas = make(map[string]models.UnitMetadata, len(metas))
	for _, m := range metas {
		r.metas[m.Name] = m
	}
	prev := r.view.Load()
	next := r.build(seenAt)
	r.view.Store(next)
	r.lastAttempt, r.lastErr = start, ""
	r.mu.Unlock()

	r.logger.Debug("registry refreshed",
		slog.Int("units", len(units)),
		slog.Int("rows", len(next.Rows)),
		slog.Duration("took", r.now().Sub(start)),
	)
	if next.Checksum != prev.Checksum {
		r.emit(EventViewRefreshed, "")
	}
	return RefreshResult{OK: true, State: r.stateOf(next), AsOf: next.AsOf, Units: len(next.Rows), Reasons: reasons}
}

func (r *Registry) failed(start time.Time, err error) RefreshResult {
	r.logger.Warn("refresh failed, serving previous view",
		slog.String("kind", string(apperr.KindOf(err))),
		slog.String("error", err.Error()),
	)
	r.mu.Lock()
	r.lastAttempt, r.lastErr = start, err.Error()
	r.mu.Unlock()
	v := r.view.Load()
	return RefreshResult{OK: false, State: r.stateOf(v), AsOf: v.AsOf, Units: len(v.Rows), Reasons: []string{err.Error()}}
}

// dedupe keeps the first snapshot of each name and collects the distinct
// per-unit parse errors.
func (r *Registry) dedupe(units []models.UnitSnapshot) ([]models.UnitSnapshot, []string) {
	seen := make(map[string]struct{}, len(units))
	reported := make(map[string]struct{})
	out := make([]models.UnitSnapshot, 0, len(units))
	var reasons []string
	for _, u := range units {
		if _, dup := seen[u.Name]; dup {
			continue
		}
		seen[u.Name] = struct{}{}
		out = append(out, u)
		if u.Err == nil {
			continue
		}
		msg := u.Err.Error()
		if _, ok := reported[msg]; ok {
			continue
		}
		reported[msg] = struct{}{}
		reasons = append(reasons, msg)
		r.logger.Warn("unit parsed with errors", slog.String("unit", u.Name), slog.String("error", msg))
	}
	return out, reasons
}

// RefreshUnit re-reads one unit and swaps a view with only that unit
// replaced. A unit systemd no longer knows is dropped from the live set. The
// row is keyed by the requested name even when systemd resolves it to
// another unit. A read that started before the current view was listed is
// discarded.
func (r *Registry) RefreshUnit(ctx context.Context, name string) (Row, error) {
	readAt := r.now()
	snap, err := r.reader.GetUnit(ctx, name)
	gone := errors.Is(err, apperr.ErrNotFound)
	if err != nil && !gone {
		return Row{}, fmt.Errorf("registry: refresh %s: %w", name, err)
	}

	r.mu.Lock()
	current := r.view.Load()
	if current.AsOf.After(readAt) {
		r.mu.Unlock()
		r.logger.Debug("discarded stale unit read", slog.String("unit", name))
		return r.Unit(name)
	}
	if gone {
		delete(r.live, name)
	} else {
		snap.Name = name
		r.live[name] = snap
	}
	r.view.Store(r.build(current.AsOf))
	r.mu.Unlock()

	r.emit(EventUnitUpdated, name)
	return r.Unit(name)
}

// UpdateMetadata writes fields through the store and rebuilds the view. A
// store failure leaves the view untouched.
func (r *Registry) UpdateMetadata(ctx context.Context, name string, fields models.MetadataFields) (models.UnitMetadata, error) {
	if err := r.reader.ValidName(name); err != nil {
		return models.UnitMetadata{}, err
	}
	r.mu.Lock()
	m, err := r.store.Upsert(ctx, name, fields)
	if err != nil {
		r.mu.Unlock()
		return models.UnitMetadata{}, err
	}
	if prev, ok := r.metas[name]; ok && m.LastSeen == nil {
		m.LastSeen = prev.LastSeen
	}
	r.metas[name] = m
	r.view.Store(r.build(r.view.Load().AsOf))
	r.mu.Unlock()

	r.emit(EventMetadataUpdated, name)
	return m, nil
}

// DeleteMetadata removes the stored metadata of name and rebuilds the view.
func (r *Registry) DeleteMetadata(ctx context.Context, name string) (bool, error) {
	if err := r.reader.ValidName(name); err != nil {
		return false, err
	}
	r.mu.Lock()
	deleted, err := r.store.Delete(ctx, name)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	delete(r.metas, name)
	r.view.Store(r.build(r.view.Load().AsOf))
	r.mu.Unlock()

	if deleted {
		r.emit(EventMetadataDeleted, name)
	}
	return deleted, nil
}

// build joins the live set with metadata. Caller holds mu.
func (r *Registry) build(asOf time.Time) *View {
	rows := make([]Row, 0, len(r.live)+len(r.metas))
	for name, u := range r.live {
		row := Row{
			Name:         name,
			ActiveState:  u.ActiveState,
			SubState:     u.SubState,
			EnabledState: u.EnabledState,
			Description:  u.Description,
			LoadState:    u.LoadState,
			Present:      true,
		}
		if m, ok := r.metas[name]; ok {
			row.Favorite, row.Group, row.Note = m.Favorite, m.Group, m.Note
		}
		rows = append(rows, row)
	}
	for name, m := range r.metas {
		if _, ok := r.live[name]; ok {
			continue
		}
		rows = append(rows, Row{
			Name:         name,
			ActiveState:  models.ActiveStateUnknown,
			EnabledState: models.EnabledStateUnknown,
			Favorite:     m.Favorite,
			Group:        m.Group,
			Note:         m.Note,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	sum, err := checksum.JSON(rows)
	if err != nil {
		r.logger.Error("view checksum failed", slog.String("error", err.Error()))
	}
	return &View{Rows: rows, AsOf: asOf, Checksum: sum}
}

func (r *Registry) emit(kind, unit string) {
	if r.onEvent != nil {
		r.onEvent(kind, unit)
	}
}

// Trigger asks Run for an immediate refresh. Requests made while one is
// already queued are coalesced.
func (r *Registry) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes immediately, then on every tick and on every Trigger, until
// ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("registry loop started", slog.Duration("interval", interval))
	r.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("registry loop stopped")
			return nil
		case <-ticker.C:
			r.Refresh(ctx)
		case <-r.trigger:
			r.Refresh(ctx)
		}
	}
}
