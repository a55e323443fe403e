// Package dispatcher runs control actions against units, allowing at most
// one outstanding action per unit.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/unitdeck/internal/apperr"
	"github.com/starford/unitdeck/internal/executor"
	"github.com/starford/unitdeck/internal/models"
	"github.com/starford/unitdeck/internal/registry"
)

// Event kinds passed to the EventCallback.
const (
	EventOperationStarted  = "operation.started"
	EventOperationFinished = "operation.finished"
)

// Rejection and failure reasons reported in an Outcome.
const (
	ReasonInProgress = "operation in progress"
	ReasonTimedOut   = "command timed out"
)

// Controller validates unit names and builds control command lines.
type Controller interface {
	ValidName(name string) error
	ControlArgv(action models.Action, name string) []string
}

// UnitRefresher re-reads a single unit after a command finished.
type UnitRefresher interface {
	RefreshUnit(ctx context.Context, name string) (registry.Row, error)
}

// Outcome is the result of one Execute call. Result holds the exit status
// and output of the command; Observed is the unit as re-read afterwards.
// The two are reported independently: a zero exit does not imply the unit
// reached the requested state.
type Outcome struct {
	Accepted  bool                     `json:"accepted"`
	Result    *executor.Result         `json:"result"`
	Reason    string                   `json:"reason,omitempty"`
	Kind      apperr.Kind              `json:"kind,omitempty"`
	Operation *models.PendingOperation `json:"operation,omitempty"`
	Observed  *registry.Row            `json:"observed,omitempty"`
}

// Dispatcher serialises control actions per unit. Distinct units never wait
// on each other; the mutex only guards the pending map.
type Dispatcher struct {
	run       executor.Runner
	ctl       Controller
	refresher UnitRefresher
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
	onEvent   func(kind, unit string)

	mu      sync.Mutex
	pending map[string]models.PendingOperation
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides executor.DefaultControlTimeout.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithClock overrides the time source for StartedAt.
func WithClock(now func() time.Time) Option {
	return func(dp *Dispatcher) { dp.now = now }
}

// WithEventCallback registers fn to be told when operations start and finish.
func WithEventCallback(fn func(kind, unit string)) Option {
	return func(dp *Dispatcher) { dp.onEvent = fn }
}

// New creates a Dispatcher.
func New(run executor.Runner, ctl Controller, refresher UnitRefresher, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		run:       run,
		ctl:       ctl,
		refresher: refresher,
		logger:    logger,
		timeout:   executor.DefaultControlTimeout,
		now:       time.Now,
		pending:   make(map[string]models.PendingOperation),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Execute runs action against unit. A unit that already has an action in
// flight is rejected immediately with Accepted=false. A command that times
// out yields an accepted Outcome together with an error wrapping
// apperr.ErrCommandTimeout. Cancelling ctx does not stop a command once it
// was accepted; only the control timeout does.
func (d *Dispatcher) Execute(ctx context.Context, unit string, action models.Action) (Outcome, error) {
	if _, ok := models.ParseAction(string(action)); !ok {
		return Outcome{}, fmt.Errorf("dispatch: action %q: %w", action, apperr.ErrInvalidRequest)
	}
	if err := d.ctl.ValidName(unit); err != nil {
		return Outcome{}, err
	}

	op, ok := d.acquire(unit, action)
	if !ok {
		d.logger.Info("control rejected", slog.String("unit", unit), slog.String("action", string(action)))
		return Outcome{Accepted: false, Reason: ReasonInProgress, Kind: apperr.KindOperationInProgress}, nil
	}
	d.emit(EventOperationStarted, unit)

	ctx = context.WithoutCancel(ctx)
	res, err := d.run.Run(ctx, d.ctl.ControlArgv(action, unit), d.timeout)

	d.release(unit)
	d.emit(EventOperationFinished, unit)

	out := Outcome{Accepted: true, Result: &res, Operation: &op}
	if row, rerr := d.refresher.RefreshUnit(ctx, unit); rerr == nil {
		out.Observed = &row
	} else {
		d.logger.Warn("re-read after control failed", slog.String("unit", unit), slog.String("error", rerr.Error()))
	}

	if err != nil {
		out.Kind = apperr.KindOf(err)
		out.Reason = err.Error()
		var te *executor.TimeoutError
		if errors.As(err, &te) {
			out.Reason = ReasonTimedOut
		}
		d.logger.Warn("control failed",
			slog.String("unit", unit),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		return out, fmt.Errorf("dispatch: %s %s: %w", action, unit, err)
	}

	if !res.Success() {
		out.Reason = fmt.Sprintf("exit status %d", res.ExitCode)
		if msg := res.Output(); msg != "" {
			out.Reason += ": " + msg
		}
	}
	d.logger.Info("control finished",
		slog.String("unit", unit),
		slog.String("action", string(action)),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("took", d.now().Sub(op.StartedAt)),
	)
	return out, nil
}

// Pending returns the operations in flight, oldest first.
func (d *Dispatcher) Pending() []models.PendingOperation {
	d.mu.Lock()
	out := make([]models.PendingOperation, 0, len(d.pending))
	for _, op := range d.pending {
		out = append(out, op)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Unit < out[j].Unit
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (d *Dispatcher) acquire(unit string, action models.Action) (models.PendingOperation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.pending[unit]; busy {
		return models.PendingOperation{}, false
	}
	op := models.PendingOperation{
		ID:        uuid.NewString(),
		Unit:      unit,
		Action:    action,
		StartedAt: d.now(),
	}
	d.pending[unit] = op
	return op, true
}

func (d *Dispatcher) release(unit string) {
	d.mu.Lock()
	delete(d.pending, unit)
	d.mu.Unlock()
}

func (d *Dispatcher) emit(kind, unit string) {
	if d.onEvent != nil {
		d.onEvent(kind, unit)
	}
}
