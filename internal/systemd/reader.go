// Package systemd reads unit status from systemctl and journalctl and builds
// the argv for control commands.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/starford/unitdeck/internal/apperr"
	"github.com/starford/unitdeck/internal/executor"
	"github.com/starford/unitdeck/internal/models"
)

const (
	defaultLogLines = 50
	maxLogLines     = 5000
)

var (
	showProperties   = "--property=Id,LoadState,ActiveState,SubState,UnitFileState,Description"
	statusProperties = showProperties + ",MainPID,MemoryCurrent,ActiveEnterTimestamp"
)

// Options configures how the Reader talks to the init system.
type Options struct {
	SystemctlPath  string
	JournalctlPath string
	UseSudo        bool
	SudoCommand    string
	Suffixes       []string
	StatusTimeout  time.Duration
	JournalTimeout time.Duration
}

// DefaultOptions mirrors a stock systemd host. Sudo is used for control
// commands unless the process already runs as root.
func DefaultOptions() Options {
	return Options{
		SystemctlPath:  "systemctl",
		JournalctlPath: "journalctl",
		UseSudo:        os.Geteuid() != 0,
		SudoCommand:    "sudo",
		Suffixes:       DefaultSuffixes,
		StatusTimeout:  executor.DefaultStatusTimeout,
		JournalTimeout: executor.DefaultJournalTimeout,
	}
}

// CommandError reports a status command that exited non-zero.
type CommandError struct {
	Argv   []string
	Result executor.Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Argv[0], e.Result.ExitCode, e.Result.Output())
}

// Reader lists units and reads their status through a Runner.
type Reader struct {
	run    executor.Runner
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewReader creates a Reader. Zero option fields fall back to DefaultOptions.
func NewReader(run executor.Runner, opts Options, logger *slog.Logger) *Reader {
	def := DefaultOptions()
	if opts.SystemctlPath == "" {
		opts.SystemctlPath = def.SystemctlPath
	}
	if opts.JournalctlPath == "" {
		opts.JournalctlPath = def.JournalctlPath
	}
	if opts.SudoCommand == "" {
		opts.SudoCommand = def.SudoCommand
	}
	if len(opts.Suffixes) == 0 {
		opts.Suffixes = def.Suffixes
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = def.StatusTimeout
	}
	if opts.JournalTimeout <= 0 {
		opts.JournalTimeout = def.JournalTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{run: run, opts: opts, logger: logger, now: time.Now}
}

// Suffixes returns the unit suffixes this Reader accepts.
func (r *Reader) Suffixes() []string {
	return r.opts.Suffixes
}

// ValidName checks name against the configured suffixes.
func (r *Reader) ValidName(name string) error {
	return ValidName(name, r.opts.Suffixes)
}

func (r *Reader) accept(name string) bool {
	return !isTemplate(name) && r.ValidName(name) == nil
}

// ListUnits returns every known unit with an accepted suffix. A failing
// list-units call fails the whole listing; a failing list-unit-files call
// only leaves enabled states unknown.
func (r *Reader) ListUnits(ctx context.Context) ([]models.UnitSnapshot, error) {
	out, err := r.status(ctx, "list-units", "--all", "--full", "--plain", "--no-legend", "--no-pager", typeFlag(r.opts.Suffixes))
	if err != nil {
		return nil, fmt.Errorf("systemd: list units: %w", err)
	}
	units := parseListUnits(out, r.accept)

	filesOut, filesErr := r.status(ctx, "list-unit-files", "--full", "--no-legend", "--no-pager", typeFlag(r.opts.Suffixes))
	if filesErr != nil {
		filesErr = fmt.Errorf("systemd: list unit files: %w", filesErr)
		r.logger.Warn("unit file states unavailable", slog.String("error", filesErr.Error()))
		for i := range units {
			if units[i].Err == nil {
				units[i].Err = filesErr
			}
		}
		return units, nil
	}

	states, order := parseListUnitFiles(filesOut, r.accept)
	loaded := make(map[string]struct{}, len(units))
	for i := range units {
		loaded[units[i].Name] = struct{}{}
		if raw, ok := states[units[i].Name]; ok {
			units[i].EnabledState = models.ParseEnabledState(raw)
		}
	}
	for _, name := range order {
		if _, ok := loaded[name]; ok {
			continue
		}
		units = append(units, models.UnitSnapshot{
			Name:         name,
			LoadState:    "not-loaded",
			ActiveState:  models.ActiveStateInactive,
			SubState:     "dead",
			EnabledState: models.ParseEnabledState(states[name]),
		})
	}
	return units, nil
}

// GetUnit reads the current state of a single unit.
func (r *Reader) GetUnit(ctx context.Context, name string) (models.UnitSnapshot, error) {
	props, err := r.show(ctx, name, showProperties)
	if err != nil {
		return models.UnitSnapshot{}, err
	}
	return snapshotFromProperties(name, props), nil
}

// Status reads a unit's state together with its process details.
func (r *Reader) Status(ctx context.Context, name string) (models.UnitSnapshot, models.UnitDetails, error) {
	props, err := r.show(ctx, name, statusProperties)
	if err != nil {
		return models.UnitSnapshot{}, models.UnitDetails{}, err
	}
	return snapshotFromProperties(name, props), detailsFromProperties(props, r.now()), nil
}

func (r *Reader) show(ctx context.Context, name, properties string) (map[string]string, error) {
	if err := r.ValidName(name); err != nil {
		return nil, err
	}
	out, err := r.status(ctx, "show", name, "--no-pager", properties)
	if err != nil {
		return nil, fmt.Errorf("systemd: show %s: %w", name, err)
	}
	props := parseProperties(out)
	if _, ok := props["LoadState"]; !ok {
		return nil, fmt.Errorf("systemd: show %s: no LoadState in output", name)
	}
	if props["LoadState"] == "not-found" && props["ActiveState"] != string(models.ActiveStateActive) {
		return nil, fmt.Errorf("systemd: %s: %w", name, apperr.ErrNotFound)
	}
	return props, nil
}

// Logs returns the last lines journal entries of a unit.
func (r *Reader) Logs(ctx context.Context, name string, lines int) ([]map[string]any, error) {
	if lines <= 0 {
		lines = defaultLogLines
	}
	if lines > maxLogLines {
		lines = maxLogLines
	}
	return r.journal(ctx, name, r.opts.StatusTimeout*2, "-n", strconv.Itoa(lines))
}

// Journal returns the full journal of a unit.
func (r *Reader) Journal(ctx context.Context, name string) ([]map[string]any, error) {
	return r.journal(ctx, name, r.opts.JournalTimeout)
}

func (r *Reader) journal(ctx context.Context, name string, timeout time.Duration, extra ...string) ([]map[string]any, error) {
	if err := r.ValidName(name); err != nil {
		return nil, err
	}
	argv := append([]string{r.opts.JournalctlPath, "-u", name}, extra...)
	argv = append(argv, "--no-pager", "-o", "json")
	res, err := r.run.Run(ctx, argv, timeout)
	if err != nil {
		return nil, fmt.Errorf("systemd: journal %s: %w", name, err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("systemd: journal %s: %w", name, &CommandError{Argv: argv, Result: res})
	}
	return parseJournal(res.Stdout), nil
}

// ControlArgv builds the command line for a control action.
func (r *Reader) ControlArgv(action models.Action, name string) []string {
	argv := []string{r.opts.SystemctlPath, string(action), name}
	if r.opts.UseSudo {
		argv = append([]string{r.opts.SudoCommand}, argv...)
	}
	return argv
}

func (r *Reader) status(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{r.opts.SystemctlPath}, args...)
	res, err := r.run.Run(ctx, argv, r.opts.StatusTimeout)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", &CommandError{Argv: argv, Result: res}
	}
	return res.Stdout, nil
}
