// Package testutil provides shared test helpers: a scripted systemd host and
// a throwaway metadata store.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/unitdeck/internal/executor"
	"github.com/starford/unitdeck/internal/metadata"
	"github.com/starford/unitdeck/internal/systemd"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestStore creates a metadata store in a temp dir that is closed on cleanup.
func TestStore(t *testing.T) *metadata.Store {
	t.Helper()
	s, err := metadata.Open(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Reader builds a systemd.Reader over run without sudo.
func Reader(run executor.Runner) *systemd.Reader {
	opts := systemd.DefaultOptions()
	opts.UseSudo = false
	return systemd.NewReader(run, opts, Logger())
}

// Unit is one unit known to a FakeSystemd.
type Unit struct {
	Name          string
	Description   string
	ActiveState   string
	SubState      string
	UnitFileState string
}

// FakeSystemd answers systemctl and journalctl invocations from an in-memory
// unit table. Control commands mutate the table the way systemd would.
type FakeSystemd struct {
	mu    sync.Mutex
	units map[string]*Unit
	calls [][]string

	listErr      error
	listExit     int
	duplicate    bool
	controlExit  int
	controlGate  chan struct{}
	controlSlow  bool
	journalLines []string
}

// NewFakeSystemd creates a host with the given units.
func NewFakeSystemd(units ...Unit) *FakeSystemd {
	f := &FakeSystemd{units: make(map[string]*Unit)}
	for _, u := range units {
		f.Set(u)
	}
	return f
}

// Set adds or replaces a unit.
func (f *FakeSystemd) Set(u Unit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ActiveState == "" {
		u.ActiveState = "inactive"
	}
	if u.SubState == "" {
		u.SubState = "dead"
	}
	if u.UnitFileState == "" {
		u.UnitFileState = "disabled"
	}
	f.units[u.Name] = &u
}

// Remove drops a unit from the host.
func (f *FakeSystemd) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.units, name)
}

// Get returns a copy of a unit.
func (f *FakeSystemd) Get(name string) (Unit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[name]
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

// FailList makes list-units return err, or exit non-zero when err is nil
// and exit is set. FailList(nil, 0) restores normal behaviour.
func (f *FakeSystemd) FailList(err error, exit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr, f.listExit = err, exit
}

// DuplicateListing makes list-units print every unit twice.
func (f *FakeSystemd) DuplicateListing(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duplicate = on
}

// FailControl makes control commands exit with code without changing state.
func (f *FakeSystemd) FailControl(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlExit = code
}

// HoldControl blocks control commands until the returned func is called.
func (f *FakeSystemd) HoldControl() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.controlGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// TimeoutControl makes control commands fail with a TimeoutError.
func (f *FakeSystemd) TimeoutControl(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlSlow = on
}

// SetJournal sets the lines returned by journalctl.
func (f *FakeSystemd) SetJournal(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journalLines = lines
}

// Calls returns every argv seen so far.
func (f *FakeSystemd) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount counts invocations whose subcommand is sub, e.g. "list-units".
func (f *FakeSystemd) CallCount(sub string) int {
	n := 0
	for _, argv := range f.Calls() {
		if verb, _ := split(argv); verb == sub {
			n++
		}
	}
	return n
}

// Run implements executor.Runner.
func (f *FakeSystemd) Run(ctx context.Context, argv []string, timeout time.Duration) (executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, argv)
	gate, slow := f.controlGate, f.controlSlow
	f.mu.Unlock()

	if len(argv) > 0 && argv[0] == "journalctl" {
		return f.journal(), nil
	}
	verb, args := split(argv)
	switch verb {
	case "list-units":
		return f.listUnits()
	case "list-unit-files":
		return f.listUnitFiles(), nil
	case "show":
		return f.show(args), nil
	case "start", "stop", "restart", "enable", "disable":
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return executor.Result{ExitCode: -1}, ctx.Err()
			}
		}
		if slow {
			return executor.Result{ExitCode: -1}, &executor.TimeoutError{Argv: argv, Timeout: timeout}
		}
		return f.control(verb, args), nil
	}
	return executor.Result{ExitCode: 1, Stderr: "unknown command " + strings.Join(argv, " ")}, nil
}

// split drops an optional sudo prefix and the binary, returning the verb.
func split(argv []string) (string, []string) {
	if len(argv) > 0 && argv[0] == "sudo" {
		argv = argv[1:]
	}
	if len(argv) < 2 {
		return "", nil
	}
	return argv[1], argv[2:]
}

func (f *FakeSystemd) sorted() []*Unit {
	out := make([]*Unit, 0, len(f.units))
	for _, u := range f.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *FakeSystemd) listUnits() (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return executor.Result{ExitCode: -1}, f.listErr
	}
	if f.listExit != 0 {
		return executor.Result{ExitCode: f.listExit, Stderr: "Failed to connect to bus"}, nil
	}
	var b strings.Builder
	for _, u := range f.sorted() {
		line := fmt.Sprintf("%s loaded %s %s %s\n", u.Name, u.ActiveState, u.SubState, u.Description)
		b.WriteString(line)
		if f.duplicate {
			b.WriteString(line)
		}
	}
	return executor.Result{Stdout: b.String()}, nil
}

func (f *FakeSystemd) listUnitFiles() executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, u := range f.sorted() {
		fmt.Fprintf(&b, "%s %s enabled\n", u.Name, u.UnitFileState)
	}
	return executor.Result{Stdout: b.String()}
}

func (f *FakeSystemd) show(args []string) executor.Result {
	if len(args) == 0 {
		return executor.Result{ExitCode: 1, Stderr: "no unit"}
	}
	name := args[0]
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[name]
	if !ok {
		return executor.Result{Stdout: fmt.Sprintf("Id=%s\nLoadState=not-found\nActiveState=inactive\nSubState=dead\nUnitFileState=\nDescription=%s\n", name, name)}
	}
	out := fmt.Sprintf("Id=%s\nLoadState=loaded\nActiveState=%s\nSubState=%s\nUnitFileState=%s\nDescription=%s\n",
		u.Name, u.ActiveState, u.SubState, u.UnitFileState, u.Description)
	if u.ActiveState == "active" {
		out += "MainPID=4242\nMemoryCurrent=10485760\nActiveEnterTimestamp=Thu 2024-01-11 10:00:00 UTC\n"
	} else {
		out += "MainPID=0\nMemoryCurrent=[not set]\nActiveEnterTimestamp=\n"
	}
	return executor.Result{Stdout: out}
}

func (f *FakeSystemd) control(verb string, args []string) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.controlExit != 0 {
		return executor.Result{ExitCode: f.controlExit, Stderr: "Job for unit failed."}
	}
	if len(args) == 0 {
		return executor.Result{ExitCode: 1, Stderr: "Too few arguments."}
	}
	u, ok := f.units[args[0]]
	if !ok {
		return executor.Result{ExitCode: 5, Stderr: fmt.Sprintf("Failed to %s %s: Unit %s not found.", verb, args[0], args[0])}
	}
	switch verb {
	case "start", "restart":
		u.ActiveState, u.SubState = "active", "running"
	case "stop":
		u.ActiveState, u.SubState = "inactive", "dead"
	case "enable":
		u.UnitFileState = "enabled"
	case "disable":
		u.UnitFileState = "disabled"
	}
	return executor.Result{}
}

func (f *FakeSystemd) journal() executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return executor.Result{Stdout: strings.Join(f.journalLines, "\n")}
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
