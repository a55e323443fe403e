// Package executor runs external commands with a hard timeout.
//
// A non-zero exit status is a normal Result, not an error. The only failures
// are a command that cannot be started and a command that outlives its
// timeout; in the latter case the whole process group is killed so no
// runaway children are left behind.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/starford/unitdeck/internal/apperr"
)

// Defaults for the timeout classes used by callers.
const (
	DefaultStatusTimeout  = 5 * time.Second
	DefaultControlTimeout = 10 * time.Second
	DefaultJournalTimeout = 30 * time.Second

	defaultWaitDelay = time.Second
)

// Runner is implemented by anything that can run a command with a timeout.
type Runner interface {
	Run(ctx context.Context, argv []string, timeout time.Duration) (Result, error)
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"-"`
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stdout and stderr joined, trimmed of surrounding space.
func (r Result) Output() string {
	return strings.TrimSpace(r.Stdout + r.Stderr)
}

// TimeoutError is returned when a command did not finish within its timeout.
type TimeoutError struct {
	Argv    []string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("exec %q: timed out after %s", strings.Join(e.Argv, " "), e.Timeout)
}

// Unwrap lets errors.Is match apperr.ErrCommandTimeout.
func (e *TimeoutError) Unwrap() error {
	return apperr.ErrCommandTimeout
}

// Executor runs commands on the local host.
type Executor struct {
	logger    *slog.Logger
	waitDelay time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithWaitDelay bounds how long Run waits for output pipes after the process
// has exited or been killed.
func WithWaitDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.waitDelay = d
	}
}

// New creates an Executor. A nil logger discards debug output.
func New(logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{logger: logger, waitDelay: defaultWaitDelay}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Runner = (*Executor)(nil)

// Run executes argv and waits at most timeout for it to finish.
func (e *Executor) Run(ctx context.Context, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 || argv[0] == "" {
		return Result{}, fmt.Errorf("executor: empty command: %w", apperr.ErrInvalidRequest)
	}
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = e.waitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	start := time.Now()
	err := cmd.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil && runCtx.Err() != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("command timed out",
				slog.String("command", strings.Join(argv, " ")),
				slog.Duration("timeout", timeout))
			return res, &TimeoutError{Argv: argv, Timeout: timeout}
		}
		return res, fmt.Errorf("executor: %s: %w", argv[0], runCtx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		res.ExitCode = cmd.ProcessState.ExitCode()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("executor: run %s: %w", argv[0], err)
	}

	e.logger.Debug("command finished",
		slog.String("command", strings.Join(argv, " ")),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration))
	return res, nil
}
