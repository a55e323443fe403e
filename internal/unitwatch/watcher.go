// Package unitwatch watches systemd unit directories and reports when unit
// files are installed, removed, renamed or (re)linked.
package unitwatch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDirs are the unit search paths of a stock systemd install.
var DefaultDirs = []string{"/etc/systemd/system", "/run/systemd/system", "/usr/lib/systemd/system"}

// DefaultDebounce is how long the watcher waits for a burst of changes to
// settle before reporting.
const DefaultDebounce = 500 * time.Millisecond

// ChangeCallback is called once per settled burst with the base names of
// the unit files that changed.
type ChangeCallback func(units []string)

// Options configures Watch.
type Options struct {
	Dirs     []string
	Suffixes []string
	Debounce time.Duration
}

// Watch watches opts.Dirs and their subdirectories (the .wants/.requires
// links created by enable/disable live there) until ctx is cancelled.
// Directories that do not exist are skipped; if none exist Watch returns
// immediately.
func Watch(ctx context.Context, opts Options, logger *slog.Logger, cb ChangeCallback) error {
	if len(opts.Dirs) == 0 {
		opts.Dirs = DefaultDirs
	}
	if len(opts.Suffixes) == 0 {
		opts.Suffixes = []string{".service"}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := 0
	for _, dir := range opts.Dirs {
		if err := addDirsRecursive(w, dir); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("unitwatch: skipping missing dir", slog.String("dir", dir))
				continue
			}
			return err
		}
		watched++
	}
	if watched == 0 {
		logger.Info("unitwatch: no unit directories to watch")
		return nil
	}
	logger.Info("unitwatch: started", slog.String("dirs", strings.Join(opts.Dirs, ",")))

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		changed = make(map[string]struct{})
	)
	schedule := func(name string) {
		changed[name] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(opts.Debounce)
			fire = timer.C
		} else {
			timer.Reset(opts.Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("unitwatch: stopped")
			return nil

		case <-fire:
			units := make([]string, 0, len(changed))
			for name := range changed {
				units = append(units, name)
			}
			sort.Strings(units)
			clear(changed)
			logger.Debug("unitwatch: units changed", slog.String("units", strings.Join(units, ",")))
			if cb != nil {
				cb(units)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("unitwatch: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !hasSuffix(name, opts.Suffixes) {
				continue
			}
			schedule(name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("unitwatch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
