package unitwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu     sync.Mutex
	bursts [][]string
}

func (r *recorder) record(units []string) {
	r.mu.Lock()
	r.bursts = append(r.bursts, units)
	r.mu.Unlock()
}

func (r *recorder) seen(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bursts {
		for _, u := range b {
			if u == name {
				return true
			}
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bursts)
}

func startWatch(t *testing.T, dirs ...string) *recorder {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &recorder{}
	go Watch(ctx, Options{Dirs: dirs, Debounce: 50 * time.Millisecond}, logger, rec.record)
	time.Sleep(100 * time.Millisecond)
	return rec
}

func TestWatch_InstallAndRemove(t *testing.T) {
	dir := t.TempDir()
	rec := startWatch(t, dir)

	path := filepath.Join(dir, "app.service")
	_ = os.WriteFile(path, []byte("[Service]\nExecStart=/bin/true\n"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return rec.seen("app.service") }, "install not reported")

	before := rec.count()
	_ = os.Remove(path)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return rec.count() > before }, "removal not reported")
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	rec := startWatch(t, dir)

	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "app.timer"), []byte("x"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("got %d bursts for non-service files", n)
	}
}

func TestWatch_EnableLinkInNewWantsDir(t *testing.T) {
	dir := t.TempDir()
	rec := startWatch(t, dir)

	wants := filepath.Join(dir, "multi-user.target.wants")
	_ = os.MkdirAll(wants, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.Symlink("/usr/lib/systemd/system/nginx.service", filepath.Join(wants, "nginx.service"))
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return rec.seen("nginx.service") }, "enable link not reported")
}

func TestWatch_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	rec := startWatch(t, dir)

	for _, name := range []string{"a.service", "b.service", "c.service"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return rec.seen("c.service") }, "burst not reported")
	if n := rec.count(); n != 1 {
		t.Errorf("got %d bursts, want 1", n)
	}
}

func TestWatch_NoDirs(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	done := make(chan error, 1)
	go func() {
		done <- Watch(context.Background(), Options{Dirs: []string{filepath.Join(t.TempDir(), "missing")}}, logger, nil)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch with no existing dirs did not return")
	}
}
