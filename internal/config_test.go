package internal

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.App.HTTP.Address(); got != "127.0.0.1:5000" {
		t.Errorf("address = %q", got)
	}
	if got := cfg.App.DBPath(); got != filepath.Join(".", "services.db") {
		t.Errorf("db path = %q", got)
	}
}

func TestConfigDirSetsDBPath(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.ConfigDir = "/var/lib/unitdeck"
	if got := cfg.App.DBPath(); got != "/var/lib/unitdeck/services.db" {
		t.Errorf("db path = %q", got)
	}
}

func TestFullConfig_SectionErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"auth":       func(c *Config) { c.Auth.Mode = "token"; c.Auth.Token = "" },
		"port":       func(c *Config) { c.App.HTTP.Port = 70000 },
		"log_format": func(c *Config) { c.App.LogFormat = "xml" },
		"suffix":     func(c *Config) { c.Systemd.Suffixes = []string{"service"} },
		"interval":   func(c *Config) { c.Registry.RefreshInterval = 0 },
		"stale": func(c *Config) {
			c.Registry.RefreshInterval = time.Minute
			c.Registry.StaleAfter = time.Second
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSystemdOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	off := false
	cfg.Systemd.UseSudo = &off
	cfg.Systemd.Suffixes = []string{".service", ".timer"}
	cfg.Systemd.SystemctlPath = "/usr/bin/systemctl"

	opts := cfg.Systemd.Options()
	if opts.UseSudo {
		t.Error("use_sudo=false not honoured")
	}
	if len(opts.Suffixes) != 2 || opts.SystemctlPath != "/usr/bin/systemctl" || opts.JournalctlPath != "journalctl" {
		t.Errorf("options = %+v", opts)
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()

	newLogger(cfg, &buf).Info("hello", slog.String("k", "v"))
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json format = %q", buf.String())
	}

	buf.Reset()
	cfg.App.LogFormat = LogFormatText
	newLogger(cfg, &buf).Info("hello", slog.String("k", "v"))
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text format = %q", buf.String())
	}

	// auto falls back to JSON when the output is not a terminal.
	buf.Reset()
	cfg.App.LogFormat = LogFormatAuto
	newLogger(cfg, &buf).Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("auto format = %q", buf.String())
	}
}
