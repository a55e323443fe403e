package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/unitdeck/internal/executor"
	"github.com/starford/unitdeck/internal/registry"
	"github.com/starford/unitdeck/internal/systemd"
	"github.com/starford/unitdeck/internal/unitwatch"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
	LogFormatAuto = "auto"
)

// DBFileName is the metadata database file inside the config dir.
const DBFileName = "services.db"

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app" toml:"app"`
	Systemd  SystemdConfig     `yaml:"systemd" toml:"systemd"`
	Registry RegistryConfig    `yaml:"registry" toml:"registry"`
	Watch    WatchConfig       `yaml:"watch" toml:"watch"`
	Auth     AuthConfig        `yaml:"auth" toml:"auth"`
	Host     HostConfig        `yaml:"host" toml:"host"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Systemd.Validate(); err != nil {
		return fmt.Errorf("systemd: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level" toml:"log_level"`
	LogFormat string     `yaml:"log_format" toml:"log_format"`
	ConfigDir string     `yaml:"config_dir" toml:"config_dir"`
	BaseURL   string     `yaml:"base_url" toml:"base_url"`
	HTTP      HTTPConfig `yaml:"http" toml:"http"`
}

// DBPath returns the metadata database path.
func (c *ApplicationConfig) DBPath() string {
	return filepath.Join(c.ConfigDir, DBFileName)
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText, LogFormatAuto)),
		validation.Field(&c.ConfigDir, validation.Required),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SystemdConfig controls how systemctl and journalctl are invoked.
//
// UseSudo left unset means "sudo unless running as root".
type SystemdConfig struct {
	SystemctlPath  string        `yaml:"systemctl_path" toml:"systemctl_path"`
	JournalctlPath string        `yaml:"journalctl_path" toml:"journalctl_path"`
	UseSudo        *bool         `yaml:"use_sudo" toml:"use_sudo"`
	SudoCommand    string        `yaml:"sudo_command" toml:"sudo_command"`
	Suffixes       []string      `yaml:"suffixes" toml:"suffixes"`
	StatusTimeout  time.Duration `yaml:"status_timeout" toml:"status_timeout"`
	ControlTimeout time.Duration `yaml:"control_timeout" toml:"control_timeout"`
	JournalTimeout time.Duration `yaml:"journal_timeout" toml:"journal_timeout"`
}

// Validate validates the systemd configuration.
func (c *SystemdConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Suffixes, validation.Required, validation.Each(validation.By(func(v interface{}) error {
			s, _ := v.(string)
			if len(s) < 2 || s[0] != '.' {
				return errors.New("suffix must start with '.' (e.g. .service)")
			}
			return nil
		}))),
		validation.Field(&c.StatusTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.ControlTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.JournalTimeout, validation.Min(time.Duration(0))),
	)
}

// Options converts the section into systemd reader options.
func (c *SystemdConfig) Options() systemd.Options {
	opts := systemd.DefaultOptions()
	if c.SystemctlPath != "" {
		opts.SystemctlPath = c.SystemctlPath
	}
	if c.JournalctlPath != "" {
		opts.JournalctlPath = c.JournalctlPath
	}
	if c.UseSudo != nil {
		opts.UseSudo = *c.UseSudo
	}
	if c.SudoCommand != "" {
		opts.SudoCommand = c.SudoCommand
	}
	if len(c.Suffixes) > 0 {
		opts.Suffixes = c.Suffixes
	}
	if c.StatusTimeout > 0 {
		opts.StatusTimeout = c.StatusTimeout
	}
	if c.JournalTimeout > 0 {
		opts.JournalTimeout = c.JournalTimeout
	}
	return opts
}

// RegistryConfig controls background refresh.
type RegistryConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	StaleAfter      time.Duration `yaml:"stale_after" toml:"stale_after"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.RefreshInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.StaleAfter, validation.Required),
	); err != nil {
		return err
	}
	if c.StaleAfter < c.RefreshInterval {
		return fmt.Errorf("stale_after (%s) must not be shorter than refresh_interval (%s)", c.StaleAfter, c.RefreshInterval)
	}
	return nil
}

// WatchConfig controls the unit directory watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Dirs     []string      `yaml:"dirs" toml:"dirs"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// HostConfig locates host usage sources.
type HostConfig struct {
	DFPath      string `yaml:"df_path" toml:"df_path"`
	MeminfoPath string `yaml:"meminfo_path" toml:"meminfo_path"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for a loopback bind.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			ConfigDir: ".",
			BaseURL:   "/",
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 5000,
			},
		},
		Systemd: SystemdConfig{
			Suffixes:       systemd.DefaultSuffixes,
			StatusTimeout:  executor.DefaultStatusTimeout,
			ControlTimeout: executor.DefaultControlTimeout,
			JournalTimeout: executor.DefaultJournalTimeout,
		},
		Registry: RegistryConfig{
			RefreshInterval: 10 * time.Second,
			StaleAfter:      registry.DefaultStaleAfter,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Dirs:     unitwatch.DefaultDirs,
			Debounce: unitwatch.DefaultDebounce,
		},
		Auth: AuthConfig{
			Mode:  AuthModeDisabled,
			Token: os.Getenv("UNITDECK_TOKEN"),
		},
	}
}
