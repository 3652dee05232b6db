package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config represents the complete boltkit configuration
type Config struct {
	// WorkDir is the directory every action path is relative to.
	// For the local backend it is a host directory; for the remote backend
	// it is the working directory inside the remote sandbox.
	WorkDir  string         `mapstructure:"workdir"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Local    LocalConfig    `mapstructure:"local"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Process  ProcessConfig  `mapstructure:"process"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig selects the execution backend
type BackendConfig struct {
	// Kind is "local" (in-process sandbox) or "remote" (polling HTTP service)
	Kind string `mapstructure:"kind"`
}

// LocalConfig controls the in-process sandbox backend
type LocalConfig struct {
	// Shell is the interpreter used for shell and start actions (default: "sh")
	Shell string `mapstructure:"shell"`
	// UsePTY runs spawned processes under a pseudo-terminal so dev servers
	// behave as if attached to a terminal (default: false)
	UsePTY bool `mapstructure:"use_pty"`
	// PTYCols and PTYRows size the pseudo-terminal
	PTYCols int `mapstructure:"pty_cols"`
	PTYRows int `mapstructure:"pty_rows"`
}

// RemoteConfig controls the remote polling backend
type RemoteConfig struct {
	// BaseURL is the root of the remote execution service API
	BaseURL string `mapstructure:"base_url"`
	// APIKey is sent on every request in the X-API-Key header
	APIKey string `mapstructure:"api_key"`
	// MaxAttempts caps attempts per request, including the first (default: 3)
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialBackoffMs is the delay before the second attempt (default: 500)
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`
	// BackoffMultiplier grows the delay between attempts (default: 1.5)
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	// PollIntervalMs is how often process status and output are polled (default: 500)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// QuickTimeoutSeconds bounds quick calls such as reads and status (default: 10)
	QuickTimeoutSeconds int `mapstructure:"quick_timeout_seconds"`
	// LongTimeoutSeconds bounds long calls such as one-shot commands (default: 300)
	LongTimeoutSeconds int `mapstructure:"long_timeout_seconds"`
}

// WatchConfig controls file watching on both backends
type WatchConfig struct {
	// PollIntervalMs is the snapshot interval for the remote backend (default: 1000)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// Ignore lists glob patterns whose matches never produce events
	Ignore []string `mapstructure:"ignore"`
}

// ProcessConfig controls the process manager
type ProcessConfig struct {
	// InteractiveMarker is written to every output stream before real output
	InteractiveMarker string `mapstructure:"interactive_marker"`
}

// ParserConfig controls the streaming action parser
type ParserConfig struct {
	ArtifactTag string `mapstructure:"artifact_tag"`
	ActionTag   string `mapstructure:"action_tag"`
}

// DispatchConfig controls the action dispatcher
type DispatchConfig struct {
	// ShellTimeoutSeconds bounds each shell action (default: 300, 0 = no limit)
	ShellTimeoutSeconds int `mapstructure:"shell_timeout_seconds"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where boltkit.log is written. Empty means stderr only.
	Dir string `mapstructure:"dir"`
	// Stderr writes log records to stderr, alongside the file when Dir is set
	Stderr bool `mapstructure:"stderr"`
	// Journal also sends log records to the systemd journal (default: false)
	Journal bool `mapstructure:"journal"`
}

// DefaultInteractiveMarker is the OSC sequence terminal consumers use to
// switch into interactive mode.
const DefaultInteractiveMarker = "\x1b]654;interactive\x07"

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		WorkDir: ".",
		Backend: BackendConfig{
			Kind: BackendLocal,
		},
		Local: LocalConfig{
			Shell:   "sh",
			UsePTY:  false,
			PTYCols: 120,
			PTYRows: 40,
		},
		Remote: RemoteConfig{
			BaseURL:             "",
			APIKey:              "",
			MaxAttempts:         3,
			InitialBackoffMs:    500,
			BackoffMultiplier:   1.5,
			PollIntervalMs:      500,
			QuickTimeoutSeconds: 10,
			LongTimeoutSeconds:  300,
		},
		Watch: WatchConfig{
			PollIntervalMs: 1000,
			Ignore:         []string{"**/node_modules/**", "**/.git/**"},
		},
		Process: ProcessConfig{
			InteractiveMarker: DefaultInteractiveMarker,
		},
		Parser: ParserConfig{
			ArtifactTag: "boltArtifact",
			ActionTag:   "boltAction",
		},
		Dispatch: DispatchConfig{
			ShellTimeoutSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Dir:     "",
			Stderr:  false,
			Journal: false,
		},
	}
}

// InitialBackoff returns the first retry delay as a time.Duration
func (c *RemoteConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// PollInterval returns the process polling interval as a time.Duration
func (c *RemoteConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// QuickTimeout returns the quick-operation timeout as a time.Duration
func (c *RemoteConfig) QuickTimeout() time.Duration {
	return time.Duration(c.QuickTimeoutSeconds) * time.Second
}

// LongTimeout returns the long-operation timeout as a time.Duration
func (c *RemoteConfig) LongTimeout() time.Duration {
	return time.Duration(c.LongTimeoutSeconds) * time.Second
}

// PollInterval returns the watch snapshot interval as a time.Duration
func (c *WatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ShellTimeout returns the shell action timeout (0 means no limit)
func (c *DispatchConfig) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("workdir", defaults.WorkDir)

	v.SetDefault("backend.kind", defaults.Backend.Kind)

	v.SetDefault("local.shell", defaults.Local.Shell)
	v.SetDefault("local.use_pty", defaults.Local.UsePTY)
	v.SetDefault("local.pty_cols", defaults.Local.PTYCols)
	v.SetDefault("local.pty_rows", defaults.Local.PTYRows)

	v.SetDefault("remote.base_url", defaults.Remote.BaseURL)
	v.SetDefault("remote.api_key", defaults.Remote.APIKey)
	v.SetDefault("remote.max_attempts", defaults.Remote.MaxAttempts)
	v.SetDefault("remote.initial_backoff_ms", defaults.Remote.InitialBackoffMs)
	v.SetDefault("remote.backoff_multiplier", defaults.Remote.BackoffMultiplier)
	v.SetDefault("remote.poll_interval_ms", defaults.Remote.PollIntervalMs)
	v.SetDefault("remote.quick_timeout_seconds", defaults.Remote.QuickTimeoutSeconds)
	v.SetDefault("remote.long_timeout_seconds", defaults.Remote.LongTimeoutSeconds)

	v.SetDefault("watch.poll_interval_ms", defaults.Watch.PollIntervalMs)
	v.SetDefault("watch.ignore", defaults.Watch.Ignore)

	v.SetDefault("process.interactive_marker", defaults.Process.InteractiveMarker)

	v.SetDefault("parser.artifact_tag", defaults.Parser.ArtifactTag)
	v.SetDefault("parser.action_tag", defaults.Parser.ActionTag)

	v.SetDefault("dispatch.shell_timeout_seconds", defaults.Dispatch.ShellTimeoutSeconds)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.stderr", defaults.Logging.Stderr)
	v.SetDefault("logging.journal", defaults.Logging.Journal)
}

// Load reads the configuration from the global viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "boltkit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".boltkit"
	}
	return filepath.Join(home, ".config", "boltkit")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveWorkDir returns the absolute local working directory.
// A leading ~ expands to the user's home directory.
func (c *Config) ResolveWorkDir() (string, error) {
	path := c.WorkDir
	if path == "" {
		path = "."
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return filepath.Abs(path)
}

// ValidBackends returns the list of valid backend kinds
func ValidBackends() []string {
	return []string{BackendLocal, BackendRemote}
}
