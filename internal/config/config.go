// Package config handles configuration loading, validation, and management for tabward.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Tracking configuration for the session state machine.
	Tracking TrackingConfig `toml:"tracking" json:"tracking" yaml:"tracking"`

	// Enforcement configuration for limit checks and blocking.
	Enforcement EnforcementConfig `toml:"enforcement" json:"enforcement" yaml:"enforcement"`

	// Categories configuration for domain classification.
	Categories CategoriesConfig `toml:"categories" json:"categories" yaml:"categories"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the bridge and control sockets.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Daemon configuration for process management.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`
}

// TrackingConfig holds session tracking configuration.
type TrackingConfig struct {
	// HeartbeatSec is the periodic flush interval while a focused domain
	// is active.
	HeartbeatSec int `toml:"heartbeat_sec" json:"heartbeat_sec" yaml:"heartbeat_sec"`

	// CommitDebounceMs is how long a flushed increment waits for more
	// elapsed time before being written to storage.
	CommitDebounceMs int `toml:"commit_debounce_ms" json:"commit_debounce_ms" yaml:"commit_debounce_ms"`

	// IdleThresholdSec is the bridge-side inactivity threshold before the
	// session is considered idle.
	IdleThresholdSec int `toml:"idle_threshold_sec" json:"idle_threshold_sec" yaml:"idle_threshold_sec"`
}

// EnforcementConfig holds limit enforcement configuration.
type EnforcementConfig struct {
	// FastCheckSec is the interval of the projection-based limit check.
	FastCheckSec int `toml:"fast_check_sec" json:"fast_check_sec" yaml:"fast_check_sec"`

	// SnoozeBufferMs pads the snooze deadline so checks racing the
	// deadline do not block early.
	SnoozeBufferMs int `toml:"snooze_buffer_ms" json:"snooze_buffer_ms" yaml:"snooze_buffer_ms"`

	// BlockPagePath is the extension-relative path of the block page.
	BlockPagePath string `toml:"block_page_path" json:"block_page_path" yaml:"block_page_path"`
}

// CategoriesConfig holds domain classification configuration.
type CategoriesConfig struct {
	// OverridesPath is the TOML file of user category overrides. Watched
	// for changes while the daemon runs.
	OverridesPath string `toml:"overrides_path" json:"overrides_path" yaml:"overrides_path"`

	// BatchSec is the quiet period before queued classifications persist.
	BatchSec int `toml:"batch_sec" json:"batch_sec" yaml:"batch_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// IPCConfig holds inter-process communication configuration.
type IPCConfig struct {
	// SocketPath is the path to the Unix socket serving the bridge and
	// the control CLI.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the Unix socket permissions (e.g., "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum concurrent connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// DaemonConfig holds process management configuration.
type DaemonConfig struct {
	// PidFile is the path to the PID file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := TabwardDir()

	return &Config{
		Version: Version,
		Tracking: TrackingConfig{
			HeartbeatSec:     3,
			CommitDebounceMs: 500,
			IdleThresholdSec: 60,
		},
		Enforcement: EnforcementConfig{
			FastCheckSec:   2,
			SnoozeBufferMs: 2000,
			BlockPagePath:  "blocked/index.html",
		},
		Categories: CategoriesConfig{
			OverridesPath: filepath.Join(dir, "categories.toml"),
			BatchSec:      5,
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "tabward.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "tabward.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		IPC: IPCConfig{
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Daemon: DaemonConfig{
			PidFile: filepath.Join(dir, "tabwardd.pid"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(TabwardDir(), "config.toml")
}

// Load reads configuration from the specified path. If the file doesn't
// exist, returns default configuration. Supports TOML, JSON, and YAML
// formats based on file extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		// TOML is the default format.
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with TABWARD_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TABWARD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("TABWARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TABWARD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("TABWARD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("TABWARD_CATEGORIES_PATH"); v != "" {
		c.Categories.OverridesPath = v
	}
}

// EnsureDirectories creates all directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.IPC.SocketPath),
		filepath.Dir(c.Daemon.PidFile),
		filepath.Dir(c.Categories.OverridesPath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// TabwardDir returns the base tabward data directory. TABWARD_DATA_DIR
// overrides the platform default.
func TabwardDir() string {
	if envDir := os.Getenv("TABWARD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "tabward", "tabward.sock")
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "tabward.sock")
		}
		return "/tmp/tabward.sock"
	default:
		return "/tmp/tabward.sock"
	}
}
