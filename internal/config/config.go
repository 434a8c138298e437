// Package config handles configuration loading, validation, and management
// for daylogd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Watch configuration for source-tree monitoring.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Sampler configuration for activity polling.
	Sampler SamplerConfig `toml:"sampler" json:"sampler" yaml:"sampler"`

	// Storage configuration for the event store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// WatchConfig holds file watching configuration.
type WatchConfig struct {
	// Roots is a list of directories to monitor for changes.
	Roots []string `toml:"roots" json:"roots" yaml:"roots"`

	// IncludeExtensions lists file extensions to track (with leading dot).
	IncludeExtensions []string `toml:"include_extensions" json:"include_extensions" yaml:"include_extensions"`

	// IgnoreDirs lists directory names skipped anywhere under a root.
	IgnoreDirs []string `toml:"ignore_dirs" json:"ignore_dirs" yaml:"ignore_dirs"`

	// DebounceMs is the per-path quiet window in milliseconds before a
	// change is finalized and emitted.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// MaxFileSize is the largest file in bytes that is read for diffing.
	// Larger files are recorded with a hash only.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size" yaml:"max_file_size"`
}

// SamplerConfig holds activity sampling configuration.
type SamplerConfig struct {
	// PollIntervalSec is the sampling cadence in seconds.
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec"`

	// IdleThresholdMin is the input-idle duration in minutes after which
	// the user is considered idle.
	IdleThresholdMin int `toml:"idle_threshold_min" json:"idle_threshold_min" yaml:"idle_threshold_min"`

	// TrackApplications enables the foreground-application channel.
	TrackApplications bool `toml:"track_applications" json:"track_applications" yaml:"track_applications"`

	// TrackWebsites enables the browser-domain channel.
	TrackWebsites bool `toml:"track_websites" json:"track_websites" yaml:"track_websites"`

	// ProbeTimeoutMs bounds each OS read so one slow call cannot stall
	// subsequent ticks.
	ProbeTimeoutMs int `toml:"probe_timeout_ms" json:"probe_timeout_ms" yaml:"probe_timeout_ms"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `toml:"level" json:"level" yaml:"level"`
	Format   string `toml:"format" json:"format" yaml:"format"`
	Output   string `toml:"output" json:"output" yaml:"output"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Watch: WatchConfig{
			Roots: nil,
			IncludeExtensions: []string{
				".py", ".js", ".ts", ".jsx", ".tsx", ".cpp", ".c", ".h", ".hpp",
				".java", ".kt", ".swift", ".go", ".rs", ".php", ".rb", ".cs",
				".html", ".css", ".scss", ".less", ".json", ".xml", ".yaml", ".yml",
				".sql", ".md", ".txt", ".sh", ".bat", ".ps1",
			},
			IgnoreDirs: []string{
				"__pycache__", ".git", ".svn", ".hg", "node_modules", ".vscode",
				".idea", "build", "dist", "target", "bin", "obj", ".pytest_cache",
				".mypy_cache", "venv", "env", ".env",
			},
			DebounceMs:  1000,
			MaxFileSize: 2 << 20, // 2 MiB
		},
		Sampler: SamplerConfig{
			PollIntervalSec:   5,
			IdleThresholdMin:  5,
			TrackApplications: true,
			TrackWebsites:     true,
			ProbeTimeoutMs:    2000,
		},
		Storage: StorageConfig{
			Path: defaultDBPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// defaultDBPath returns the platform-specific default database path.
func defaultDBPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "daylogd", "events.db")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "daylogd", "events.db")
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			homeDir, _ := os.UserHomeDir()
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataHome, "daylogd", "events.db")
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "daylogd", "config.toml")
	case "windows":
		appData := os.Getenv("APPDATA")
		return filepath.Join(appData, "daylogd", "config.toml")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			homeDir, _ := os.UserHomeDir()
			configHome = filepath.Join(homeDir, ".config")
		}
		return filepath.Join(configHome, "daylogd", "config.toml")
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Version <= 0 || c.Version > Version {
		errs = append(errs, fmt.Errorf("unsupported config version: %d", c.Version))
	}

	for _, root := range c.Watch.Roots {
		if strings.TrimSpace(root) == "" {
			errs = append(errs, errors.New("watch root must not be empty"))
		}
	}
	for _, ext := range c.Watch.IncludeExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("extension must start with a dot: %q", ext))
		}
	}
	if c.Watch.DebounceMs < 50 || c.Watch.DebounceMs > 60000 {
		errs = append(errs, fmt.Errorf("debounce_ms out of range [50, 60000]: %d", c.Watch.DebounceMs))
	}
	if c.Watch.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("max_file_size must be positive: %d", c.Watch.MaxFileSize))
	}

	if c.Sampler.PollIntervalSec < 1 {
		errs = append(errs, fmt.Errorf("poll_interval_sec must be at least 1: %d", c.Sampler.PollIntervalSec))
	}
	if c.Sampler.IdleThresholdMin < 1 {
		errs = append(errs, fmt.Errorf("idle_threshold_min must be at least 1: %d", c.Sampler.IdleThresholdMin))
	}
	if c.Sampler.ProbeTimeoutMs < 100 {
		errs = append(errs, fmt.Errorf("probe_timeout_ms must be at least 100: %d", c.Sampler.ProbeTimeoutMs))
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage path must not be empty"))
	}

	return errors.Join(errs...)
}

// ApplyEnvOverrides applies DAYLOG_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DAYLOG_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("DAYLOG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DAYLOG_WATCH_ROOTS"); v != "" {
		c.Watch.Roots = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("DAYLOG_POLL_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sampler.PollIntervalSec = n
		}
	}
	if v := os.Getenv("DAYLOG_IDLE_THRESHOLD_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sampler.IdleThresholdMin = n
		}
	}
	if v := os.Getenv("DAYLOG_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watch.DebounceMs = n
		}
	}
}

// PollInterval returns the sampler cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sampler.PollIntervalSec) * time.Second
}

// IdleThreshold returns the idle threshold as a duration.
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Sampler.IdleThresholdMin) * time.Minute
}

// DebounceWindow returns the debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// ProbeTimeout returns the per-read probe timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Sampler.ProbeTimeoutMs) * time.Millisecond
}
