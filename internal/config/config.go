// Package config handles configuration loading and validation for facemon.
//
// Precedence (lowest to highest): built-in defaults, config file (TOML or
// YAML, chosen by extension), FACEMON_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the full facemon configuration.
type Config struct {
	DataDir   string          `toml:"data_dir" yaml:"data_dir"`
	Monitor   MonitorConfig   `toml:"monitor" yaml:"monitor"`
	Cooldown  CooldownConfig  `toml:"cooldown" yaml:"cooldown"`
	Reference ReferenceConfig `toml:"reference" yaml:"reference"`
	Camera    CameraConfig    `toml:"camera" yaml:"camera"`
	Matcher   MatcherConfig   `toml:"matcher" yaml:"matcher"`
	Activity  ActivityConfig  `toml:"activity" yaml:"activity"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

// MonitorConfig tunes the presence check loop.
type MonitorConfig struct {
	CheckInterval            time.Duration `toml:"check_interval" yaml:"check_interval"`
	RetryDelay               time.Duration `toml:"retry_delay" yaml:"retry_delay"`
	PacingDelay              time.Duration `toml:"pacing_delay" yaml:"pacing_delay"`
	MaxConsecutiveMismatches int           `toml:"max_consecutive_mismatches" yaml:"max_consecutive_mismatches"`
	IdleThreshold            time.Duration `toml:"idle_threshold" yaml:"idle_threshold"`
	StartupRefresh           bool          `toml:"startup_refresh" yaml:"startup_refresh"`
	RefreshInterval          time.Duration `toml:"refresh_interval" yaml:"refresh_interval"` // 0 disables periodic refresh
}

// CooldownConfig controls the back-off after repeated locks.
type CooldownConfig struct {
	MaxLocks int           `toml:"max_locks" yaml:"max_locks"`
	Window   time.Duration `toml:"window" yaml:"window"`
	Duration time.Duration `toml:"duration" yaml:"duration"`
}

// ReferenceConfig locates and captures the reference images.
type ReferenceConfig struct {
	Dir             string        `toml:"dir" yaml:"dir"` // Defaults to <data_dir>/reference
	CaptureInterval time.Duration `toml:"capture_interval" yaml:"capture_interval"`
	Watch           bool          `toml:"watch" yaml:"watch"`
}

// CameraConfig bounds device probing.
type CameraConfig struct {
	MaxProbe int `toml:"max_probe" yaml:"max_probe"`
}

// MatcherConfig points at the face embedding service.
type MatcherConfig struct {
	URL            string        `toml:"url" yaml:"url"`
	Tolerance      float64       `toml:"tolerance" yaml:"tolerance"`
	Timeout        time.Duration `toml:"timeout" yaml:"timeout"`
	MaxImageSize   int           `toml:"max_image_size" yaml:"max_image_size"` // 0 keeps the original size
	BrightnessGain float64       `toml:"brightness_gain" yaml:"brightness_gain"`
}

// ActivityConfig controls the OS idle-time poller.
type ActivityConfig struct {
	PollInterval time.Duration `toml:"poll_interval" yaml:"poll_interval"`
}

// SessionConfig controls how monitoring sessions follow each other.
type SessionConfig struct {
	RestartDelay time.Duration `toml:"restart_delay" yaml:"restart_delay"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"` // Empty means <data_dir>/facemon.log, "stderr" disables file logging
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir: dataDir,
		Monitor: MonitorConfig{
			CheckInterval:            12 * time.Second,
			RetryDelay:               3 * time.Second,
			PacingDelay:              2 * time.Second,
			MaxConsecutiveMismatches: 3,
			IdleThreshold:            10 * time.Second,
			StartupRefresh:           true,
		},
		Cooldown: CooldownConfig{
			MaxLocks: 3,
			Window:   time.Minute,
			Duration: 3 * time.Minute,
		},
		Reference: ReferenceConfig{
			CaptureInterval: 5 * time.Second,
			Watch:           true,
		},
		Camera: CameraConfig{
			MaxProbe: 10,
		},
		Matcher: MatcherConfig{
			URL:            "http://localhost:8000",
			Tolerance:      1.0,
			Timeout:        10 * time.Second,
			MaxImageSize:   640,
			BrightnessGain: 1.0,
		},
		Activity: ActivityConfig{
			PollInterval: time.Second,
		},
		Session: SessionConfig{
			RestartDelay: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns the data directory for the current user.
// Root uses a system location, everyone else a hidden home directory.
func DefaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/facemon"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".facemon"
	}
	return filepath.Join(home, ".facemon")
}

// ReferenceDir returns the configured reference directory or its default.
func (c *Config) ReferenceDir() string {
	if c.Reference.Dir != "" {
		return c.Reference.Dir
	}
	return filepath.Join(c.DataDir, "reference")
}

// LogFile returns the log destination path, or "" for stderr.
func (c *Config) LogFile() string {
	switch c.Log.File {
	case "":
		return filepath.Join(c.DataDir, "facemon.log")
	case "stderr":
		return ""
	default:
		return c.Log.File
	}
}

// ApplyEnvOverrides applies FACEMON_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("FACEMON_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("FACEMON_REFERENCE_DIR"); v != "" {
		c.Reference.Dir = v
	}
	if v := os.Getenv("FACEMON_MATCHER_URL"); v != "" {
		c.Matcher.URL = v
	}
	if v := os.Getenv("FACEMON_MATCHER_TOLERANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FACEMON_MATCHER_TOLERANCE: %w", err)
		}
		c.Matcher.Tolerance = f
	}
	if v := os.Getenv("FACEMON_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FACEMON_CHECK_INTERVAL: %w", err)
		}
		c.Monitor.CheckInterval = d
	}
	if v := os.Getenv("FACEMON_STARTUP_REFRESH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FACEMON_STARTUP_REFRESH: %w", err)
		}
		c.Monitor.StartupRefresh = b
	}
	if v := os.Getenv("FACEMON_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("FACEMON_LOG_FILE"); ok {
		c.Log.File = v
	}
	return nil
}

// Validate checks the configuration for values the monitor cannot run with.
func (c *Config) Validate() error {
	var errs []string
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}

	positive("monitor.check_interval", c.Monitor.CheckInterval)
	positive("monitor.retry_delay", c.Monitor.RetryDelay)
	if c.Monitor.PacingDelay < 0 {
		errs = append(errs, "monitor.pacing_delay cannot be negative")
	}
	if c.Monitor.MaxConsecutiveMismatches < 1 {
		errs = append(errs, "monitor.max_consecutive_mismatches must be at least 1")
	}
	if c.Monitor.IdleThreshold < 0 {
		errs = append(errs, "monitor.idle_threshold cannot be negative")
	}
	if c.Monitor.RefreshInterval < 0 {
		errs = append(errs, "monitor.refresh_interval cannot be negative")
	}

	if c.Cooldown.MaxLocks < 1 {
		errs = append(errs, "cooldown.max_locks must be at least 1")
	}
	positive("cooldown.window", c.Cooldown.Window)
	if c.Cooldown.Duration < 0 {
		errs = append(errs, "cooldown.duration cannot be negative")
	}

	if c.Reference.CaptureInterval < 0 {
		errs = append(errs, "reference.capture_interval cannot be negative")
	}
	if c.Camera.MaxProbe < 1 {
		errs = append(errs, "camera.max_probe must be at least 1")
	}

	if c.Matcher.URL == "" {
		errs = append(errs, "matcher.url is required")
	}
	if c.Matcher.Tolerance <= 0 {
		errs = append(errs, "matcher.tolerance must be positive")
	}
	positive("matcher.timeout", c.Matcher.Timeout)
	if c.Matcher.MaxImageSize < 0 {
		errs = append(errs, "matcher.max_image_size cannot be negative")
	}
	if c.Matcher.BrightnessGain <= 0 {
		errs = append(errs, "matcher.brightness_gain must be positive")
	}

	positive("activity.poll_interval", c.Activity.PollInterval)
	if c.Session.RestartDelay < 0 {
		errs = append(errs, "session.restart_delay cannot be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
