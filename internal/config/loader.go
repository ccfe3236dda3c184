package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the data directory when no path is given.
const DefaultFileName = "config.toml"

// Load builds the configuration from defaults, the file at path (if any)
// and environment overrides, then validates it.
// An empty path falls back to <data_dir>/config.toml when that file exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if dir := os.Getenv("FACEMON_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	if path == "" {
		candidate := filepath.Join(cfg.DataDir, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile overlays the file onto cfg. Keys missing from the file keep
// their current values.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse TOML config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", ext)
	}
	return nil
}
