// Package config provides the small set of settings the adapter needs:
// transport selection, logging, and the default pause-on-entry behavior.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the adapter's runtime settings. CLI flags always win over
// whatever a config file set; a file is optional.
type Config struct {
	// Port is the TCP port to listen on. Zero means "use stdio instead".
	Port int `toml:"port"`

	// Stdio forces stdio transport even if Port is set.
	Stdio bool `toml:"stdio"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`

	// PauseOnEntry is the default value for sessions that don't override
	// it via the launch request's arguments.
	PauseOnEntry bool `toml:"pause_on_entry"`
}

// Default returns the adapter's default configuration: stdio transport,
// info logging, no pause on entry.
func Default() Config {
	return Config{
		Port:         0,
		Stdio:        true,
		LogLevel:     "info",
		PauseOnEntry: false,
	}
}

// Load reads a TOML config file at path and overlays it on Default(). A
// missing file is not an error; it yields Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}
