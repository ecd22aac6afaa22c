// Package logger constructs the application's root hclog logger. Subsystems
// derive named children from it so every line carries its origin.
package logger

import (
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/nightjar-media/nightjar/internal/config"
)

// New builds the root logger from the logging configuration. Unknown level
// strings fall back to info.
func New(cfg config.LoggingConfig) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "nightjar",
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: cfg.JSON,
	})
}
