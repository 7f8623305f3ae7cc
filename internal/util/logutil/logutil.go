// Package logutil configures the process-wide zerolog logger.
package logutil

import (
	"time"

	"github.com/rs/zerolog"
)

// Setup applies the configured log level. Unknown levels fall back to info.
func Setup(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
