// Package logging constructs the daemon's single zerolog.Logger
// (SPEC_FULL §10 "Logging"). Grounded on the teacher's pkg/logger/logger.go
// almost verbatim.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger at the given level (debug/info/warn/error),
// defaulting to info on an unparseable level string.
func New(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(logLevel)
}
