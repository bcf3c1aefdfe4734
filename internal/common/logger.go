package common

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a JSON logger on stdout; development adds a console
// writer and debug level.
func NewLogger(appEnv string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	level := zerolog.InfoLevel
	if appEnv == "development" || appEnv == "dev" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		level = zerolog.DebugLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "roomstage").Logger()
}
