/*
Package logx wraps the zerolog global logger.

Init picks console or JSON output; With hands components a child logger
carrying their own fields.
*/
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Development mode logs at debug level in
// console format, otherwise info level JSON. A nil writer means stderr.
func Init(isDevelopment bool, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(out).With().Timestamp().Logger()
	if isDevelopment {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    out != os.Stderr,
			TimeFormat: time.RFC3339,
		})
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	log.Logger = logger
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// With returns a child of the global logger tagged with the given component.
func With(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Discard is a logger that drops everything, handy in tests.
func Discard() zerolog.Logger {
	return zerolog.Nop()
}
