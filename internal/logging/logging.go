// Package logging provides a thin zerolog wrapper shared by every
// component of the link core.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var global = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
	With().Timestamp().Logger()

// SetLevel parses level (debug, info, warn, error) and applies it
// globally. An unrecognized level falls back to info.
func SetLevel(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// Logger returns the shared logger.
func Logger() zerolog.Logger {
	return global
}

// For returns a child logger tagged with the given component name, e.g.
// "registry", "master", "midiclock".
func For(component string) zerolog.Logger {
	return global.With().Str("component", component).Logger()
}
