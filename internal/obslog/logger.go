// Package obslog builds the root zerolog logger deploy-core's components
// derive their sub-loggers from.
package obslog

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a root logger writing JSON to stdout, or console-pretty output
// when pretty is set (OBTURA_LOG_PRETTY=true in development).
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out zerolog.ConsoleWriter
	if pretty {
		out = zerolog.NewConsoleWriter()
		out.Out = os.Stdout
		return zerolog.New(out).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Component returns a sub-logger of base tagged with a "component" field.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
