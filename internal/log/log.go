// Package log builds the zerolog loggers used across the bot.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with bot-specific helpers.
type Logger struct {
	zerolog.Logger
}

// New creates the root logger. level is one of trace, debug, info, warn,
// error, fatal, panic; anything else falls back to info. pretty switches to
// a human-readable console writer for local runs.
func New(level string, pretty bool) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logLevel := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "trace":
		logLevel = zerolog.TraceLevel
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	case "fatal":
		logLevel = zerolog.FatalLevel
	case "panic":
		logLevel = zerolog.PanicLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	var zlog zerolog.Logger
	if pretty {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		zlog = zerolog.New(output)
	} else {
		zlog = zerolog.New(os.Stdout)
	}

	return Logger{zlog.With().Timestamp().Logger()}
}

// Component creates a child logger tagged with a component name.
func (l Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
