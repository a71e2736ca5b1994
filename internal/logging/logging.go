package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Setup installs the process-wide zerolog logger.
func Setup(level, format string) {
	log.Logger = New(level, format, nil)
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// New builds a logger writing to w, or to stderr (console) / stdout (json)
// when w is nil.
func New(level, format string, w io.Writer) zerolog.Logger {
	var out io.Writer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		out = w
		if out == nil {
			out = os.Stdout
		}
	default:
		if w == nil {
			w = os.Stderr
		}
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child of the global logger tagged with component.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
