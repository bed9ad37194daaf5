package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Format "json" or "console"; empty picks console in
// development and JSON everywhere else.
func New(level, format string, production bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format, production)
}

func NewWithWriter(w io.Writer, level, format string, production bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "console"
		if production {
			format = "json"
		}
	}

	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "hotelchat").Logger()
}
