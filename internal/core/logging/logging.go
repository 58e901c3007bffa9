// Package logging builds the process logger from the --log-level and
// --log-format flags.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// New returns a zerolog logger writing to w.
// format is "json" (default) or "text"; level is any zerolog level name.
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "invalid log level %q", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
	case "text", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), errors.Newf("invalid log format %q (want json or text)", format)
	}

	return zerolog.New(w).
		With().
		Timestamp().
		Str("service", "crawlgate").
		Logger().
		Level(lvl), nil
}
