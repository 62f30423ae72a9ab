// Package logging builds the process-wide zerolog.Logger every control
// loop and the CLI embed: a parsed level, a global level for library
// call sites that log through the package-level logger, and a pretty
// console writer in dev mode.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the root logger for level (one of debug/info/warn/error,
// case-insensitive, defaulting to info on empty or unrecognized input)
// and pretty writes to stderr when dev is true, plain JSON otherwise.
func New(level string, dev bool) zerolog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer = os.Stderr
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}).
			Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

// ParseLevel parses a human log level, defaulting to info on an empty
// string and erroring on anything else unrecognized.
func ParseLevel(value string) (zerolog.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(normalized)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", value)
	}
	return lvl, nil
}
