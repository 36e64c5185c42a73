// Package logging configures the global zerolog logger.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// ErrUnknownLevel is returned for an unrecognized log level name.
var ErrUnknownLevel = errors.New("unknown log level")

// DefaultLevel is used when no level is configured.
const DefaultLevel = "info"

// ParseLevel maps a level name to a zerolog level. "off" and "disabled"
// silence logging.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "off", "disabled":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}

// Setup sets the global level and output. When console is true records are
// rendered for humans, otherwise written as JSON lines.
func Setup(level string, w io.Writer, console bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(lvl)
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w)})
		return nil
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

// Disable silences all logging, for tests.
func Disable() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
