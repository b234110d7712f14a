package monitoring

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewZerologLogf returns a Logf-compatible function backed by zerolog.
//
// A leading "[component] " prefix becomes the component field. Messages that
// start with "warning:" or "error:" are logged at that level, everything else
// at info. Messages below minLevel are dropped. With jsonOutput false the
// output is zerolog's console format.
func NewZerologLogf(w io.Writer, jsonOutput bool, minLevel zerolog.Level) func(format string, v ...interface{}) {
	out := w
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(out).Level(minLevel).With().Timestamp().Logger()

	return func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		component, msg := splitComponent(msg)
		level, msg := splitLevel(msg)

		event := logger.WithLevel(level)
		if component != "" {
			event = event.Str("component", component)
		}
		event.Msg(msg)
	}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func splitComponent(msg string) (string, string) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg
	}
	end := strings.Index(msg, "] ")
	if end < 0 {
		return "", msg
	}
	return msg[1:end], msg[end+2:]
}

func splitLevel(msg string) (zerolog.Level, string) {
	lower := strings.ToLower(msg)
	switch {
	case strings.HasPrefix(lower, "warning:"):
		return zerolog.WarnLevel, strings.TrimSpace(msg[len("warning:"):])
	case strings.HasPrefix(lower, "error:"):
		return zerolog.ErrorLevel, strings.TrimSpace(msg[len("error:"):])
	}
	return zerolog.InfoLevel, msg
}
