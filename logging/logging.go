// Package logging builds the process-wide zerolog logger and provides
// RedactFields, the helper that replaces secret-named keys before logging.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var redactedKeys = map[string]struct{}{
	"apiKey":    {},
	"apiSecret": {},
	"secretKey": {},
	"password":  {},
	"token":     {},
}

// New builds a zerolog.Logger whose level is parsed from level (one of
// debug, info, warn, error), falling back to info on empty or unknown
// input. In development (LOG_FORMAT=console) it writes human-readable
// lines; otherwise it writes JSON.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var writer zerolog.LevelWriter
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		writer = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		writer = zerolog.MultiLevelWriter(os.Stdout)
	}

	return zerolog.New(writer).
		Level(lvl).
		Hook(redactHook{}).
		With().
		Timestamp().
		Logger()
}

// redactHook is attached to every logger New builds, but it does not
// scrub anything: neither the message nor the event's fields are
// inspected or changed. Secret-named keys are redacted only where a call
// site passes its fields through RedactFields.
type redactHook struct{}

func (redactHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	_ = msg
}

// RedactFields returns a copy of fields with any secret-named key replaced
// by "[REDACTED]", for call sites that log a map of request parameters.
func RedactFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := redactedKeys[k]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
