// Package logging builds the slog handlers used by the command line tool.
// Library callers pass their own *slog.Logger instead.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Format selects the handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text", "txt", "json" and "" (text).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown log format: %s", s)
}

// level maps a level name to a slog level. "trace" is debug with caller
// information.
type level struct {
	slog   slog.Level
	caller bool
}

func parseLevel(s string) (level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return level{slog.LevelDebug, true}, nil
	case "debug":
		return level{slog.LevelDebug, false}, nil
	case "", "info":
		return level{slog.LevelInfo, false}, nil
	case "warn", "warning":
		return level{slog.LevelWarn, false}, nil
	case "error":
		return level{slog.LevelError, false}, nil
	}
	return level{}, fmt.Errorf("unknown log level: %s", s)
}

// ValidateLevel reports whether s names a level NewHandler accepts.
func ValidateLevel(s string) error {
	_, err := parseLevel(s)
	return err
}

// NewHandler returns a handler writing to w (stderr when nil).
func NewHandler(format Format, logLevel string, w io.Writer) (slog.Handler, error) {
	lvl, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     lvl.slog,
			AddSource: lvl.caller,
		}), nil
	case FormatText, "":
		return log.NewWithOptions(w, log.Options{
			Level:           log.Level(lvl.slog),
			ReportCaller:    lvl.caller,
			ReportTimestamp: lvl.slog <= slog.LevelDebug,
		}), nil
	}
	return nil, fmt.Errorf("unknown log format: %s", format)
}

// NewLogger is NewHandler wrapped in a *slog.Logger.
func NewLogger(format Format, logLevel string, w io.Writer) (*slog.Logger, error) {
	h, err := NewHandler(format, logLevel, w)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}
