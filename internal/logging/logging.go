// Package logging installs the process-wide slog logger.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrUnknownLevel = errors.New("logging: unknown level")

// ciVars mark non-interactive runs even when a terminal is attached.
var ciVars = []string{"CI", "CONTINUOUS_INTEGRATION", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "TF_BUILD", "JENKINS_URL"}

// ParseLevel maps debug, info, warn and error to slog levels. "" is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Interactive reports whether f is a terminal outside CI.
func Interactive(f *os.File) bool {
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return false
		}
	}
	return term.IsTerminal(int(f.Fd()))
}

// New builds a logger writing to w. format is auto, text or json; auto
// picks text when interactive is true.
func New(w io.Writer, level, format string, interactive bool) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "auto":
		if interactive {
			return slog.New(slog.NewTextHandler(w, opts)), nil
		}
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("logging: unknown format %q", format)
}

// Setup installs a stderr logger as the slog default.
func Setup(level, format string) (*slog.Logger, error) {
	l, err := New(os.Stderr, level, format, Interactive(os.Stderr))
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}
