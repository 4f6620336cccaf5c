// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog.Logger every homeserver component
// receives.
//
// The "auto" format writes slog text when the destination is a
// terminal and JSON otherwise, so an operator watching a console gets
// readable lines while a supervisor collecting output gets records it
// can parse.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Output formats accepted by New.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel maps a configured level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// New returns a logger writing to output at level in format.
func New(output io.Writer, level, format string) (*slog.Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: parsed}

	switch format {
	case FormatAuto, "":
		if isTerminal(output) {
			return slog.New(slog.NewTextHandler(output, options)), nil
		}
		return slog.New(slog.NewJSONHandler(output, options)), nil
	case FormatText:
		return slog.New(slog.NewTextHandler(output, options)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(output, options)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// NewCommandLogger is the keytool's logger: auto format on stderr at
// info level.
func NewCommandLogger() *slog.Logger {
	logger, _ := New(os.Stderr, "info", FormatAuto)
	return logger
}

// Discard returns a logger that drops every record. Tests pass it to
// components that require a logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
