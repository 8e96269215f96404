package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const (
	logFormatText = "text"
	logFormatJSON = "json"
)

func newLogger(output io.Writer, level slog.Level, format string) *slog.Logger {
	if format == logFormatJSON {
		return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	}
	handler := tint.NewHandler(output, &tint.Options{
		Level:      level,
		AddSource:  false,
		TimeFormat: "2006-01-02 15:04:05.000Z07:00",
		NoColor:    !isTerminal(output),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf(
			"parse log level: unsupported value %q (allowed: %q, %q, %q, %q)",
			input, "debug", "info", "warn", "error",
		)
	}
}

func parseLogFormat(input string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case logFormatText, "":
		return logFormatText, nil
	case logFormatJSON:
		return logFormatJSON, nil
	default:
		return "", fmt.Errorf(
			"parse log format: unsupported value %q (allowed: %q, %q)",
			input, logFormatText, logFormatJSON,
		)
	}
}
