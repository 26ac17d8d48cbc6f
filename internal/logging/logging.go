// Package logging builds the process slog logger.
//
// Output is text on a terminal and JSON otherwise, unless LOG_FORMAT
// (text/json) says otherwise. LOG_LEVEL selects debug/info/warn/error.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configures a logger.
type Options struct {
	Format    string // "text", "json" or "" for TTY detection
	Level     slog.Level
	Output    *os.File // Defaults to stdout
	AddSource bool
}

// OptionsFromEnv reads LOG_FORMAT and LOG_LEVEL.
func OptionsFromEnv() Options {
	return Options{
		Format:    strings.ToLower(os.Getenv("LOG_FORMAT")),
		Level:     ParseLevel(os.Getenv("LOG_LEVEL")),
		Output:    os.Stdout,
		AddSource: true,
	}
}

// New creates a logger from options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	useText := opts.Format == "text" || (opts.Format == "" && isatty(out))
	return slog.New(newHandler(out, useText, opts))
}

func newHandler(w io.Writer, text bool, opts Options) slog.Handler {
	wd, _ := os.Getwd()

	hopts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Source paths relative to the working directory
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					if rel, err := filepath.Rel(wd, src.File); err == nil {
						src.File = rel
					} else {
						src.File = filepath.Base(src.File)
					}
				}
			}
			return a
		},
	}

	if text {
		return slog.NewTextHandler(w, hopts)
	}
	return slog.NewJSONHandler(w, hopts)
}

// ParseLevel converts a string log level to slog.Level. Unknown values are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault builds a logger from the environment and installs it as the slog default.
func SetDefault() *slog.Logger {
	logger := New(OptionsFromEnv())
	slog.SetDefault(logger)
	return logger
}

func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
