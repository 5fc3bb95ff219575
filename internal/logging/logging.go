// Package logging configures the global slog logger for clipcache binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat converts a string to a Format, returning FormatAuto for unknown values.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text", "tint", "human":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// ParseLevel converts a string to a slog.Level. Empty or unknown strings give
// fallback.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(s)) != nil {
		return fallback
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Options describes one logger.
type Options struct {
	Format Format
	Level  slog.Level
	Writer io.Writer // default: os.Stderr
}

// Resolve builds Options from flag values. Interactive runs default to debug,
// services to info.
func Resolve(interactive bool, format, level string) Options {
	def := slog.LevelInfo
	if interactive {
		def = slog.LevelDebug
	}
	return Options{Format: ParseFormat(format), Level: ParseLevel(level, def)}
}

// New returns a logger for o: tinter on terminals or when text is asked for,
// JSON otherwise.
func New(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	useTint := o.Format == FormatText || (o.Format == FormatAuto && IsTTY(w))

	var h slog.Handler
	if useTint {
		h = tinter.NewHandler(w, &tinter.Options{
			Level:      o.Level,
			TimeFormat: "15:04:05.000",
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: o.Level})
	}
	return slog.New(h)
}

// Setup installs New(o) as the default logger. Call once after flag parsing.
func Setup(o Options) {
	slog.SetDefault(New(o))
}
