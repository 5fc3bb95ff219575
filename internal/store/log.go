package store

import (
	"context"
	"log/slog"
	"strings"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
)

// LogFormat logs a stored format at INFO (process, format, seq) and DEBUG
// (text preview up to 120 chars, or byte size for everything else).
func LogFormat(event string, p authority.ProcessRef, f format.ID, data []byte, seq uint64) {
	slog.Info(event, "process", p, "format", f.String(), "seq", seq)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if format.CategoryOf(f) == format.CategoryText {
		preview := strings.TrimRight(string(data), "\x00")
		if len(preview) > 120 {
			preview = preview[:120] + "…"
		}
		slog.Debug("format data", "format", f.String(), "preview", preview)
	} else {
		slog.Debug("format data", "format", f.String(), "size_bytes", len(data))
	}
}
