package clipboard

import (
	"context"
	"fmt"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/marshal"
)

// IsText reports whether f holds text that ExportString and ImportString can
// convert.
func IsText(f format.ID) bool {
	switch format.CategoryOf(f) {
	case format.CategoryText, format.CategoryUnicodeText:
		return true
	}
	return false
}

func (c *Clipboard) codePage(f format.ID) uint32 {
	if f == format.OEMText {
		return c.loc.OEMCodePage()
	}
	return c.loc.ANSICodePage()
}

// ExportString fetches text format f and returns it as UTF-8.
func (c *Clipboard) ExportString(ctx context.Context, f format.ID) (string, error) {
	if !IsText(f) {
		return "", fmt.Errorf("%w: %s is not text", ErrMalformed, f)
	}
	data, err := c.Export(ctx, f)
	if err != nil {
		return "", err
	}
	if format.CategoryOf(f) == format.CategoryUnicodeText {
		return locale.DecodeUTF16(marshal.TrimUnicode(data))
	}
	return locale.Decode(c.codePage(f), marshal.TrimText(data))
}

// ImportString encodes UTF-8 s for text format f and puts it.
func (c *Clipboard) ImportString(ctx context.Context, f format.ID, s string) (uint64, error) {
	var data []byte
	switch format.CategoryOf(f) {
	case format.CategoryUnicodeText:
		data = marshal.TerminateUnicode(locale.EncodeUTF16(s))
	case format.CategoryText:
		enc, err := locale.Encode(c.codePage(f), s)
		if err != nil {
			return 0, err
		}
		data = marshal.TerminateText(enc)
	default:
		return 0, fmt.Errorf("%w: %s is not text", ErrMalformed, f)
	}
	return c.Import(ctx, f, data)
}

// Available lists the well-known formats that are stored or could be
// synthesized from what is stored, plus any stored registered formats.
func (c *Clipboard) Available(ctx context.Context) ([]format.ID, error) {
	stored, err := c.Formats(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[format.ID]bool, len(stored))
	for _, f := range stored {
		present[f] = true
	}
	table := c.engine.Table()
	var out []format.ID
	for _, f := range format.Builtins() {
		if present[f] || table.Reachable(f, func(g format.ID) bool { return present[g] }) {
			out = append(out, f)
		}
	}
	for _, f := range stored {
		if f >= format.FirstRegistered {
			out = append(out, f)
		}
	}
	return out, nil
}
