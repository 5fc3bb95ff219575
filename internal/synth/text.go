package synth

import (
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/marshal"
	"go.klb.dev/clipcache/internal/native"
)

func codePage(env Env, f format.ID) uint32 {
	l := env.Locale
	if l == nil {
		l = locale.Default
	}
	if f == format.OEMText {
		return l.OEMCodePage()
	}
	return l.ANSICodePage()
}

func memoryData(h native.Handle) ([]byte, bool) {
	m, ok := h.(*native.Memory)
	if !ok {
		return nil, false
	}
	return m.Data, true
}

func unicodeToText(target format.ID) Convert {
	return func(env Env, src native.Handle) (native.Handle, bool) {
		data, ok := memoryData(src)
		if !ok {
			return nil, false
		}
		s, err := locale.DecodeUTF16(marshal.TrimUnicode(data))
		if err != nil {
			return nil, false
		}
		b, err := locale.Encode(codePage(env, target), s)
		if err != nil {
			return nil, false
		}
		return native.NewMemory(format.CategoryText, marshal.TerminateText(b)), true
	}
}

func textToUnicode(source format.ID) Convert {
	return func(env Env, src native.Handle) (native.Handle, bool) {
		data, ok := memoryData(src)
		if !ok {
			return nil, false
		}
		s, err := locale.Decode(codePage(env, source), marshal.TrimText(data))
		if err != nil {
			return nil, false
		}
		return native.NewMemory(format.CategoryUnicodeText, marshal.TerminateUnicode(locale.EncodeUTF16(s))), true
	}
}

func textToText(source, target format.ID) Convert {
	return func(env Env, src native.Handle) (native.Handle, bool) {
		data, ok := memoryData(src)
		if !ok {
			return nil, false
		}
		s, err := locale.Decode(codePage(env, source), marshal.TrimText(data))
		if err != nil {
			return nil, false
		}
		b, err := locale.Encode(codePage(env, target), s)
		if err != nil {
			return nil, false
		}
		return native.NewMemory(format.CategoryText, marshal.TerminateText(b)), true
	}
}
