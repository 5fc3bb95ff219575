package synth

import (
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/native"
)

// MM_ANISOTROPIC: extents are in HIMETRIC units.
const mapModeAnisotropic = 8

func enhToMetafile(env Env, src native.Handle) (native.Handle, bool) {
	e, ok := src.(*native.EnhMetafile)
	if !ok {
		return nil, false
	}
	emf, err := e.G.EnhMetafileBits(e.Obj)
	if err != nil {
		return nil, false
	}
	wmf, err := e.G.WinMetafileFromEnh(e.Obj)
	if err != nil {
		return nil, false
	}
	obj, err := e.G.SetMetafileBits(wmf)
	if err != nil {
		return nil, false
	}
	// rclFrame is {left, top, right, bottom} in .01mm at offset 24.
	pict := gdi.MetafilePict{
		MapMode: mapModeAnisotropic,
		XExt:    int32(le.Uint32(emf[32:])) - int32(le.Uint32(emf[24:])),
		YExt:    int32(le.Uint32(emf[36:])) - int32(le.Uint32(emf[28:])),
	}
	return native.NewMetafilePict(e.G, obj, pict), true
}

func metafileToEnh(env Env, src native.Handle) (native.Handle, bool) {
	m, ok := src.(*native.MetafilePict)
	if !ok {
		return nil, false
	}
	wmf, err := m.G.MetafileBits(m.Obj)
	if err != nil {
		return nil, false
	}
	obj, err := m.G.EnhMetafileFromWin(wmf, m.Pict)
	if err != nil {
		return nil, false
	}
	return native.NewEnhMetafile(m.G, obj), true
}
