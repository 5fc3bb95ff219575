// Package native holds the process-local forms of clipboard data.
//
// Simple formats are flat byte buffers (Memory). Resource-backed formats wrap
// a live gdi.Object; whoever holds such a handle must Release it exactly once.
package native

import (
	"log/slog"
	"sync"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
)

// Handle is the native form of one format's data.
type Handle interface {
	Category() format.Category
	// Release frees any graphics object behind the handle. It is idempotent.
	Release()
}

// Memory is the native form of every simple category.
type Memory struct {
	Cat  format.Category
	Data []byte
}

func (m *Memory) Category() format.Category { return m.Cat }
func (m *Memory) Release()                  {}

// NewMemory wraps data as a handle of category c.
func NewMemory(c format.Category, data []byte) *Memory {
	return &Memory{Cat: c, Data: data}
}

// resource is the shared part of every resource-backed handle.
type resource struct {
	G   gdi.Graphics
	Obj gdi.Object

	once sync.Once
}

func (r *resource) release(kind string) {
	r.once.Do(func() {
		if r.G == nil || r.Obj == 0 {
			return
		}
		if err := r.G.Delete(r.Obj); err != nil {
			slog.Debug("release failed", "kind", kind, "object", r.Obj, "err", err)
		}
	})
}

// Bitmap is a device-dependent bitmap object.
type Bitmap struct{ resource }

func NewBitmap(g gdi.Graphics, obj gdi.Object) *Bitmap {
	return &Bitmap{resource{G: g, Obj: obj}}
}

func (b *Bitmap) Category() format.Category { return format.CategoryBitmap }
func (b *Bitmap) Release()                  { b.release("bitmap") }

// Palette is a logical palette object.
type Palette struct{ resource }

func NewPalette(g gdi.Graphics, obj gdi.Object) *Palette {
	return &Palette{resource{G: g, Obj: obj}}
}

func (p *Palette) Category() format.Category { return format.CategoryPalette }
func (p *Palette) Release()                  { p.release("palette") }

// MetafilePict is a legacy metafile plus its picture frame.
type MetafilePict struct {
	resource
	Pict gdi.MetafilePict
}

func NewMetafilePict(g gdi.Graphics, obj gdi.Object, pict gdi.MetafilePict) *MetafilePict {
	return &MetafilePict{resource: resource{G: g, Obj: obj}, Pict: pict}
}

func (m *MetafilePict) Category() format.Category { return format.CategoryMetafile }
func (m *MetafilePict) Release()                  { m.release("metafile") }

// EnhMetafile is an enhanced metafile object.
type EnhMetafile struct{ resource }

func NewEnhMetafile(g gdi.Graphics, obj gdi.Object) *EnhMetafile {
	return &EnhMetafile{resource{G: g, Obj: obj}}
}

func (e *EnhMetafile) Category() format.Category { return format.CategoryEnhMetafile }
func (e *EnhMetafile) Release()                  { e.release("enh-metafile") }
