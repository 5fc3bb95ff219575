// Package clipboard is the per-process view of the shared clipboard: a cache
// of fetched formats kept coherent with the store's sequence counter, with
// on-demand synthesis of formats nobody supplied directly.
//
// A Clipboard serializes all calls on one mutex. The mutex is held across a
// whole Get, including nested synthesis, and released only while waiting
// for another process to render a delayed format.
package clipboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/marshal"
	"go.klb.dev/clipcache/internal/native"
	"go.klb.dev/clipcache/internal/synth"
)

// DefaultRenderTimeout bounds the wait for another process's delayed render.
const DefaultRenderTimeout = 2 * time.Second

// Config configures a Clipboard.
type Config struct {
	Authority     authority.Client
	Graphics      gdi.Graphics  // default: a fresh gdi.Table
	Locale        locale.Locale // default: locale.Default
	Table         *synth.Table  // default: synth.Default
	RenderTimeout time.Duration // default: DefaultRenderTimeout
}

// RenderFunc produces the data of a delayed format when someone asks for it.
// The returned handle moves into the cache.
type RenderFunc func(ctx context.Context, f format.ID) (native.Handle, error)

type entry struct {
	seq uint64
	h   native.Handle
}

type session struct {
	ownerSeen authority.ProcessRef
	current   uint64
}

// Clipboard is a process-wide cache over the shared store.
type Clipboard struct {
	mu            sync.Mutex
	auth          authority.Client
	codecs        *marshal.Registry
	engine        *synth.Engine
	loc           locale.Locale
	renderTimeout time.Duration

	entries   map[format.ID]*entry
	renderers map[format.ID]RenderFunc
	session   *session
	lastSeq   uint64
}

// New returns a Clipboard for cfg. It registers itself as the render handler
// of cfg.Authority.
func New(cfg Config) *Clipboard {
	if cfg.Graphics == nil {
		cfg.Graphics = gdi.NewTable()
	}
	if cfg.Locale == nil {
		cfg.Locale = locale.Default
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	c := &Clipboard{
		auth:          cfg.Authority,
		codecs:        marshal.New(cfg.Graphics),
		engine:        synth.NewEngine(cfg.Table, synth.Env{Locale: cfg.Locale, Graphics: cfg.Graphics}),
		loc:           cfg.Locale,
		renderTimeout: cfg.RenderTimeout,
		entries:       make(map[format.ID]*entry),
		renderers:     make(map[format.ID]RenderFunc),
	}
	if c.auth != nil {
		c.auth.SetRenderHandler(c.renderForPeer)
	}
	return c
}

// Codecs returns the marshaler the clipboard uses.
func (c *Clipboard) Codecs() *marshal.Registry { return c.codecs }

// Process returns the process identity the clipboard speaks for.
func (c *Clipboard) Process() authority.ProcessRef {
	if c.auth == nil {
		return ""
	}
	return c.auth.Process()
}

// Open starts a session. If a different process held the store open before,
// cached simple formats are dropped; resource-backed ones are kept.
func (c *Clipboard) Open(ctx context.Context) error {
	if c.auth == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.auth.Open(ctx)
	if err != nil {
		return authErr("open", err)
	}
	if !res.Granted {
		return ErrOpenDenied
	}
	if res.PreviousOwner != c.auth.Process() {
		for f, e := range c.entries {
			if format.CategoryOf(f).ResourceBacked() {
				continue
			}
			e.h.Release()
			delete(c.entries, f)
		}
		slog.Debug("foreign open, simple formats dropped", "previous", res.PreviousOwner)
	}
	c.session = &session{ownerSeen: res.PreviousOwner, current: res.Sequence}
	c.observe(res.Sequence)
	return nil
}

// Close ends the session. The cache is kept.
func (c *Clipboard) Close(ctx context.Context) error {
	if c.auth == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	return authErr("close", c.auth.Close(ctx))
}

// Empty drops every cached format and empties the store, making this process
// its owner.
func (c *Clipboard) Empty(ctx context.Context) error {
	if c.auth == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseAllLocked()
	seq, err := c.auth.ClaimAndEmpty(ctx)
	if err != nil {
		return authErr("empty", err)
	}
	c.observe(seq)
	return nil
}

// Put stores h as format f. On success the cache takes ownership of h; on
// failure the caller keeps it.
func (c *Clipboard) Put(ctx context.Context, f format.ID, h native.Handle) (uint64, error) {
	if c.auth == nil {
		return 0, ErrNotConnected
	}
	data, err := c.codecs.Serialize(f, h)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", f, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(ctx, f, h, data)
}

func (c *Clipboard) putLocked(ctx context.Context, f format.ID, h native.Handle, data []byte) (uint64, error) {
	seq, err := c.auth.Put(ctx, f, data)
	if err != nil {
		return 0, authErr("put", err)
	}
	c.observe(seq)
	delete(c.renderers, f)
	c.storeLocked(f, h, seq)
	return seq, nil
}

// PutDelayed announces f without data. render is called when a consumer
// asks for it.
func (c *Clipboard) PutDelayed(ctx context.Context, f format.ID, render RenderFunc) (uint64, error) {
	if c.auth == nil {
		return 0, ErrNotConnected
	}
	if render == nil {
		return 0, fmt.Errorf("put delayed %s: nil render func", f)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.auth.PutDelayed(ctx, f)
	if err != nil {
		return 0, authErr("put-delayed", err)
	}
	c.observe(seq)
	c.dropLocked(f)
	c.renderers[f] = render
	return seq, nil
}

// EnumerateNext returns the store format after prev; prev 0 starts over.
func (c *Clipboard) EnumerateNext(ctx context.Context, prev format.ID) (format.ID, bool, error) {
	if c.auth == nil {
		return 0, false, ErrNotConnected
	}
	f, ok, err := c.auth.EnumerateNext(ctx, prev)
	if err != nil {
		return 0, false, authErr("enumerate", err)
	}
	return f, ok, nil
}

// Formats lists every format in the store in insertion order.
func (c *Clipboard) Formats(ctx context.Context) ([]format.ID, error) {
	var out []format.ID
	var prev format.ID
	for {
		f, ok, err := c.EnumerateNext(ctx, prev)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, f)
		prev = f
	}
}

// IsAvailable reports whether f is in the store or can be synthesized from
// a format that is.
func (c *Clipboard) IsAvailable(ctx context.Context, f format.ID) (bool, error) {
	formats, err := c.Formats(ctx)
	if err != nil {
		return false, err
	}
	present := make(map[format.ID]bool, len(formats))
	for _, g := range formats {
		present[g] = true
	}
	return c.engine.Table().Reachable(f, func(g format.ID) bool { return present[g] }), nil
}

// Import deserializes wire data and puts it as f.
func (c *Clipboard) Import(ctx context.Context, f format.ID, data []byte) (uint64, error) {
	h, err := c.codecs.Deserialize(f, data)
	if err != nil {
		return 0, err
	}
	seq, err := c.Put(ctx, f, h)
	if err != nil {
		h.Release()
		return 0, err
	}
	return seq, nil
}

// Export fetches f and returns its wire form.
func (c *Clipboard) Export(ctx context.Context, f format.ID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.getLocked(ctx, f)
	if err != nil {
		return nil, err
	}
	return c.codecs.Serialize(f, h)
}

// Teardown releases every cached handle. The clipboard stays usable.
func (c *Clipboard) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseAllLocked()
	c.session = nil
}

// Cached reports whether f currently has a cache entry.
func (c *Clipboard) Cached(f format.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[f]
	return ok
}

// observe records a sequence reported by the store.
func (c *Clipboard) observe(seq uint64) {
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
	if c.session != nil && seq > c.session.current {
		c.session.current = seq
	}
}

func (c *Clipboard) storeLocked(f format.ID, h native.Handle, seq uint64) {
	if old, ok := c.entries[f]; ok && old.h != h {
		old.h.Release()
	}
	c.entries[f] = &entry{seq: seq, h: h}
}

func (c *Clipboard) dropLocked(f format.ID) {
	if e, ok := c.entries[f]; ok {
		e.h.Release()
		delete(c.entries, f)
	}
}

func (c *Clipboard) releaseAllLocked() {
	for f, e := range c.entries {
		e.h.Release()
		delete(c.entries, f)
	}
	clear(c.renderers)
}
