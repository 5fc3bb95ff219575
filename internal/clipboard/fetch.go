package clipboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/native"
	"go.klb.dev/clipcache/internal/synth"
)

// Get returns the native form of f, fetching or synthesizing it as needed.
// The handle is borrowed: it stays valid until f is replaced, emptied or the
// clipboard is torn down.
func (c *Clipboard) Get(ctx context.Context, f format.ID) (native.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(ctx, f)
}

func (c *Clipboard) getLocked(ctx context.Context, f format.ID) (native.Handle, error) {
	if c.auth == nil {
		return nil, ErrNotConnected
	}
	if f == 0 {
		return nil, notFound(f)
	}
	return c.resolve(ctx, f, synth.Path{}, true)
}

// resolve runs the full fetch path for f. Every "not available" outcome is
// an error wrapping ErrNotFound; anything else aborts the request.
func (c *Clipboard) resolve(ctx context.Context, f format.ID, path synth.Path, render bool) (native.Handle, error) {
	e := c.entries[f]
	if e != nil && c.session != nil && e.seq == c.session.current {
		slog.Debug("cache hit", "format", f, "seq", e.seq)
		return e.h, nil
	}

	var cached uint64
	if e != nil {
		cached = e.seq
	}
	res, err := c.auth.Get(ctx, f, cached)
	if err != nil {
		return nil, authErr("get", err)
	}
	c.observe(res.Current)

	switch res.Status {
	case authority.Unchanged:
		if e == nil {
			return nil, fmt.Errorf("%w: %s unchanged without a cached copy", ErrNotFound, f)
		}
		e.seq = res.Current
		slog.Debug("cache revalidated", "format", f, "seq", e.seq)
		return e.h, nil

	case authority.Found:
		h, err := c.codecs.Deserialize(f, res.Data)
		if err != nil {
			c.dropLocked(f)
			slog.Debug("dropping malformed data", "format", f, "err", err)
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		c.storeLocked(f, h, res.Current)
		return h, nil

	case authority.NotFound:
		c.dropLocked(f)
		if res.Empty {
			return nil, notFound(f)
		}
		h, ok, err := c.engine.Synthesize(ctx, f, path, source{c})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFound(f)
		}
		return h, nil

	case authority.OwnerMustRender:
		if !render {
			return nil, notFound(f)
		}
		if err := c.ownerRender(ctx, res.Owner, f); err != nil {
			return nil, err
		}
		return c.resolve(ctx, f, path, false)
	}
	return nil, fmt.Errorf("%w: unexpected status %s", ErrAuthority, res.Status)
}

// ownerRender gets a delayed format rendered. A render by this process runs
// inline; a remote owner is asked with the lock released.
func (c *Clipboard) ownerRender(ctx context.Context, owner authority.ProcessRef, f format.ID) error {
	if owner == c.auth.Process() {
		return c.renderLocked(ctx, f)
	}

	c.mu.Unlock()
	rctx, cancel := context.WithTimeout(ctx, c.renderTimeout)
	err := c.auth.RequestRender(rctx, owner, f)
	cancel()
	c.mu.Lock()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, authority.ErrRenderTimeout), errors.Is(err, context.DeadlineExceeded):
		slog.Debug("owner render timed out", "format", f, "owner", owner)
		return fmt.Errorf("%w: %w", ErrNotFound, ErrOwnerRenderTimeout)
	case errors.Is(err, authority.ErrNoRenderer):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return authErr("render", err)
}

// renderLocked renders one of this process's delayed formats and puts it.
func (c *Clipboard) renderLocked(ctx context.Context, f format.ID) error {
	fn, ok := c.renderers[f]
	if !ok {
		return fmt.Errorf("%w: no renderer for %s", ErrNotFound, f)
	}
	h, err := fn(ctx, f)
	if err != nil {
		return fmt.Errorf("%w: render %s: %w", ErrNotFound, f, err)
	}
	data, err := c.codecs.Serialize(f, h)
	if err != nil {
		h.Release()
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if _, err := c.putLocked(ctx, f, h, data); err != nil {
		h.Release()
		return err
	}
	return nil
}

// renderForPeer is the render handler registered with the authority.
func (c *Clipboard) renderForPeer(ctx context.Context, f format.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked(ctx, f)
}

// source adapts the clipboard to the synthesis engine. It runs with c.mu
// held by the caller.
type source struct{ c *Clipboard }

func (s source) Resolve(ctx context.Context, f format.ID, path synth.Path) (native.Handle, bool, error) {
	h, err := s.c.resolve(ctx, f, path, true)
	switch {
	case err == nil:
		return h, true, nil
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	}
	return nil, false, err
}

func (s source) Publish(ctx context.Context, f format.ID, h native.Handle) (native.Handle, error) {
	c := s.c
	data, err := c.codecs.Serialize(f, h)
	if err != nil {
		slog.Debug("synthesized data not publishable", "format", f, "err", err)
		c.storeLocked(f, h, c.currentLocked())
		return h, nil
	}
	seq, err := c.auth.Publish(ctx, f, data)
	switch {
	case err == nil:
		c.observe(seq)
		c.storeLocked(f, h, seq)
		return h, nil

	case errors.Is(err, authority.ErrFormatPresent):
		// A concurrent put won. Use its data instead.
		h.Release()
		res, err := c.auth.Get(ctx, f, 0)
		if err != nil {
			return nil, authErr("get", err)
		}
		c.observe(res.Current)
		if res.Status != authority.Found {
			return nil, nil
		}
		direct, err := c.codecs.Deserialize(f, res.Data)
		if err != nil {
			slog.Debug("dropping malformed data", "format", f, "err", err)
			return nil, nil
		}
		c.storeLocked(f, direct, res.Current)
		return direct, nil
	}

	slog.Warn("publish failed", "format", f, "err", err)
	c.storeLocked(f, h, c.currentLocked())
	return h, nil
}

func (c *Clipboard) currentLocked() uint64 {
	if c.session != nil {
		return c.session.current
	}
	return c.lastSeq
}
