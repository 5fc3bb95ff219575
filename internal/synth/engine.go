package synth

import (
	"context"
	"log/slog"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/native"
)

// Source is the fetch path the engine recurses through.
type Source interface {
	// Resolve fetches f through the full path, synthesizing it if needed. The
	// returned handle is borrowed. ok is false when f cannot be produced; err
	// is reserved for failures that must abort the whole request.
	Resolve(ctx context.Context, f format.ID, path Path) (h native.Handle, ok bool, err error)
	// Publish takes ownership of h, a freshly synthesized f, and returns the
	// handle the caller should see.
	Publish(ctx context.Context, f format.ID, h native.Handle) (native.Handle, error)
}

// Engine runs synthesis over a Table.
type Engine struct {
	table *Table
	env   Env
}

// NewEngine returns an engine. A nil table selects Default.
func NewEngine(t *Table, env Env) *Engine {
	if t == nil {
		t = Default
	}
	return &Engine{table: t, env: env}
}

// Table returns the conversion table in use.
func (e *Engine) Table() *Table { return e.table }

// Synthesize tries each candidate source of target in order. path holds the
// formats already being synthesized further up the call chain.
func (e *Engine) Synthesize(ctx context.Context, target format.ID, path Path, src Source) (native.Handle, bool, error) {
	next, ok := path.Push(target)
	if !ok {
		slog.Debug("synthesis depth exhausted", "format", target, "depth", path.Depth(), "path", path.String())
		return nil, false, nil
	}
	for _, edge := range e.table.Candidates(target) {
		if next.Contains(edge.Source) {
			continue
		}
		h, ok, err := src.Resolve(ctx, edge.Source, next)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		out, ok := edge.Convert(e.env, h)
		if !ok {
			slog.Debug("conversion failed", "format", target, "source", edge.Source)
			continue
		}
		slog.Debug("synthesized", "format", target, "source", edge.Source)
		final, err := src.Publish(ctx, target, out)
		if err != nil {
			return nil, false, err
		}
		return final, final != nil, nil
	}
	return nil, false, nil
}
