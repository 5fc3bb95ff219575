package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
)

// RenderTimeout bounds one owner-side render triggered by a request.
const RenderTimeout = 5 * time.Second

// Local is an in-process authority.Client bound to one process.
type Local struct {
	s      *Store
	p      authority.ProcessRef
	detach func()

	mu      sync.RWMutex
	handler authority.RenderHandler
	done    chan struct{}
}

var _ authority.Client = (*Local)(nil)
var _ authority.Inspector = (*Local)(nil)
var _ authority.Registrar = (*Local)(nil)

// Bind attaches p to the store and returns its client. Detach must be called
// when the process is done.
func (s *Store) Bind(p authority.ProcessRef, source string) *Local {
	renders, detach := s.Attach(p, source)
	l := &Local{s: s, p: p, detach: detach, done: make(chan struct{})}
	go l.serveRenders(renders)
	return l
}

// Detach removes the process from the store and stops render delivery.
func (l *Local) Detach() {
	l.detach()
	l.mu.Lock()
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	l.mu.Unlock()
}

func (l *Local) serveRenders(renders <-chan RenderRequest) {
	for {
		select {
		case <-l.done:
			return
		case req := <-renders:
			ServeRender(l.renderHandler(), req)
		}
	}
}

func (l *Local) renderHandler() authority.RenderHandler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handler
}

// ServeRender runs h for one request, bounded by RenderTimeout.
func ServeRender(h authority.RenderHandler, req RenderRequest) {
	if h == nil {
		slog.Debug("render request without handler", "format", req.Format, "requester", req.Requester)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), RenderTimeout)
	defer cancel()
	if err := h(ctx, req.Format); err != nil {
		slog.Warn("render failed", "format", req.Format, "requester", req.Requester, "err", err)
	}
}

func (l *Local) Process() authority.ProcessRef { return l.p }

func (l *Local) SetRenderHandler(h authority.RenderHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Local) Open(context.Context) (authority.OpenResult, error) {
	return l.s.Open(l.p), nil
}

func (l *Local) Close(context.Context) error { return l.s.Close(l.p) }

func (l *Local) ClaimAndEmpty(context.Context) (uint64, error) { return l.s.ClaimAndEmpty(l.p) }

func (l *Local) Put(_ context.Context, f format.ID, data []byte) (uint64, error) {
	return l.s.Put(l.p, f, data)
}

func (l *Local) PutDelayed(_ context.Context, f format.ID) (uint64, error) {
	return l.s.PutDelayed(l.p, f)
}

func (l *Local) Publish(_ context.Context, f format.ID, data []byte) (uint64, error) {
	return l.s.Publish(l.p, f, data)
}

func (l *Local) Get(_ context.Context, f format.ID, cached uint64) (authority.FetchResult, error) {
	return l.s.Get(f, cached), nil
}

func (l *Local) EnumerateNext(_ context.Context, prev format.ID) (format.ID, bool, error) {
	f, ok := l.s.EnumerateNext(prev)
	return f, ok, nil
}

func (l *Local) RequestRender(ctx context.Context, owner authority.ProcessRef, f format.ID) error {
	return l.s.RequestRender(ctx, l.p, owner, f)
}

func (l *Local) Status(context.Context) (authority.Snapshot, error) { return l.s.Status(), nil }

func (l *Local) RegisterFormat(_ context.Context, name string) (format.ID, error) {
	return l.s.Register(name)
}
