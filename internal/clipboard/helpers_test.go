package clipboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/native"
	"go.klb.dev/clipcache/internal/store"
)

// countingClient records every round trip made through an authority client
// and lets tests inject failures.
type countingClient struct {
	authority.Client

	mu         sync.Mutex
	calls      map[string]int
	getErr     error
	publishErr func(f format.ID) error
}

func (c *countingClient) count(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

func (c *countingClient) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *countingClient) Reset() {
	c.mu.Lock()
	clear(c.calls)
	c.mu.Unlock()
}

func (c *countingClient) Get(ctx context.Context, f format.ID, cached uint64) (authority.FetchResult, error) {
	c.count("get")
	if c.getErr != nil {
		return authority.FetchResult{}, c.getErr
	}
	return c.Client.Get(ctx, f, cached)
}

func (c *countingClient) Publish(ctx context.Context, f format.ID, data []byte) (uint64, error) {
	c.count("publish")
	if c.publishErr != nil {
		if err := c.publishErr(f); err != nil {
			return 0, err
		}
	}
	return c.Client.Publish(ctx, f, data)
}

func (c *countingClient) Put(ctx context.Context, f format.ID, data []byte) (uint64, error) {
	c.count("put")
	return c.Client.Put(ctx, f, data)
}

func (c *countingClient) RequestRender(ctx context.Context, owner authority.ProcessRef, f format.ID) error {
	c.count("render")
	return c.Client.RequestRender(ctx, owner, f)
}

type proc struct {
	cb     *Clipboard
	client *countingClient
	gdi    *gdi.Table
}

func newProc(t *testing.T, s *store.Store, name string) *proc {
	t.Helper()
	local := s.Bind(authority.ProcessRef(name), name)
	t.Cleanup(local.Detach)
	client := &countingClient{Client: local, calls: map[string]int{}}
	tbl := gdi.NewTable()
	cb := New(Config{Authority: client, Graphics: tbl, RenderTimeout: 200 * time.Millisecond})
	return &proc{cb: cb, client: client, gdi: tbl}
}

func (p *proc) putText(t *testing.T, f format.ID, s string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.cb.Open(ctx))
	_, err := p.cb.Import(ctx, f, []byte(s))
	require.NoError(t, err)
	require.NoError(t, p.cb.Close(ctx))
}

func (p *proc) emptyAndPut(t *testing.T, f format.ID, data []byte) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.cb.Open(ctx))
	require.NoError(t, p.cb.Empty(ctx))
	_, err := p.cb.Import(ctx, f, data)
	require.NoError(t, err)
	require.NoError(t, p.cb.Close(ctx))
}

func memory(t *testing.T, h native.Handle) []byte {
	t.Helper()
	m, ok := h.(*native.Memory)
	require.True(t, ok, "handle is %T", h)
	return m.Data
}
