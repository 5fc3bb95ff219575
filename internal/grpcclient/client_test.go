package grpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/grpcservice"
	"go.klb.dev/clipcache/internal/rpc"
	"go.klb.dev/clipcache/internal/store"
)

type harness struct {
	s   *store.Store
	lis *bufconn.Listener
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	s := store.New(nil)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	rpc.RegisterAuthorityServer(srv, grpcservice.New(s, token))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return &harness{s: s, lis: lis}
}

func (h *harness) dial(t *testing.T, token, source string) *Client {
	t.Helper()
	c, err := Dial(Config{
		Addr:   "passthrough:///bufnet",
		Token:  token,
		Source: source,
		NoTLS:  true,
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) { return h.lis.DialContext(ctx) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })

	select {
	case <-c.Attached():
	case <-time.After(5 * time.Second):
		t.Fatal("attach stream never opened")
	}
	return c
}

func TestClient_PutGet(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t, "", "alpha")
	ctx := context.Background()

	res, err := c.Open(ctx)
	require.NoError(t, err)
	assert.True(t, res.Granted)

	_, err = c.ClaimAndEmpty(ctx)
	require.NoError(t, err)
	seq, err := c.Put(ctx, format.Text, []byte("hi\x00"))
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	got, err := c.Get(ctx, format.Text, 0)
	require.NoError(t, err)
	assert.Equal(t, authority.Found, got.Status)
	assert.Equal(t, []byte("hi\x00"), got.Data)
	assert.Equal(t, seq, got.Sequence)

	again, err := c.Get(ctx, format.Text, seq)
	require.NoError(t, err)
	assert.Equal(t, authority.Unchanged, again.Status)
	assert.Nil(t, again.Data)

	f, ok, err := c.EnumerateNext(ctx, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, format.Text, f)
}

func TestClient_ErrorsMapBack(t *testing.T) {
	h := newHarness(t, "")
	a := h.dial(t, "", "a")
	b := h.dial(t, "", "b")
	ctx := context.Background()

	_, err := a.Put(ctx, format.Text, []byte("x"))
	assert.ErrorIs(t, err, authority.ErrNotOpen)

	_, err = a.Open(ctx)
	require.NoError(t, err)
	_, err = a.Put(ctx, format.Text, []byte("x\x00"))
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	_, err = b.Publish(ctx, format.Text, []byte("y\x00"))
	assert.ErrorIs(t, err, authority.ErrFormatPresent)

	res, err := b.Open(ctx)
	require.NoError(t, err)
	require.True(t, res.Granted)
	_, err = b.Put(ctx, format.OEMText, []byte("z\x00"))
	assert.ErrorIs(t, err, authority.ErrNotOwner)

	assert.ErrorIs(t, a.Close(ctx), authority.ErrNotOpen)
}

func TestClient_Unauthenticated(t *testing.T) {
	h := newHarness(t, "secret")
	c, err := Dial(Config{
		Addr:   "passthrough:///bufnet",
		Token:  "wrong",
		NoTLS:  true,
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) { return h.lis.DialContext(ctx) },
	})
	require.NoError(t, err)
	defer c.Shutdown()

	_, err = c.Open(context.Background())
	assert.ErrorIs(t, err, authority.ErrUnavailable)
}

func TestClient_DelayedRenderThroughAttach(t *testing.T) {
	h := newHarness(t, "")
	owner := h.dial(t, "", "owner")
	reader := h.dial(t, "", "reader")
	ctx := context.Background()

	owner.SetRenderHandler(func(ctx context.Context, f format.ID) error {
		_, err := owner.Put(ctx, f, []byte("late\x00"))
		return err
	})

	_, err := owner.Open(ctx)
	require.NoError(t, err)
	_, err = owner.ClaimAndEmpty(ctx)
	require.NoError(t, err)
	_, err = owner.PutDelayed(ctx, format.Text)
	require.NoError(t, err)
	require.NoError(t, owner.Close(ctx))

	res, err := reader.Get(ctx, format.Text, 0)
	require.NoError(t, err)
	require.Equal(t, authority.OwnerMustRender, res.Status)
	assert.Equal(t, owner.Process(), res.Owner)

	rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, reader.RequestRender(rctx, res.Owner, format.Text))

	res, err = reader.Get(ctx, format.Text, 0)
	require.NoError(t, err)
	assert.Equal(t, authority.Found, res.Status)
	assert.Equal(t, []byte("late\x00"), res.Data)
}

func TestClient_StatusAndRegister(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t, "", "inspector")
	ctx := context.Background()

	id, err := c.RegisterFormat(ctx, "Rich Text Format")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, id, format.FirstRegistered)

	snap, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Sequence)
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, c.Process(), snap.Processes[0].Process)
	assert.Equal(t, "inspector", snap.Processes[0].Source)
	assert.False(t, snap.Taken.IsZero())
}

func TestClient_DetachReleasesOpen(t *testing.T) {
	h := newHarness(t, "")
	a := h.dial(t, "", "a")
	b := h.dial(t, "", "b")
	ctx := context.Background()

	res, err := a.Open(ctx)
	require.NoError(t, err)
	require.True(t, res.Granted)
	require.NoError(t, a.Shutdown())

	require.Eventually(t, func() bool {
		res, err := b.Open(ctx)
		return err == nil && res.Granted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestClipboardOverGRPC(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	writer := clipboard.New(clipboard.Config{Authority: h.dial(t, "", "w"), Graphics: gdi.NewTable()})
	reader := clipboard.New(clipboard.Config{Authority: h.dial(t, "", "r"), Graphics: gdi.NewTable()})

	require.NoError(t, writer.Open(ctx))
	require.NoError(t, writer.Empty(ctx))
	_, err := writer.Import(ctx, format.Text, []byte("Hi\x00"))
	require.NoError(t, err)
	require.NoError(t, writer.Close(ctx))

	got, err := reader.Export(ctx, format.UnicodeText)
	require.NoError(t, err)
	assert.Equal(t, []byte{'H', 0, 'i', 0, 0, 0}, got)

	formats, err := reader.Formats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []format.ID{format.Text, format.UnicodeText}, formats)
}

func TestClient_CallDeadlineIsNotRenderTimeout(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t, "", "late")

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := c.Get(ctx, format.Text, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, authority.ErrRenderTimeout)
}
