package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
)

const (
	procA authority.ProcessRef = "proc-a"
	procB authority.ProcessRef = "proc-b"
)

func TestOpen_Exclusive(t *testing.T) {
	s := New(nil)

	res := s.Open(procA)
	assert.True(t, res.Granted)
	assert.Equal(t, authority.ProcessRef(""), res.PreviousOwner)
	assert.Equal(t, uint64(1), res.Sequence)

	assert.False(t, s.Open(procB).Granted)
	require.NoError(t, s.Close(procA))
	assert.ErrorIs(t, s.Close(procA), authority.ErrNotOpen)

	res = s.Open(procB)
	assert.True(t, res.Granted)
	assert.Equal(t, procA, res.PreviousOwner)
}

func TestPut_OwnershipAndSequence(t *testing.T) {
	s := New(nil)
	s.Open(procA)
	seq, err := s.Put(procA, format.Text, []byte("a\x00"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	require.NoError(t, s.Close(procA))

	s.Open(procB)
	_, err = s.Put(procB, format.Text, []byte("b\x00"))
	assert.ErrorIs(t, err, authority.ErrNotOwner)

	seq, err = s.ClaimAndEmpty(procB)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	seq, err = s.Put(procB, format.Text, []byte("b\x00"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)

	_, err = s.Put(procB, 0, nil)
	assert.ErrorIs(t, err, authority.ErrInvalidFormat)
}

func TestPut_RequiresOpen(t *testing.T) {
	s := New(nil)
	_, err := s.Put(procA, format.Text, []byte("x"))
	assert.ErrorIs(t, err, authority.ErrNotOpen)
	_, err = s.ClaimAndEmpty(procA)
	assert.ErrorIs(t, err, authority.ErrNotOpen)
}

func TestGet(t *testing.T) {
	s := New(nil)
	res := s.Get(format.Text, 0)
	assert.Equal(t, authority.NotFound, res.Status)
	assert.True(t, res.Empty)

	s.Open(procA)
	seq, err := s.Put(procA, format.Text, []byte("hi\x00"))
	require.NoError(t, err)

	res = s.Get(format.Text, 0)
	assert.Equal(t, authority.Found, res.Status)
	assert.Equal(t, []byte("hi\x00"), res.Data)
	assert.Equal(t, seq, res.Sequence)
	assert.Equal(t, seq, res.Current)

	res = s.Get(format.Text, seq)
	assert.Equal(t, authority.Unchanged, res.Status)
	assert.Nil(t, res.Data)

	res = s.Get(format.Text, seq-1)
	assert.Equal(t, authority.Found, res.Status)

	res = s.Get(format.DIB, 0)
	assert.Equal(t, authority.NotFound, res.Status)
	assert.False(t, res.Empty)
}

func TestPublish(t *testing.T) {
	s := New(nil)
	s.Open(procA)
	_, err := s.Put(procA, format.Text, []byte("x\x00"))
	require.NoError(t, err)
	require.NoError(t, s.Close(procA))

	seq, err := s.Publish(procB, format.UnicodeText, []byte{'x', 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	_, err = s.Publish(procB, format.UnicodeText, []byte{'y', 0, 0, 0})
	assert.ErrorIs(t, err, authority.ErrFormatPresent)

	snap := s.Status()
	assert.Equal(t, procA, snap.Owner)
	require.Len(t, snap.Formats, 2)
	assert.True(t, snap.Formats[1].Synthesized)
}

func TestEnumerate_InsertionOrder(t *testing.T) {
	s := New(nil)
	s.Open(procA)
	for _, f := range []format.ID{format.DIB, format.Text, format.FirstRegistered} {
		_, err := s.Put(procA, f, []byte{1})
		require.NoError(t, err)
	}
	// Replacing keeps the original position.
	_, err := s.Put(procA, format.DIB, []byte{2})
	require.NoError(t, err)

	var got []format.ID
	for f, ok := s.EnumerateNext(0); ok; f, ok = s.EnumerateNext(f) {
		got = append(got, f)
	}
	assert.Equal(t, []format.ID{format.DIB, format.Text, format.FirstRegistered}, got)

	_, ok := s.EnumerateNext(format.Bitmap)
	assert.False(t, ok)
}

func TestDelayedRender(t *testing.T) {
	s := New(nil)
	owner := s.Bind(procA, "owner")
	defer owner.Detach()
	reader := s.Bind(procB, "reader")
	defer reader.Detach()
	ctx := context.Background()

	owner.SetRenderHandler(func(ctx context.Context, f format.ID) error {
		_, err := owner.Put(ctx, f, []byte("rendered\x00"))
		return err
	})

	_, err := owner.Open(ctx)
	require.NoError(t, err)
	_, err = owner.PutDelayed(ctx, format.Text)
	require.NoError(t, err)
	require.NoError(t, owner.Close(ctx))

	res, err := reader.Get(ctx, format.Text, 0)
	require.NoError(t, err)
	require.Equal(t, authority.OwnerMustRender, res.Status)
	assert.Equal(t, procA, res.Owner)

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, reader.RequestRender(rctx, res.Owner, format.Text))

	res, err = reader.Get(ctx, format.Text, 0)
	require.NoError(t, err)
	assert.Equal(t, authority.Found, res.Status)
	assert.Equal(t, []byte("rendered\x00"), res.Data)
}

func TestDelayedRender_Timeout(t *testing.T) {
	s := New(nil)
	owner := s.Bind(procA, "owner")
	defer owner.Detach()
	ctx := context.Background()

	_, _ = owner.Open(ctx)
	_, err := owner.PutDelayed(ctx, format.Text)
	require.NoError(t, err)

	rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = s.RequestRender(rctx, procB, procA, format.Text)
	assert.ErrorIs(t, err, authority.ErrRenderTimeout)

	s.mu.RLock()
	assert.Empty(t, s.waiters)
	s.mu.RUnlock()
}

func TestRequestRender_NoRenderer(t *testing.T) {
	s := New(nil)
	s.Open(procA)
	_, err := s.PutDelayed(procA, format.Text)
	require.NoError(t, err)
	err = s.RequestRender(context.Background(), procB, procA, format.Text)
	assert.ErrorIs(t, err, authority.ErrNoRenderer)
}

func TestDetach_ReleasesOpen(t *testing.T) {
	s := New(nil)
	l := s.Bind(procA, "a")
	_, err := l.Open(context.Background())
	require.NoError(t, err)
	l.Detach()
	l.Detach()

	assert.True(t, s.Open(procB).Granted)
	assert.Empty(t, s.Status().Processes)
}
