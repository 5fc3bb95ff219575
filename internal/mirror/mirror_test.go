package mirror

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/clip"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/marshal"
	"go.klb.dev/clipcache/internal/store"
)

type fakeBackend struct {
	mu     sync.Mutex
	items  []clip.Item
	writes [][]clip.Item
	ch     chan struct{}
}

func newFake() *fakeBackend { return &fakeBackend{ch: make(chan struct{}, 1)} }

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Read() ([]clip.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items, nil
}

func (b *fakeBackend) Write(items []clip.Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = items
	b.writes = append(b.writes, items)
	return nil
}

func (b *fakeBackend) Watch() <-chan struct{} { return b.ch }
func (b *fakeBackend) Close()                 {}

// set simulates a user copying something on the host.
func (b *fakeBackend) set(items ...clip.Item) {
	b.mu.Lock()
	b.items = items
	b.mu.Unlock()
	select {
	case b.ch <- struct{}{}:
	default:
	}
}

func (b *fakeBackend) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

type harness struct {
	s       *store.Store
	backend *fakeBackend
	m       *Mirror
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.New(nil)
	l := s.Bind("mirror", "test")
	t.Cleanup(l.Detach)
	b := newFake()
	return &harness{s: s, backend: b, m: New(Config{Client: l, Backend: b})}
}

func (h *harness) peer(t *testing.T, name string) *clipboard.Clipboard {
	t.Helper()
	l := h.s.Bind(authority.ProcessRef(name), "test")
	t.Cleanup(l.Detach)
	return clipboard.New(clipboard.Config{Authority: l})
}

func TestImport_TextIsNormalisedAndSynthesizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// "e" followed by a combining acute accent.
	h.backend.set(clip.Item{MIME: clip.MIMEText, Data: []byte("cafe\u0301")})
	require.NoError(t, h.m.Import(ctx))

	reader := h.peer(t, "reader")
	got, err := reader.Export(ctx, format.UnicodeText)
	require.NoError(t, err)
	assert.Equal(t, marshal.TerminateUnicode(locale.EncodeUTF16("caf\u00e9")), got)

	ansi, err := reader.Export(ctx, format.Text)
	require.NoError(t, err)
	assert.Equal(t, []byte("caf\xe9\x00"), ansi)

	snap := h.s.Status()
	assert.EqualValues(t, "mirror", snap.Owner)
}

func TestImport_SameContentsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backend.set(clip.Item{MIME: clip.MIMEText, Data: []byte("x")})
	require.NoError(t, h.m.Import(ctx))
	seq := h.s.Sequence()
	require.NoError(t, h.m.Import(ctx))
	assert.Equal(t, seq, h.s.Sequence())
}

func TestExport_ForeignChangeReachesOS(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	writer := h.peer(t, "writer")
	require.NoError(t, writer.Open(ctx))
	require.NoError(t, writer.Empty(ctx))
	_, err := writer.Import(ctx, format.Text, []byte("Hi\x00"))
	require.NoError(t, err)
	require.NoError(t, writer.Close(ctx))

	require.NoError(t, h.m.Export(ctx))
	require.Equal(t, 1, h.backend.writeCount())
	items, _ := h.backend.Read()
	assert.Equal(t, []clip.Item{{MIME: clip.MIMEText, Data: []byte("Hi")}}, items)

	// The synthesized CF_UNICODETEXT bumped the sequence; nothing new to write.
	require.NoError(t, h.m.Export(ctx))
	assert.Equal(t, 1, h.backend.writeCount())
}

func TestExport_OwnImportNotEchoed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backend.set(clip.Item{MIME: clip.MIMEText, Data: []byte("mine")})
	require.NoError(t, h.m.Import(ctx))
	require.NoError(t, h.m.Export(ctx))
	assert.Zero(t, h.backend.writeCount())
}

func TestImport_ImageBecomesDIB(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(0, 1, color.NRGBA{B: 255, A: 255})
	img.Set(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	h.backend.set(clip.Item{MIME: clip.MIMEPNG, Data: buf.Bytes()})
	require.NoError(t, h.m.Import(ctx))

	reader := h.peer(t, "reader")
	dib, err := reader.Export(ctx, format.DIB)
	require.NoError(t, err)
	info, err := marshal.ParseDIB(dib)
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.Width)
	assert.EqualValues(t, 2, info.AbsHeight())

	out, err := dibToPNG(dib)
	require.NoError(t, err)
	back, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	for _, p := range []image.Point{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		r1, g1, b1, _ := img.At(p.X, p.Y).RGBA()
		r2, g2, b2, _ := back.At(p.X, p.Y).RGBA()
		assert.Equal(t, [3]uint32{r1, g1, b1}, [3]uint32{r2, g2, b2}, "pixel %v", p)
	}
}

func TestConvert_BadInput(t *testing.T) {
	_, err := pngToDIB([]byte("not a png"))
	assert.Error(t, err)
	_, err = dibToPNG([]byte{1, 2, 3})
	assert.ErrorIs(t, err, marshal.ErrMalformed)
}

func TestRun_RetriesWhileStoreBusy(t *testing.T) {
	h := newHarness(t)
	h.m.poll = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocker := h.peer(t, "blocker")
	require.NoError(t, blocker.Open(ctx))

	done := make(chan error, 1)
	go func() { done <- h.m.Run(ctx) }()

	h.backend.set(clip.Item{MIME: clip.MIMEText, Data: []byte("later")})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), h.s.Sequence(), "store was busy")

	require.NoError(t, blocker.Close(ctx))
	require.Eventually(t, func() bool { return h.s.Sequence() > 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
