// Package mirror keeps the host's OS clipboard and the shared store in step.
// Changes on the OS side are put into the store as CF_UNICODETEXT and CF_DIB;
// store changes made by other processes are written back to the OS.
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/clip"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/format"
)

// DefaultPollInterval is how often the store sequence is sampled.
const DefaultPollInterval = 500 * time.Millisecond

// Client is what the mirror needs from its store connection.
type Client interface {
	authority.Client
	authority.Inspector
}

// Config configures a Mirror.
type Config struct {
	Client  Client
	Backend clip.Backend
	// Clipboard defaults to one built on Client.
	Clipboard *clipboard.Clipboard
	Poll      time.Duration
}

// Mirror copies clipboard contents between one clip.Backend and the store.
type Mirror struct {
	client  Client
	backend clip.Backend
	cb      *clipboard.Clipboard
	poll    time.Duration

	mu        sync.Mutex
	seen      uint64 // last store sequence acted on
	lastItems []clip.Item
}

// New creates a mirror but does not start it.
func New(cfg Config) *Mirror {
	if cfg.Clipboard == nil {
		cfg.Clipboard = clipboard.New(clipboard.Config{Authority: cfg.Client})
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPollInterval
	}
	return &Mirror{client: cfg.Client, backend: cfg.Backend, cb: cfg.Clipboard, poll: cfg.Poll}
}

// Run watches both sides until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	slog.Info("clipboard mirror started", "backend", m.backend.Name(), "process", m.client.Process())
	defer m.cb.Teardown()

	t := time.NewTicker(m.poll)
	defer t.Stop()
	retry := false // an OS change is still waiting to be imported
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.backend.Watch():
			retry = m.tryImport(ctx)
		case <-t.C:
			if retry {
				retry = m.tryImport(ctx)
				continue
			}
			if err := m.Export(ctx); err != nil {
				slog.Warn("clipboard export failed", "err", err)
			}
		}
	}
}

func (m *Mirror) tryImport(ctx context.Context) bool {
	err := m.Import(ctx)
	switch {
	case err == nil:
		return false
	case errors.Is(err, clipboard.ErrOpenDenied):
		slog.Debug("store busy, import deferred")
	default:
		slog.Warn("clipboard import failed", "err", err)
	}
	return true
}

// Import reads the OS clipboard and, if it changed, replaces the store
// contents with it.
func (m *Mirror) Import(ctx context.Context) error {
	items, err := m.backend.Read()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if reflect.DeepEqual(items, m.lastItems) {
		return nil
	}

	type put struct {
		f    format.ID
		data []byte
	}
	var puts []put
	for _, it := range items {
		switch it.MIME {
		case clip.MIMEText:
			puts = append(puts, put{format.UnicodeText, textToUnicode(it.Data)})
		case clip.MIMEPNG:
			dib, err := pngToDIB(it.Data)
			if err != nil {
				slog.Warn("skipping clipboard image", "err", err)
				continue
			}
			puts = append(puts, put{format.DIB, dib})
		}
	}
	if len(puts) == 0 {
		return nil
	}

	if err := m.cb.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.cb.Close(ctx); err != nil {
			slog.Warn("close after import failed", "err", err)
		}
	}()
	if err := m.cb.Empty(ctx); err != nil {
		return err
	}
	var seq uint64
	for _, p := range puts {
		if seq, err = m.cb.Import(ctx, p.f, p.data); err != nil {
			return err
		}
	}
	m.lastItems = items
	m.seen = seq
	slog.Debug("OS clipboard imported", "formats", len(puts), "seq", seq)
	return nil
}

// Export writes the store contents to the OS clipboard when another process
// changed them since the last look.
func (m *Mirror) Export(ctx context.Context) error {
	snap, err := m.client.Status(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Sequence == m.seen {
		return nil
	}
	m.seen = snap.Sequence
	if snap.Owner == m.client.Process() || len(snap.Formats) == 0 {
		return nil
	}

	var items []clip.Item
	if data, err := m.cb.Export(ctx, format.UnicodeText); err == nil {
		text, err := unicodeToText(data)
		if err != nil {
			return err
		}
		items = append(items, clip.Item{MIME: clip.MIMEText, Data: text})
	} else if !errors.Is(err, clipboard.ErrNotFound) {
		return err
	}
	if data, err := m.cb.Export(ctx, format.DIB); err == nil {
		img, err := dibToPNG(data)
		if err != nil {
			slog.Debug("store image not representable as PNG", "err", err)
		} else {
			items = append(items, clip.Item{MIME: clip.MIMEPNG, Data: img})
		}
	} else if !errors.Is(err, clipboard.ErrNotFound) {
		return err
	}

	if len(items) == 0 || reflect.DeepEqual(items, m.lastItems) {
		return nil
	}
	if err := m.backend.Write(items); err != nil {
		return err
	}
	m.lastItems = items
	slog.Debug("OS clipboard updated", "owner", snap.Owner, "items", len(items), "seq", snap.Sequence)
	return nil
}
