//go:build linux || darwin || windows

package clip

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.design/x/clipboard"
)

type systemBackend struct {
	watchCh chan struct{}
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	lastText []byte
	lastImg  []byte
}

// New returns the system clipboard backend, or a headless no-op backend if
// the display environment is unavailable (e.g. a headless server without X11
// or Wayland). clipboard.Init is called here rather than in init() so that
// CLI sub-commands don't trigger the warning. poll <= 0 uses
// DefaultPollInterval.
func New(poll time.Duration) Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return Headless()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	b := &systemBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.poll(poll)
	return b
}

func (b *systemBackend) Name() string { return "system clipboard (poll)" }

func (b *systemBackend) poll(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			text := clipboard.Read(clipboard.FmtText)
			img := clipboard.Read(clipboard.FmtImage)
			b.mu.Lock()
			changed := !bytes.Equal(text, b.lastText) || !bytes.Equal(img, b.lastImg)
			b.lastText, b.lastImg = text, img
			b.mu.Unlock()
			if changed {
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *systemBackend) Read() ([]Item, error) {
	var items []Item
	if text := clipboard.Read(clipboard.FmtText); text != nil {
		items = append(items, Item{MIME: MIMEText, Data: text})
	}
	if img := clipboard.Read(clipboard.FmtImage); img != nil {
		items = append(items, Item{MIME: MIMEPNG, Data: img})
	}
	return items, nil
}

func (b *systemBackend) Write(items []Item) error {
	for _, it := range items {
		var f clipboard.Format
		switch it.MIME {
		case MIMEText:
			f = clipboard.FmtText
		case MIMEPNG:
			f = clipboard.FmtImage
		default:
			return fmt.Errorf("unsupported MIME type: %s", it.MIME)
		}
		clipboard.Write(f, it.Data)
	}
	// Our own write is not a change worth reporting.
	b.mu.Lock()
	b.lastText = clipboard.Read(clipboard.FmtText)
	b.lastImg = clipboard.Read(clipboard.FmtImage)
	b.mu.Unlock()
	return nil
}

func (b *systemBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *systemBackend) Close()                 { b.once.Do(func() { close(b.done) }) }
