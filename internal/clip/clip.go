// Package clip talks to the operating system clipboard. Build constraints
// select the implementation:
//
//	clip_system.go   Linux, macOS, Windows via golang.design/x/clipboard, polled
//	clip_other.go    everything else; headless
package clip

import "time"

// MIME types the backends understand.
const (
	MIMEText = "text/plain"
	MIMEPNG  = "image/png"
)

// DefaultPollInterval is how often the system backend samples the clipboard.
const DefaultPollInterval = 250 * time.Millisecond

// Item is one representation of the OS clipboard contents.
type Item struct {
	MIME string
	Data []byte
}

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents as a slice of typed items.
	// Returns nil, nil if the clipboard is empty or contains only unsupported types.
	Read() ([]Item, error)

	// Write sets the clipboard contents to the provided items.
	Write(items []Item) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed. The caller should call Read when
	// it receives from the channel.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}
