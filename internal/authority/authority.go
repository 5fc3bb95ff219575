// Package authority defines the protocol spoken with the canonical clipboard
// store. The store itself lives in internal/store; this package only holds
// the vocabulary every transport shares.
package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipcache/internal/format"
)

// ProcessRef identifies one process attached to the store.
type ProcessRef string

// NewProcessRef returns a fresh, time-ordered process identifier.
func NewProcessRef() ProcessRef {
	return ProcessRef(uuid.Must(uuid.NewV7()).String())
}

// OpenResult reports the outcome of Open.
type OpenResult struct {
	Granted bool
	// PreviousOwner is the process that held the store open before this one.
	PreviousOwner ProcessRef
	Sequence      uint64
}

// Status classifies a FetchResult.
type Status int

const (
	Unchanged Status = iota + 1
	Found
	NotFound
	OwnerMustRender
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case OwnerMustRender:
		return "owner_must_render"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String. Unknown names map to the zero
// Status.
func ParseStatus(s string) Status {
	for _, st := range []Status{Unchanged, Found, NotFound, OwnerMustRender} {
		if st.String() == s {
			return st
		}
	}
	return 0
}

// FetchResult is the answer to Get.
type FetchResult struct {
	Status Status
	// Data and Sequence are set for Found. Sequence is also set for
	// Unchanged.
	Data     []byte
	Sequence uint64
	// Empty is set for NotFound when the store holds no formats at all.
	Empty bool
	// Owner is set for OwnerMustRender.
	Owner ProcessRef
	// Current is the store's sequence at the time of the answer.
	Current uint64
}

// RenderHandler renders a delayed format on the owner side. It must put the
// format before returning.
type RenderHandler func(ctx context.Context, f format.ID) error

// Client is one process's connection to the canonical store.
type Client interface {
	Open(ctx context.Context) (OpenResult, error)
	Close(ctx context.Context) error
	ClaimAndEmpty(ctx context.Context) (uint64, error)
	Put(ctx context.Context, f format.ID, data []byte) (uint64, error)
	PutDelayed(ctx context.Context, f format.ID) (uint64, error)
	Publish(ctx context.Context, f format.ID, data []byte) (uint64, error)
	Get(ctx context.Context, f format.ID, cached uint64) (FetchResult, error)
	EnumerateNext(ctx context.Context, prev format.ID) (format.ID, bool, error)
	RequestRender(ctx context.Context, owner ProcessRef, f format.ID) error
	SetRenderHandler(h RenderHandler)
	Process() ProcessRef
}

// FormatInfo describes one stored format.
type FormatInfo struct {
	Format      format.ID `json:"format"`
	Name        string    `json:"name"`
	Size        int       `json:"size"`
	Sequence    uint64    `json:"seq"`
	Delayed     bool      `json:"delayed,omitempty"`
	Synthesized bool      `json:"synthesized,omitempty"`
}

// ProcessInfo describes one attached process.
type ProcessInfo struct {
	Process  ProcessRef `json:"process"`
	Source   string     `json:"source"`
	Attached time.Time  `json:"attached"`
}

// Snapshot is a point-in-time view of the store.
type Snapshot struct {
	Sequence  uint64        `json:"seq"`
	Owner     ProcessRef    `json:"owner,omitempty"`
	Opener    ProcessRef    `json:"opener,omitempty"`
	Formats   []FormatInfo  `json:"formats"`
	Processes []ProcessInfo `json:"processes"`
	Taken     time.Time     `json:"taken"`
}

// Inspector is implemented by clients that can read store status.
type Inspector interface {
	Status(ctx context.Context) (Snapshot, error)
}

// Registrar is implemented by clients that can register format names with
// the store, so ids agree across processes.
type Registrar interface {
	RegisterFormat(ctx context.Context, name string) (format.ID, error)
}

var (
	ErrNotOpen       = errors.New("store not open by this process")
	ErrNotOwner      = errors.New("store owned by another process")
	ErrFormatPresent = errors.New("format already present")
	ErrInvalidFormat = errors.New("invalid format")
	ErrRenderTimeout = errors.New("owner did not render in time")
	ErrNoRenderer    = errors.New("owner has no renderer attached")
	ErrUnavailable   = errors.New("store unavailable")
)

var codes = []struct {
	code string
	err  error
}{
	{"not_open", ErrNotOpen},
	{"not_owner", ErrNotOwner},
	{"format_present", ErrFormatPresent},
	{"invalid_format", ErrInvalidFormat},
	{"render_timeout", ErrRenderTimeout},
	{"no_renderer", ErrNoRenderer},
	{"unavailable", ErrUnavailable},
}

// Code returns the stable wire code for err, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// FromCode rebuilds an error received from a remote store.
func FromCode(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			if msg == "" || msg == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}
	return fmt.Errorf("store: %s", msg)
}
