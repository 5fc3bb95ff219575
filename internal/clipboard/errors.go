package clipboard

import (
	"errors"
	"fmt"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/marshal"
)

var (
	ErrNotConnected       = errors.New("clipboard: not connected to the store")
	ErrNotFound           = errors.New("clipboard: format not available")
	ErrMalformed          = marshal.ErrMalformed
	ErrAuthority          = errors.New("clipboard: store request failed")
	ErrOwnerRenderTimeout = errors.New("clipboard: owner did not render in time")
	ErrOpenDenied         = errors.New("clipboard: store is open by another process")
)

// AuthorityError is a failed store round trip. It matches ErrAuthority, and
// ErrNotConnected when the transport is down.
type AuthorityError struct {
	Op  string
	Err error
}

func (e *AuthorityError) Error() string { return "clipboard: store " + e.Op + ": " + e.Err.Error() }
func (e *AuthorityError) Unwrap() error { return e.Err }

func (e *AuthorityError) Is(target error) bool {
	switch target {
	case ErrAuthority:
		return true
	case ErrNotConnected:
		return errors.Is(e.Err, authority.ErrUnavailable)
	}
	return false
}

func authErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AuthorityError{Op: op, Err: err}
}

func notFound(f format.ID) error {
	return fmt.Errorf("%w: %s", ErrNotFound, f)
}
