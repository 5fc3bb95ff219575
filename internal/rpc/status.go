package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipcache/internal/authority"
)

var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{authority.ErrNotOpen, codes.FailedPrecondition},
	{authority.ErrNotOwner, codes.PermissionDenied},
	{authority.ErrFormatPresent, codes.AlreadyExists},
	{authority.ErrInvalidFormat, codes.InvalidArgument},
	{authority.ErrRenderTimeout, codes.DeadlineExceeded},
	{authority.ErrNoRenderer, codes.NotFound},
	{authority.ErrUnavailable, codes.Unavailable},
}

// ToStatus converts a store error to a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range statusCodes {
		if errors.Is(err, c.err) {
			return status.Error(c.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus converts a gRPC error back to a store error. Transport failures
// and unknown codes wrap authority.ErrUnavailable.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", authority.ErrUnavailable, err)
	}
	for _, c := range statusCodes {
		if st.Code() == c.code {
			// gRPC raises DeadlineExceeded itself for expired call deadlines.
			if c.code == codes.DeadlineExceeded && !strings.Contains(st.Message(), c.err.Error()) {
				break
			}
			if st.Message() == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, st.Message())
		}
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.Internal:
		return fmt.Errorf("store: %s", st.Message())
	}
	return fmt.Errorf("%w: %s: %s", authority.ErrUnavailable, st.Code(), st.Message())
}
