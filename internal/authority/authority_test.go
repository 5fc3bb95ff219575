package authority

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessRef(t *testing.T) {
	a, b := NewProcessRef(), NewProcessRef()
	assert.NotEqual(t, a, b)

	id, err := uuid.Parse(string(a))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestCodes(t *testing.T) {
	for _, err := range []error{ErrNotOpen, ErrNotOwner, ErrFormatPresent, ErrInvalidFormat, ErrRenderTimeout, ErrNoRenderer, ErrUnavailable} {
		wrapped := fmt.Errorf("put: %w", err)
		code := Code(wrapped)
		assert.NotEqual(t, "internal", code)
		assert.ErrorIs(t, FromCode(code, wrapped.Error()), err)
		assert.Equal(t, err, FromCode(code, ""))
	}
	assert.Equal(t, "internal", Code(errors.New("x")))
	assert.EqualError(t, FromCode("weird", "boom"), "store: boom")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "owner_must_render", OwnerMustRender.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
