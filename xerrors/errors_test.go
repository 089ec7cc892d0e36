package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorType]int{
		ErrNotFound:        http.StatusNotFound,
		ErrInvalidArg:      http.StatusBadRequest,
		ErrUnauthenticated: http.StatusUnauthorized,
		ErrNetwork:         http.StatusServiceUnavailable,
		ErrUpload:          http.StatusBadGateway,
		ErrInternal:        http.StatusInternalServerError,
	}
	for typ, want := range cases {
		e := New(typ, 0, "x", "", nil)
		assert.Equal(t, want, e.HTTPStatus(), typ.String())
	}
}

func TestGRPCCode(t *testing.T) {
	assert.Equal(t, codes.NotFound, NotFound("gone").GRPCCode())
	assert.Equal(t, codes.Unavailable, Network("down", nil).GRPCCode())
}

func TestFromErrorThroughWrapping(t *testing.T) {
	base := NotFound("object missing")
	wrapped := fmt.Errorf("lookup: %w", base)

	e, ok := FromError(wrapped)
	require.True(t, ok)
	assert.Same(t, base, e)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, Is(wrapped, ErrUpload))
}

func TestWrapKeepsType(t *testing.T) {
	inner := Upload("put failed", errors.New("boom"))
	outer := Wrap(inner, ErrInternal, "upload a.pdf")

	assert.Equal(t, ErrUpload, outer.Type)
	assert.Equal(t, "upload a.pdf", outer.Message)
	assert.ErrorIs(t, outer, inner)
	assert.Nil(t, Wrap(nil, ErrInternal, "noop"))
}

func TestTypeStringOutOfRange(t *testing.T) {
	assert.Equal(t, "Unknown", ErrorType(99).String())
	assert.Equal(t, "MultipartAbort", ErrMultipartAbort.String())
}

func TestMultipartAbortContext(t *testing.T) {
	e := MultipartAbort("u-1", errors.New("timeout"))
	assert.Equal(t, "u-1", e.Context["upload_id"])
	assert.NotEmpty(t, e.Stack)
}
