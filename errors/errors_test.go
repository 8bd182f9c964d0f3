package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatchesDecoratedCopies(t *testing.T) {
	err := ErrInvalidInput.WithReason("invalid_ip").WithCause(io.EOF)

	assert.True(t, Is(err, ErrInvalidInput))
	assert.False(t, Is(err, ErrInvalidSession))
	assert.True(t, Is(err, io.EOF))
	assert.Equal(t, "invalid_ip", err.Metadata["reason"])
	assert.Empty(t, ErrInvalidInput.Metadata, "sentinel must not be mutated")
}

func TestWrappedThroughFmt(t *testing.T) {
	err := fmt.Errorf("get session: %w", ErrUnavailable.WithCause(io.ErrUnexpectedEOF))

	assert.True(t, Is(err, ErrUnavailable))
	assert.Equal(t, 503, Code(err))
	assert.Equal(t, 503, FromError(err).Code)
}

func TestCode(t *testing.T) {
	assert.Equal(t, 200, Code(nil))
	assert.Equal(t, UnknownCode, Code(io.EOF))
	assert.Equal(t, 429, Code(ErrRateLimited))
}

func TestErrorString(t *testing.T) {
	err := New(404, "file %s not found", "abc").WithCause(io.EOF)
	assert.Equal(t, "code=404, message=file abc not found, cause=EOF", err.Error())
	assert.Nil(t, Wrap(nil, 500, "x"))
	assert.Equal(t, 502, Wrap(io.EOF, 502, "upstream").Code)
}
