package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeNetError struct {
	timeout   bool
	temporary bool
}

func (e fakeNetError) Error() string   { return "fake net error" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return e.temporary }

var _ net.Error = fakeNetError{}

func TestRetryableNilIsNotRetryable(t *testing.T) {
	assert.False(t, Retryable(context.Background(), nil))
}

func TestRetryableRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Retryable(ctx, fakeNetError{timeout: true}))
}

func TestRetryableEOFIsNotRetryable(t *testing.T) {
	assert.False(t, Retryable(context.Background(), io.EOF))
}

func TestRetryableTimeoutIsRetryable(t *testing.T) {
	assert.True(t, Retryable(context.Background(), fakeNetError{timeout: true}))
}

func TestRetryableTemporaryIsRetryable(t *testing.T) {
	assert.True(t, Retryable(context.Background(), fakeNetError{temporary: true}))
}

func TestRetryablePlainErrorIsNotRetryable(t *testing.T) {
	assert.False(t, Retryable(context.Background(), errors.New("boom")))
}

func TestCapabilitiesStartOptimistic(t *testing.T) {
	c := NewCapabilities()
	assert.True(t, c.DateSupported())
	assert.True(t, c.SizeSupported())
}

func TestCapabilitiesStickyOnceMarkedUnsupported(t *testing.T) {
	c := NewCapabilities()
	c.MarkDateUnsupported()
	assert.False(t, c.DateSupported())
	assert.True(t, c.SizeSupported(), "marking date unsupported must not affect size")

	c.MarkSizeUnsupported()
	assert.False(t, c.SizeSupported())
	assert.False(t, c.DateSupported(), "date flag stays false once cleared")
}

func TestErrNotSupportedIsDistinctError(t *testing.T) {
	assert.NotEqual(t, "", ErrNotSupported.Error())
	assert.True(t, errors.Is(ErrNotSupported, ErrNotSupported))
}

// elapsedSince is a small sanity check that Retryable doesn't block or sleep;
// it must be a pure classification function.
func TestRetryableIsInstantaneous(t *testing.T) {
	start := time.Now()
	Retryable(context.Background(), fakeNetError{timeout: true})
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
