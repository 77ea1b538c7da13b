package remote

import (
	"context"
	"errors"
	"io"
	"net"
)

// Retryable classifies an error as worth retrying the current file while
// keeping the session (spec §7 "Transient transport" class), as opposed
// to a protocol-fatal or local-fatal error that must propagate to process
// exit. Generalises the teacher's isRetriableFtpError/shouldRetry pair
// (backend/ftp/ftp.go) to any protocol: a context cancellation is never
// retryable, a network timeout or temporary error always is, and EOF
// during a stream read is treated as a clean end rather than an error.
func Retryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || isTemporary(netErr)
	}
	return false
}

// isTemporary calls the now-deprecated but still widely implemented
// Temporary() method via an unexported interface check, the same pattern
// the teacher's fserrors.ShouldRetry uses to classify library errors it
// doesn't construct itself.
func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	if t, ok := err.(temporary); ok {
		return t.Temporary()
	}
	return false
}
