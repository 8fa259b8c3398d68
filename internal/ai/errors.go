package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendProtocol    = errors.New("backend protocol error")
)

// HTTPError is returned for non-2xx backend responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend http status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend http status %d: %s", e.StatusCode, e.Body)
}

// IsBackendError reports whether err belongs to the backend taxonomy.
func IsBackendError(err error) bool {
	var he *HTTPError
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrBackendTimeout) ||
		errors.Is(err, ErrBackendProtocol) ||
		errors.As(err, &he)
}

func classifyTransportErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
