// Package resilience provides retry, circuit breaking and failure
// classification for calls to the underwriting API.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// NetworkError marks a failure to reach the underwriting API: transport
// errors, timeouts, retryable statuses that persisted through every attempt,
// and calls rejected by an open circuit. Auth and validation responses are
// never NetworkErrors.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: network error (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps err as a NetworkError for op.
func NewNetworkError(op string, err error, statusCode int) *NetworkError {
	return &NetworkError{Op: op, StatusCode: statusCode, Err: err}
}

// IsNetwork reports whether err (or anything it wraps) is a network-kind
// failure: an explicit NetworkError, an open circuit, a net.Error timeout, a
// refused/reset connection, or a message matching a known transport failure.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a response status is worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
