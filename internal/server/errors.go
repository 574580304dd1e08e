package server

import (
	"errors"
	"net"
	"os"
)

// Error classes a session can terminate with.
var (
	ErrFrame       = errors.New("malformed frame")
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrTimeout     = errors.New("receive deadline exceeded")
	ErrTransport   = errors.New("transport failure")
	ErrShutdown    = errors.New("server shutting down")

	// errLogout and errClientRequest end a session without a server error.
	errLogout        = errors.New("client logged out")
	errClientRequest = errors.New("client asked to disconnect")
)

// DisconnectError ends a session. Reason is sent to the client in a
// DISCONNECT frame before the transport is closed.
type DisconnectError struct {
	Reason string
	// Username is placed in the DISCONNECT frame; empty means "???".
	Username string
	Err      error
}

func (e *DisconnectError) Error() string {
	return e.Reason + ": " + e.Err.Error()
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

func disconnect(reason string, err error) *DisconnectError {
	return &DisconnectError{Reason: reason, Err: err}
}

// reasonClass maps a termination error to a short label for metrics.
func reasonClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, errLogout):
		return "logout"
	case errors.Is(err, errClientRequest):
		return "command"
	case errors.Is(err, ErrFrame):
		return "frame"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	default:
		return "server_error"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
