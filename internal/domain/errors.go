package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrQueueFull       = errors.New("queue full")
	ErrNoSession       = errors.New("no active session")
	ErrAgentNotRunning = errors.New("agent not running")
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrSecretNotFound  = errors.New("secret not found")
	ErrUnknownMode     = errors.New("unknown mode")
	ErrUnknownModel    = errors.New("unknown model")
)

// JSON-RPC internal error code.
const CodeInternalError = -32603

var transientMarkers = []string{"ValidationException", "Internal error"}

// StartupError reports that the agent process could not be launched or did
// not complete its handshake.
type StartupError struct {
	Command string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("start agent %q: %v", e.Command, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

type TimeoutError struct {
	Method  string
	ID      int64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s (id=%d) timed out after %s", e.Method, e.ID, e.Timeout)
}

// RPCError is an error object returned by the agent in a response.
type RPCError struct {
	Code    int
	Message string
	Data    string
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Transient reports whether retrying the same call may succeed.
func (e *RPCError) Transient() bool {
	if e.Code == CodeInternalError {
		return true
	}
	text := e.Message + " " + e.Data
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// TransportError reports that the stream to the agent failed while a call
// was outstanding.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agent transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a retryable agent error.
func IsTransient(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Transient()
}
