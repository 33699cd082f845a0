package rpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPruned marks node errors for block data that is pruned or otherwise
	// no longer available. Callers match it with errors.Is.
	ErrPruned = errors.New("block data unavailable")

	// ErrUnreachable marks transport-level failures (connection refused,
	// timeouts, bad gateways) where the node never answered the call.
	ErrUnreachable = errors.New("rpc endpoint unreachable")
)

// Error is the JSON-RPC error object returned by the node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Is reports ErrPruned for error messages that indicate pruned/missing block
// data. Detection is a substring match on the node's message; Core does not
// use a dedicated code for it.
func (e *Error) Is(target error) bool {
	if target != ErrPruned {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "pruned") || strings.Contains(msg, "not available")
}

// TransportError wraps an HTTP or network failure reaching the node.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "rpc transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrUnreachable }
