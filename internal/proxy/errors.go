package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotRunning is wrapped by TransportError when no child is connected.
var ErrNotRunning = errors.New("server process is not running")

// ErrClosed is returned after the session or supervisor has been stopped.
var ErrClosed = errors.New("proxy is closed")

// TimeoutError is returned when no response with the request id arrived
// within the request timeout. A response arriving later is dropped.
type TimeoutError struct {
	ID     int64
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %d (%s) timed out after %s", e.ID, e.Method, e.After)
}

// Timeout reports true so TimeoutError satisfies net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// TransportError reports a failure to reach the child process.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RPCError is a JSON-RPC error object returned by the child.
type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
