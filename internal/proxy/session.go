// Package proxy supervises the stdio MCP server as a child process and
// correlates JSON-RPC responses from it with pending callers.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
)

// DefaultRequestTimeout bounds how long Send waits for a response.
const DefaultRequestTimeout = 30 * time.Second

const jsonrpcVersion = "2.0"

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// incoming is any frame read from the child.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// result completes one pending request.
type result struct {
	value json.RawMessage
	err   error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// RequestTimeout bounds each Send (default: 30s)
	RequestTimeout time.Duration

	Logger  *logging.Logger
	Metrics *Metrics
}

// Session owns the id counter and the pending table shared by every child
// instance. Ids are never reused within one Session, so a response from a
// previous child cannot complete a request sent to the current one.
type Session struct {
	timeout time.Duration
	logger  *logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan result
	channel *Channel
}

// NewSession creates a session with no attached channel.
func NewSession(opts SessionOptions) *Session {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Session{
		timeout: opts.RequestTimeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		nextID:  1,
		pending: make(map[int64]chan result),
	}
}

// Attach makes ch the channel for subsequent sends.
func (s *Session) Attach(ch *Channel) {
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()
}

// Detach clears ch if it is still the attached channel. Pending requests
// are left in place and complete by timeout.
func (s *Session) Detach(ch *Channel) {
	s.mu.Lock()
	if s.channel == ch {
		s.channel = nil
	}
	s.mu.Unlock()
}

// Pending returns the number of outstanding requests.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Send writes one request and waits for the response with the same id,
// the request timeout, or ctx. It returns the raw result on success and an
// *RPCError when the child answered with an error object.
func (s *Session) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()

	s.mu.Lock()
	ch := s.channel
	if ch == nil {
		s.mu.Unlock()
		err := &TransportError{Op: "send " + method, Err: ErrNotRunning}
		s.observe(method, start, err)
		return nil, err
	}
	id := s.nextID
	s.nextID++
	done := make(chan result, 1)
	s.pending[id] = done
	s.metrics.Pending.Set(float64(len(s.pending)))
	s.mu.Unlock()

	ctx = logging.WithRPCID(ctx, id)
	s.logger.Trace(ctx, "sending request", zap.String("method", method))

	if err := ch.WriteFrame(request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}); err != nil {
		s.forget(id)
		terr := &TransportError{Op: "write " + method, Err: err}
		s.observe(method, start, terr)
		return nil, terr
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		s.observe(method, start, r.err)
		return r.value, r.err
	case <-timer.C:
		s.forget(id)
		err := &TimeoutError{ID: id, Method: method, After: s.timeout}
		s.logger.Warn(ctx, "request timed out", zap.String("method", method), zap.Duration("after", s.timeout))
		s.observe(method, start, err)
		return nil, err
	case <-ctx.Done():
		s.forget(id)
		s.observe(method, start, ctx.Err())
		return nil, ctx.Err()
	}
}

// Notify writes a notification. No response is expected.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return &TransportError{Op: "notify " + method, Err: ErrNotRunning}
	}
	if err := ch.WriteFrame(notification{JSONRPC: jsonrpcVersion, Method: method, Params: params}); err != nil {
		return &TransportError{Op: "notify " + method, Err: err}
	}
	s.logger.Trace(ctx, "sent notification", zap.String("method", method))
	return nil
}

// Serve reads frames from ch and completes pending requests until ch is
// exhausted. It returns nil on io.EOF.
func (s *Session) Serve(ctx context.Context, ch *Channel) error {
	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &TransportError{Op: "read", Err: err}
		}
		s.dispatch(ctx, frame)
	}
}

func (s *Session) dispatch(ctx context.Context, frame []byte) {
	var msg incoming
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.metrics.MalformedFrames.Inc()
		s.logger.ForFrame(frame).Warn(ctx, "discarding malformed frame from child", zap.Error(err))
		return
	}

	if msg.Method != "" {
		s.logger.Debug(ctx, "ignoring message from child", zap.String("method", msg.Method))
		return
	}

	// A null id is how the child answers a request it could not parse.
	if len(msg.ID) == 0 || bytes.Equal(msg.ID, []byte("null")) {
		s.metrics.MalformedFrames.Inc()
		var fields []zap.Field
		if msg.Error != nil {
			fields = append(fields, zap.Int64("code", msg.Error.Code), zap.String("error", msg.Error.Message))
		}
		s.logger.ForFrame(frame).Warn(ctx, "discarding response without id", fields...)
		return
	}

	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		s.metrics.MalformedFrames.Inc()
		s.logger.ForFrame(frame).Warn(ctx, "discarding response without integer id")
		return
	}

	r := result{value: msg.Result}
	if msg.Error != nil {
		r = result{err: msg.Error}
	}

	s.mu.Lock()
	done, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		s.metrics.Pending.Set(float64(len(s.pending)))
	}
	s.mu.Unlock()

	if !ok {
		s.metrics.LateResponses.Inc()
		s.logger.Debug(logging.WithRPCID(ctx, id), "dropping response for unknown request id")
		return
	}
	done <- r
}

func (s *Session) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.metrics.Pending.Set(float64(len(s.pending)))
	s.mu.Unlock()
}

func (s *Session) observe(method string, start time.Time, err error) {
	s.metrics.Requests.WithLabelValues(method, outcomeOf(err)).Inc()
	s.metrics.Duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
