package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Channel carries newline-delimited JSON frames over one child's stdio.
// Writes are serialized; reads must come from a single goroutine.
type Channel struct {
	mu     sync.Mutex
	w      io.Writer
	r      *bufio.Reader
	closer io.Closer
}

// NewChannel frames reads from r and writes to w. If w is an io.Closer,
// Close closes it.
func NewChannel(r io.Reader, w io.Writer) *Channel {
	c := &Channel{w: w, r: bufio.NewReader(r)}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// WriteFrame encodes v as one JSON line. encoding/json escapes newlines
// inside strings, so a frame never spans lines.
func (c *Channel) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	return nil
}

// ReadFrame returns the next non-blank line without its terminator.
// A final line without a newline is returned before io.EOF.
func (c *Channel) ReadFrame() ([]byte, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close closes the write side, which signals EOF to the child.
func (c *Channel) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
