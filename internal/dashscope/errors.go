package dashscope

import (
	"errors"
	"fmt"
)

// ErrNoMessages is returned when a request carries no messages.
var ErrNoMessages = errors.New("at least one message is required")

// RemoteAPIError is returned when the endpoint answers with a non-2xx status.
type RemoteAPIError struct {
	StatusCode int
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("dashscope API error: %d %s", e.StatusCode, e.Body)
}
