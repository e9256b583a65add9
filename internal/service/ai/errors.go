package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable means the request never got an HTTP response.
	ErrUnreachable = errors.New("inference server unreachable")
	// ErrTimeout means the client gave up waiting for a response (LLM_TIMEOUT).
	ErrTimeout = errors.New("inference server timed out")
	// ErrMalformedResponse means the server answered 2xx with a body that is not a chat completion.
	ErrMalformedResponse = errors.New("malformed completion response")
)

// StatusError is returned when the inference server answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference server returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("inference server returned HTTP %d: %s", e.Code, e.Body)
}
