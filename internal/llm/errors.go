package llm

import "fmt"

// ConnectionError reports a failure to reach the model server at all:
// dial errors, timeouts, or an unhealthy version probe.
type ConnectionError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ollama %s: cannot connect: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a response the gateway could not use: a
// non-success status or a body of the wrong shape.
type ProtocolError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("ollama %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("ollama %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("ollama %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("ollama %s: invalid response", e.Op)
	}
}

// Unwrap returns the underlying error, if any.
func (e *ProtocolError) Unwrap() error { return e.Err }
