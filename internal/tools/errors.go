package tools

import "fmt"

// ErrToolUnavailable is recorded when a parsed call names a tool that
// is not in the registry. The model sees a formatted "not found"
// message; the turn is not aborted.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolName)
}

// ArgumentError reports a missing or unusable tool argument. Its
// message is shown to the model verbatim through the error template,
// so it is phrased for the model rather than for an operator.
type ArgumentError struct {
	Tool   string
	Arg    string
	Reason string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "missing required argument: " + e.Arg
}
