// Package toolcall extracts tool invocations from free-text model
// output.
//
// The model announces a call on its own line:
//
//	Using tool: get_weather(location: Paris, entity_id: "weather.home")
//
// Arguments are comma-separated key: value pairs. Values cannot contain
// commas, and only the first colon in a pair separates key from value.
// Lines without both parentheses are skipped, never reported as
// errors. Anything else between the marker and "(" is taken as the
// tool name, even when it is empty.
package toolcall

import (
	"log/slog"
	"strings"
)

// DefaultMarker introduces a tool call in model output.
const DefaultMarker = "Using tool:"

// Call is one parsed tool invocation.
type Call struct {
	Name string
	Args map[string]string
}

// Parser extracts Calls from model output. It is immutable and safe
// for concurrent use.
type Parser struct {
	marker string
	logger *slog.Logger
}

// NewParser creates a parser for the given marker. An empty marker
// uses DefaultMarker.
func NewParser(marker string, logger *slog.Logger) *Parser {
	if marker == "" {
		marker = DefaultMarker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{marker: marker, logger: logger}
}

// Marker returns the marker the parser looks for.
func (p *Parser) Marker() string {
	return p.marker
}

// Parse returns the calls found in text in order of appearance.
// Duplicate calls are kept.
func (p *Parser) Parse(text string) []Call {
	var calls []Call
	for i, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, p.marker) {
			continue
		}
		call, reason := p.parseLine(line)
		if reason != "" {
			p.logger.Debug("skipping malformed tool call",
				"line_number", i+1,
				"line", line,
				"reason", reason,
			)
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// parseLine parses one candidate line. A non-empty reason means the
// line was rejected.
func (p *Parser) parseLine(line string) (Call, string) {
	_, toolPart, _ := strings.Cut(line, p.marker)
	// A second marker on the same line ends the first call.
	if before, _, found := strings.Cut(toolPart, p.marker); found {
		toolPart = before
	}
	toolPart = strings.TrimSpace(toolPart)

	open := strings.Index(toolPart, "(")
	if open < 0 {
		return Call{}, "no opening parenthesis"
	}
	closing := strings.LastIndex(toolPart, ")")
	if closing < 0 {
		return Call{}, "no closing parenthesis"
	}

	// A ")" before the "(" or an empty name still yields a call; the
	// executor reports it as an unknown tool.
	name := strings.TrimSpace(toolPart[:open])
	if closing < open {
		return Call{Name: name, Args: map[string]string{}}, ""
	}
	return Call{Name: name, Args: parseArgs(toolPart[open+1 : closing])}, ""
}

func parseArgs(s string) map[string]string {
	args := make(map[string]string)
	for _, frag := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(frag, ":")
		if !ok {
			continue
		}
		args[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return args
}
