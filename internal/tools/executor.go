package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Formatter renders tool outcomes into the text handed back to the
// model. prompts.Bundle implements it from the active template bundle.
type Formatter interface {
	ToolError(message string) string
	ToolSuccess(toolName, result string) string
}

// Outcome is the result of one tool call.
type Outcome struct {
	Tool     string
	Text     string // formatted text for the follow-up prompt
	Result   string // raw tool output on success
	Found    bool
	Err      error
	Duration time.Duration
}

// OK reports whether the tool was found and ran without fault.
func (o Outcome) OK() bool {
	return o.Found && o.Err == nil
}

// Executor resolves tool calls against a Registry and runs them. Tool
// faults never escape: missing tools, bad arguments, errors, and panics
// all come back as formatted text.
type Executor struct {
	registry *Registry
	format   Formatter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecutor creates an executor. A nil formatter uses the built-in
// English templates; a zero timeout leaves only the caller's deadline.
func NewExecutor(registry *Registry, format Formatter, timeout time.Duration, logger *slog.Logger) *Executor {
	if format == nil {
		format = builtinFormatter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		format:   format,
		timeout:  timeout,
		logger:   logger,
	}
}

// ExecuteCall runs the named tool and returns the formatted result.
func (e *Executor) ExecuteCall(ctx context.Context, name string, args map[string]string) string {
	return e.Execute(ctx, name, args).Text
}

// Execute runs the named tool and returns the full outcome.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]string) Outcome {
	start := time.Now()
	out := Outcome{Tool: name}

	tool, ok := e.registry.Lookup(name)
	if !ok {
		out.Err = &ErrToolUnavailable{ToolName: name}
		out.Text = e.format.ToolError(name + " not found")
		e.logger.Warn("tool not found", "tool", name)
		return out
	}
	out.Found = true

	result, err := e.run(ctx, tool, args)
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err
		out.Text = e.format.ToolError(err.Error())
		e.logger.Warn("tool execution failed",
			"tool", name,
			"duration", out.Duration,
			"error", err,
		)
		return out
	}

	out.Result = result
	out.Text = e.format.ToolSuccess(name, result)
	e.logger.Debug("tool executed",
		"tool", name,
		"duration", out.Duration,
		"result_len", len(result),
	)
	return out
}

func (e *Executor) run(ctx context.Context, tool Tool, args map[string]string) (result string, err error) {
	for _, key := range tool.Parameters().RequiredArgs() {
		if strings.TrimSpace(args[key]) == "" {
			return "", &ArgumentError{Tool: tool.Name(), Arg: key}
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s failed unexpectedly: %v", tool.Name(), r)
		}
	}()

	if args == nil {
		args = map[string]string{}
	}
	return tool.Execute(ctx, args)
}

// builtinFormatter mirrors the English default templates.
type builtinFormatter struct{}

func (builtinFormatter) ToolError(message string) string {
	return "I encountered an error while trying to help: " + message
}

func (builtinFormatter) ToolSuccess(toolName, result string) string {
	return toolName + " result: " + result
}
