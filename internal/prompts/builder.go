package prompts

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ianisms/ha.ollama.conv.tools/internal/tools"
)

// SystemPrompt composes the system prompt for the given tools. A
// non-empty override replaces the templated text; tools are then listed
// after it one per line. The result depends only on the bundle and the
// arguments.
func (b *Bundle) SystemPrompt(override string, toolList []tools.Tool) string {
	if override != "" {
		if len(toolList) == 0 {
			return override
		}
		lines := make([]string, len(toolList))
		for i, t := range toolList {
			lines[i] = t.Name() + ": " + t.Description()
		}
		return override + "\n\nAvailable tools:\n" + strings.Join(lines, "\n")
	}

	if len(toolList) == 0 {
		return b.DefaultPrompts.NoTools
	}

	tc := b.ToolConfiguration
	blocks := make([]string, len(toolList))
	for i, t := range toolList {
		blocks[i] = b.toolBlock(t)
	}

	return strings.Join([]string{
		b.DefaultPrompts.WithTools,
		tc.Intro,
		tc.ToolListHeader + "\n" + strings.Join(blocks, "\n"),
		tc.UsageInstructions,
		tc.ToolResponse,
	}, "\n\n")
}

func (b *Bundle) toolBlock(t tools.Tool) string {
	desc := strings.NewReplacer(
		"{name}", t.Name(),
		"{description}", t.Description(),
	).Replace(b.ToolConfiguration.ListFormat)

	return desc + "\n" + strings.ReplaceAll(b.ToolConfiguration.ParametersFormat, "{params}", schemaJSON(t.Parameters()))
}

// schemaJSON renders a schema as two-space indented JSON with sorted
// keys and without HTML escaping.
func schemaJSON(schema tools.Schema) string {
	if schema == nil {
		schema = tools.Schema{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// FollowUpPrompt builds the second-phase prompt that hands tool results
// back to the model.
func (b *Bundle) FollowUpPrompt(original string, results []string) string {
	p := "Original request: " + original +
		"\n\nTool results:\n" + strings.Join(results, "\n") +
		"\n\n" + b.ToolConfiguration.ToolResponse

	f := b.Formatting
	if f.OutputPrefix == "" && f.OutputSuffix == "" {
		return p
	}
	return strings.TrimSpace(f.OutputPrefix + "\n" + p + "\n" + f.OutputSuffix)
}

// ToolError formats a tool fault for the model.
func (b *Bundle) ToolError(message string) string {
	return strings.ReplaceAll(b.Formatting.ErrorFormat, "{error}", message)
}

// ToolSuccess formats a successful tool result for the model.
func (b *Bundle) ToolSuccess(toolName, result string) string {
	return strings.NewReplacer(
		"{tool_name}", toolName,
		"{result}", result,
	).Replace(b.Formatting.SuccessAcknowledgment)
}

var _ tools.Formatter = (*Bundle)(nil)
