// Package prompts holds the language-keyed template bundle that drives
// the system prompt, the follow-up prompt, and tool result formatting.
//
// Bundles are JSON documents, one per language. Lookups never fail: any
// key missing from a loaded bundle falls back to the built-in English
// text returned by [Default].
package prompts

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*.json
var templates embed.FS

// DefaultLanguage is used when a requested language has no bundle.
const DefaultLanguage = "en"

// Bundle is one language's prompt templates. Placeholders in braces are
// replaced literally; unknown placeholders are left as written.
type Bundle struct {
	DefaultPrompts    DefaultPrompts    `json:"default_prompts"`
	ToolConfiguration ToolConfiguration `json:"tool_configuration"`
	Formatting        Formatting        `json:"formatting"`

	language string
	source   string
}

// DefaultPrompts are the opening system prompt paragraphs.
type DefaultPrompts struct {
	NoTools   string `json:"no_tools"`
	WithTools string `json:"with_tools"`
}

// ToolConfiguration describes how tools are presented to the model.
// ListFormat takes {name} and {description}; ParametersFormat takes
// {params}.
type ToolConfiguration struct {
	Intro             string `json:"intro"`
	ToolListHeader    string `json:"tool_list_header"`
	ListFormat        string `json:"list_format"`
	UsageInstructions string `json:"usage_instructions"`
	ToolResponse      string `json:"tool_response"`
	ParametersFormat  string `json:"parameters_format"`
}

// Formatting controls how tool results and follow-up prompts are
// wrapped. ErrorFormat takes {error}; SuccessAcknowledgment takes
// {tool_name} and {result}.
type Formatting struct {
	ErrorFormat           string `json:"error_format"`
	SuccessAcknowledgment string `json:"success_acknowledgment"`
	OutputPrefix          string `json:"output_prefix,omitempty"`
	OutputSuffix          string `json:"output_suffix,omitempty"`
}

// Default returns the built-in English bundle.
func Default() *Bundle {
	return &Bundle{
		DefaultPrompts: DefaultPrompts{
			NoTools:   "You are a helpful home assistant designed to help users with their smart home needs. Provide clear, concise responses that are accurate and relevant to the user's requests.",
			WithTools: "You are a helpful home assistant with access to tools that can look up information for the user. Use these tools when appropriate to help users accomplish their tasks.",
		},
		ToolConfiguration: ToolConfiguration{
			Intro:             "You have access to the following tools:",
			ToolListHeader:    "Available Tools:",
			ListFormat:        "{name}: {description}",
			UsageInstructions: "To use a tool, respond with a line of the form: Using tool: <tool_name>(<parameter>: <value>, ...)",
			ToolResponse:      "After using tools, provide a natural response incorporating the results.",
			ParametersFormat:  "Parameters: {params}",
		},
		Formatting: Formatting{
			ErrorFormat:           "I encountered an error while trying to help: {error}",
			SuccessAcknowledgment: "{tool_name} result: {result}",
		},
		language: DefaultLanguage,
		source:   "builtin",
	}
}

// Language returns the language the bundle was loaded for.
func (b *Bundle) Language() string { return b.language }

// Source describes where the bundle came from: a file path,
// "embedded:<lang>", or "builtin".
func (b *Bundle) Source() string { return b.source }

// Load returns the bundle for lang. It tries dir/<lang>.json, then the
// embedded bundle for lang, then the embedded English bundle, then the
// built-in defaults. Unreadable or malformed files are logged and
// skipped. Missing keys are filled from [Default].
func Load(dir, lang string, logger *slog.Logger) *Bundle {
	if logger == nil {
		logger = slog.Default()
	}
	if lang == "" {
		lang = DefaultLanguage
	}

	type candidate struct {
		source string
		read   func() ([]byte, error)
	}
	var candidates []candidate
	if dir != "" {
		path := filepath.Join(dir, lang+".json")
		candidates = append(candidates, candidate{path, func() ([]byte, error) { return os.ReadFile(path) }})
	}
	for _, l := range uniq(lang, DefaultLanguage) {
		name := "templates/" + l + ".json"
		candidates = append(candidates, candidate{"embedded:" + l, func() ([]byte, error) { return templates.ReadFile(name) }})
	}

	for _, c := range candidates {
		data, err := c.read()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("failed to read prompt bundle", "source", c.source, "error", err)
			}
			continue
		}
		b, err := Parse(data)
		if err != nil {
			logger.Warn("ignoring malformed prompt bundle", "source", c.source, "error", err)
			continue
		}
		b.language = lang
		b.source = c.source
		logger.Debug("prompt bundle loaded", "language", lang, "source", c.source)
		return b
	}

	logger.Warn("no prompt bundle found, using built-in defaults", "language", lang)
	b := Default()
	b.language = lang
	return b
}

// Parse decodes a bundle document and fills missing keys from the
// built-in defaults.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode prompt bundle: %w", err)
	}
	b.fillDefaults()
	return &b, nil
}

// Embedded returns the raw embedded bundle for lang, for writing out
// as an editable starting point.
func Embedded(lang string) ([]byte, error) {
	return templates.ReadFile("templates/" + lang + ".json")
}

// EmbeddedLanguages lists the languages shipped in the binary.
func EmbeddedLanguages() []string {
	entries, err := templates.ReadDir("templates")
	if err != nil {
		return nil
	}
	var langs []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok {
			langs = append(langs, name)
		}
	}
	return langs
}

func (b *Bundle) fillDefaults() {
	d := Default()
	fill := func(dst *string, fallback string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = fallback
		}
	}
	fill(&b.DefaultPrompts.NoTools, d.DefaultPrompts.NoTools)
	fill(&b.DefaultPrompts.WithTools, d.DefaultPrompts.WithTools)
	fill(&b.ToolConfiguration.Intro, d.ToolConfiguration.Intro)
	fill(&b.ToolConfiguration.ToolListHeader, d.ToolConfiguration.ToolListHeader)
	fill(&b.ToolConfiguration.ListFormat, d.ToolConfiguration.ListFormat)
	fill(&b.ToolConfiguration.UsageInstructions, d.ToolConfiguration.UsageInstructions)
	fill(&b.ToolConfiguration.ToolResponse, d.ToolConfiguration.ToolResponse)
	fill(&b.ToolConfiguration.ParametersFormat, d.ToolConfiguration.ParametersFormat)
	fill(&b.Formatting.ErrorFormat, d.Formatting.ErrorFormat)
	fill(&b.Formatting.SuccessAcknowledgment, d.Formatting.SuccessAcknowledgment)
}

func uniq(values ...string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
