// Package tools defines the tools available to the agent, the ordered
// registry that holds them, and the executor that runs parsed tool
// calls against the registry.
package tools

import (
	"context"
	"sort"
)

// Param describes one tool parameter. Schemas are rendered into the
// system prompt as indented JSON, so field order here is the order the
// model sees.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Schema maps parameter names to their descriptions.
type Schema map[string]Param

// RequiredArgs returns the names of required parameters in sorted order.
func (s Schema) RequiredArgs() []string {
	var names []string
	for name, p := range s {
		if p.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Tool is a named capability the model can invoke. Arguments arrive as
// strings because they are parsed out of free text; implementations
// decode them into typed values themselves. A returned error is a tool
// fault: the executor formats it for the model and the turn continues.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	Execute(ctx context.Context, args map[string]string) (string, error)
}

// Registry is a fixed, ordered set of tools. It is built once and only
// read afterwards, so it is safe for concurrent use without locking.
type Registry struct {
	tools []Tool
}

// NewRegistry creates a registry holding tools in the given order.
// Nil entries are skipped.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make([]Tool, 0, len(tools))}
	for _, t := range tools {
		if t != nil {
			r.tools = append(r.tools, t)
		}
	}
	return r
}

// Lookup returns the first registered tool with the given name.
// Names are expected to be unique; when they are not, the earliest
// registration wins.
func (r *Registry) Lookup(name string) (Tool, bool) {
	for _, t := range r.tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// All returns the registered tools in registration order. The returned
// slice is a copy.
func (r *Registry) All() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name()
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
