// Package mcpserver exposes the agent's tools, and optionally a full
// conversation turn, to Model Context Protocol clients.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"
	"github.com/ianisms/ha.ollama.conv.tools/internal/tools"
)

// ConverseToolName is the MCP tool that runs a full agent turn.
const ConverseToolName = "converse"

// Conversation runs one turn of the agent and returns the answer.
type Conversation interface {
	Converse(ctx context.Context, text, conversationID string) (answer, id string, err error)
}

// Server wraps an MCP server whose tools are backed by a tool registry.
type Server struct {
	mcpServer *server.MCPServer
	registry  *tools.Registry
	executor  *tools.Executor
	conv      Conversation
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithConversation adds the converse tool backed by c.
func WithConversation(c Conversation) Option {
	return func(s *Server) { s.conv = c }
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server publishing every tool in registry. Calls go
// through executor so argument checks, timeouts, and panic recovery
// match what the agent itself gets.
func New(registry *tools.Registry, executor *tools.Executor, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("tooledca", buildinfo.Version, server.WithToolCapabilities(false)),
		registry:  registry,
		executor:  executor,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.registerTools()
	return s
}

// ServeStdio serves MCP on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Handler returns an HTTP handler speaking streamable-HTTP MCP.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerTools() {
	for _, t := range s.registry.All() {
		s.mcpServer.AddTool(toolDefinition(t), s.handleTool(t.Name()))
	}

	if s.conv != nil {
		s.mcpServer.AddTool(mcp.NewTool(ConverseToolName,
			mcp.WithDescription("Ask the conversation agent a question. It may call its own tools before answering."),
			mcp.WithString("text", mcp.Required(), mcp.Description("The user's message")),
			mcp.WithString("conversation_id", mcp.Description("Continue an existing conversation (optional)")),
		), s.handleConverse)
	}
}

// toolDefinition converts a tool's schema into an MCP tool. Integer and
// number parameters are published as numbers; everything else as
// strings, matching how the model passes them.
func toolDefinition(t tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}
	params := t.Parameters()
	for _, name := range sortedNames(params) {
		p := params[name]
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Type {
		case "integer", "number":
			opts = append(opts, mcp.WithNumber(name, propOpts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(name, propOpts...))
		}
	}
	return mcp.NewTool(t.Name(), opts...)
}

func (s *Server) handleTool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := stringArgs(request.GetArguments())
		out := s.executor.Execute(ctx, name, args)
		if !out.OK() {
			s.logger.Debug("mcp tool call failed", "tool", name, "error", out.Err)
			return mcp.NewToolResultError(out.Text), nil
		}
		return mcp.NewToolResultText(out.Result), nil
	}
}

func (s *Server) handleConverse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, id, err := s.conv.Converse(ctx, text, request.GetString("conversation_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("conversation failed: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(answer),
			mcp.NewTextContent("conversation_id: " + id),
		},
	}, nil
}

// stringArgs flattens JSON arguments into the string map tools take.
// Whole numbers lose their fractional part so "3" stays "3".
func stringArgs(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch x := v.(type) {
		case nil:
		case string:
			out[k] = x
		case float64:
			if x == float64(int64(x)) {
				out[k] = strconv.FormatInt(int64(x), 10)
			} else {
				out[k] = strconv.FormatFloat(x, 'f', -1, 64)
			}
		case bool:
			out[k] = strconv.FormatBool(x)
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}

func sortedNames(s tools.Schema) []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
