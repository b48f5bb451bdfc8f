// Tooledca is a Home Assistant conversation agent that answers through
// an Ollama model and lets the model call tools (weather, stock prices,
// web search) with a plain-text call syntax.
//
// Usage:
//
//	tooledca serve               Start the API server
//	tooledca ask <text>          Run one conversation turn
//	tooledca models              List models on the Ollama server
//	tooledca prompt [lang]       Print the composed system prompt
//	tooledca init [dir]          Write an example config and prompt files
//	tooledca token [subject]     Mint an API bearer token
//	tooledca mcp                 Serve the tools over MCP on stdio
//	tooledca version             Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"
	"github.com/ianisms/ha.ollama.conv.tools/internal/config"
)

// main builds the OS environment and hands off to run, keeping os.Exit
// and os.Args out of the code tests drive.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand because
// the flag package's globals get in the way of parallel tests.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: tooledca ask <text>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "models":
		return runModels(ctx, stdout, stderr, configPath, outputFmt)
	case "prompt":
		lang := ""
		if len(cmdArgs) > 0 {
			lang = cmdArgs[0]
		}
		return runPrompt(stdout, stderr, configPath, lang)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "token":
		subject := "homeassistant"
		if len(cmdArgs) > 0 {
			subject = cmdArgs[0]
		}
		return runToken(stdout, configPath, subject)
	case "mcp":
		return runMCP(ctx, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "tooledca - Ollama tool-calling conversation agent for Home Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tooledca [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the API server")
	fmt.Fprintln(w, "  ask <text>       Run one conversation turn and print the answer")
	fmt.Fprintln(w, "  models           List models available on the Ollama server")
	fmt.Fprintln(w, "  prompt [lang]    Print the composed system prompt")
	fmt.Fprintln(w, "  init [dir]       Write an example config and prompt files (default: .)")
	fmt.Fprintln(w, "  token [subject]  Mint an API bearer token (default subject: homeassistant)")
	fmt.Fprintln(w, "  mcp              Serve the tools over MCP on stdin/stdout")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/tooledca/config.yaml, /etc/tooledca/config.yaml")
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger creates a structured logger writing to w. Any format other
// than "json" gives text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger returns a logger at the level and format cfg asks for.
// Level strings were checked by config.Validate.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(w, level, cfg.LogFormat)
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
