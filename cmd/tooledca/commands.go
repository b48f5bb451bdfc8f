package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/api"
	"github.com/ianisms/ha.ollama.conv.tools/internal/mcpserver"
	"github.com/ianisms/ha.ollama.conv.tools/internal/prompts"
)

// runAsk runs one turn with an in-memory history and prints the answer.
// Unlike the API it reports model failures as errors instead of the
// apology, which is what a smoke test wants. Logs go to stderr so the
// answer can be piped.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, text string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	comp := buildComponents(cfg, logger, false)
	a, err := comp.newAgent(newHistory(cfg), nil)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	res, err := a.Process(ctx, "", text)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if outputFmt == "json" {
		return writeJSON(stdout, res)
	}
	if strings.TrimSpace(res.Text) == "" {
		return errors.New("ask: the model returned an empty answer")
	}
	fmt.Fprintln(stdout, res.Text)
	return nil
}

// runModels lists the models the Ollama server has pulled.
func runModels(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gw := buildComponents(cfg, configuredLogger(stderr, cfg), false).gateway

	models, err := gw.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if outputFmt == "json" {
		return writeJSON(stdout, models)
	}
	for _, m := range models {
		marker := " "
		if m == cfg.Ollama.Model {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", marker, m)
	}
	return nil
}

// runPrompt prints the system prompt the model would receive, in the
// configured language or lang when given.
func runPrompt(stdout, stderr io.Writer, configPath, lang string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	if lang == "" {
		lang = cfg.Agent.Language
	}

	comp := buildComponents(cfg, logger, false)
	bundle := prompts.Load(cfg.Agent.PromptsDir, lang, logger)
	fmt.Fprintln(stdout, bundle.SystemPrompt(cfg.Agent.SystemPrompt, comp.registry.All()))
	return nil
}

// runToken mints a bearer token for the native API.
func runToken(stdout io.Writer, configPath, subject string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled() {
		return errors.New("auth.jwt_secret is not set; the API does not require tokens")
	}

	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	tok, err := auth.Mint(subject)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

// runMCP serves the tools, and full conversation turns, over MCP on
// stdin/stdout. stdout belongs to the protocol, so logs go to stderr.
func runMCP(ctx context.Context, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	comp := buildComponents(cfg, logger, false)
	a, err := comp.newAgent(newHistory(cfg), nil)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	srv := mcpserver.New(a.Registry(), a.Executor(),
		mcpserver.WithConversation(agentConversation{a}),
		mcpserver.WithLogger(logger),
	)
	logger.Info("serving MCP on stdio", "tools", a.Registry().Names())
	return srv.ServeStdio()
}
