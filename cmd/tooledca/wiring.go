package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
	"github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"
	"github.com/ianisms/ha.ollama.conv.tools/internal/config"
	"github.com/ianisms/ha.ollama.conv.tools/internal/homeassistant"
	"github.com/ianisms/ha.ollama.conv.tools/internal/llm"
	"github.com/ianisms/ha.ollama.conv.tools/internal/memory"
	"github.com/ianisms/ha.ollama.conv.tools/internal/mqtt"
	"github.com/ianisms/ha.ollama.conv.tools/internal/search"
	"github.com/ianisms/ha.ollama.conv.tools/internal/toolcall"
	"github.com/ianisms/ha.ollama.conv.tools/internal/tools"
)

// components are the pieces every subcommand that runs turns needs.
type components struct {
	cfg      *config.Config
	logger   *slog.Logger
	gateway  *llm.Gateway
	ha       *homeassistant.Client
	cache    *homeassistant.StateCache // nil unless live states were requested
	registry *tools.Registry
}

// buildComponents creates the gateway, the Home Assistant clients, and
// the tool registry. With liveStates, tools read from a websocket state
// cache instead of calling the REST API on every lookup.
func buildComponents(cfg *config.Config, logger *slog.Logger, liveStates bool) *components {
	c := &components{
		cfg:    cfg,
		logger: logger,
		gateway: llm.NewGateway(llm.Config{
			BaseURL:            cfg.Ollama.BaseURL(),
			Model:              cfg.Ollama.Model,
			RequestTimeout:     cfg.Ollama.RequestTimeout(),
			HealthCheckTimeout: cfg.Ollama.HealthCheckTimeout(),
		}, logger),
	}

	var states tools.StateReader
	if cfg.HomeAssistant.Configured() {
		c.ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		states = c.ha
		if liveStates && cfg.HomeAssistant.WebsocketEnabled() {
			ws := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
			c.cache = homeassistant.NewStateCache(ws, c.ha, logger)
			states = c.cache
		}
	} else {
		logger.Warn("Home Assistant not configured; get_weather and entity lookups will fail")
	}

	c.registry = buildRegistry(cfg, states, buildSearch(cfg, logger), logger)
	return c
}

// buildSearch registers every configured provider and makes the
// configured one primary.
func buildSearch(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Tools.Search.Provider, logger)
	mgr.Register(search.NewDuckDuckGo(cfg.Tools.Search.DuckDuckGoURL, logger))
	if cfg.Tools.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Tools.Search.SearXNG.URL, logger))
	}
	return mgr
}

// buildRegistry creates the tools in the order the model sees them.
func buildRegistry(cfg *config.Config, states tools.StateReader, searcher tools.Searcher, logger *slog.Logger) *tools.Registry {
	quotes := tools.NewAlphaVantage(cfg.Tools.Stock.AlphaVantageURL, cfg.Tools.Stock.AlphaVantageKey, logger)
	return tools.NewRegistry(
		tools.NewWeatherTool(states, cfg.Tools.Weather.Entity),
		tools.NewStockTool(states, quotes),
		tools.NewWebSearchTool(searcher, cfg.Agent.Language),
	)
}

// newAgent assembles an agent over c. History comes from the caller so
// serve can persist it.
func (c *components) newAgent(history *memory.History, services agent.StatusReporter, observers ...agent.Observer) (*agent.Agent, error) {
	return agent.New(agent.Config{
		SystemPrompt:          c.cfg.Agent.SystemPrompt,
		Model:                 c.cfg.Ollama.Model,
		Language:              c.cfg.Agent.Language,
		PromptsDir:            c.cfg.Agent.PromptsDir,
		MaxConcurrentRequests: c.cfg.Agent.MaxConcurrentRequests,
		AdmissionTimeout:      seconds(c.cfg.Agent.AdmissionTimeoutSec),
		TurnTimeout:           seconds(c.cfg.Agent.TurnTimeoutSec),
		ToolTimeout:           seconds(c.cfg.Agent.ToolTimeoutSec),
		PlainSpeech:           c.cfg.Agent.PlainSpeechEnabled(),
	}, agent.Deps{
		LLM:       c.gateway,
		Registry:  c.registry,
		History:   history,
		Parser:    toolcall.NewParser(c.cfg.Agent.ToolMarker, c.logger),
		Observers: observers,
		Services:  services,
		Logger:    c.logger,
	})
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func newHistory(cfg *config.Config) *memory.History {
	return memory.NewHistory(cfg.History.MaxItems, cfg.History.PruneThreshold)
}

func openHistoryStore(cfg *config.Config) (memory.Persister, error) {
	p, err := memory.OpenStore(memory.StoreConfig{
		Backend:       cfg.History.Backend,
		SQLitePath:    filepath.Join(cfg.DataDir, "history.db"),
		RedisAddr:     cfg.History.Redis.Addr,
		RedisPassword: cfg.History.Redis.Password,
		RedisDB:       cfg.History.Redis.DB,
		RedisPrefix:   cfg.History.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s history store: %w", cfg.History.Backend, err)
	}
	return p, nil
}

// agentConversation lets MCP clients run full turns.
type agentConversation struct{ a *agent.Agent }

func (c agentConversation) Converse(ctx context.Context, text, conversationID string) (string, string, error) {
	res := c.a.Respond(ctx, conversationID, text)
	return res.Speech, res.ConversationID, nil
}

// mqttStats feeds the MQTT sensors from the agent and gateway.
type mqttStats struct {
	agent   *agent.Agent
	gateway *llm.Gateway
}

func (s mqttStats) Uptime() time.Duration { return buildinfo.Uptime() }
func (s mqttStats) Version() string       { return buildinfo.Version }
func (s mqttStats) DefaultModel() string  { return s.agent.Model() }

func (s mqttStats) Stats() mqtt.Stats {
	st := s.agent.Statistics()
	return mqtt.Stats{
		TotalRequests:       st.TotalRequests,
		AverageResponseTime: st.AverageResponseTime,
		ErrorRate:           st.ErrorRate,
		ActiveConversations: s.agent.History().Conversations(),
		HistorySize:         s.agent.History().Size(),
		ModelAvailable:      s.gateway.Available(),
		Language:            s.agent.Bundle().Language(),
	}
}
