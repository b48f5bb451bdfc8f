package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
	"github.com/ianisms/ha.ollama.conv.tools/internal/api"
	"github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"
	"github.com/ianisms/ha.ollama.conv.tools/internal/connwatch"
	"github.com/ianisms/ha.ollama.conv.tools/internal/mcpserver"
	"github.com/ianisms/ha.ollama.conv.tools/internal/metrics"
	"github.com/ianisms/ha.ollama.conv.tools/internal/mqtt"
	"github.com/ianisms/ha.ollama.conv.tools/internal/opstate"
	"github.com/ianisms/ha.ollama.conv.tools/internal/prompts"
	"github.com/ianisms/ha.ollama.conv.tools/internal/usage"
)

// runServe is the primary operating mode. It blocks until SIGINT or
// SIGTERM, then saves history and drains the HTTP server.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting tooledca",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Ollama.Model,
		"ollama_url", cfg.Ollama.BaseURL(),
		"history_backend", cfg.History.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Data directory ---
	// SQLite history, usage records, and the MQTT instance id live here.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	comp := buildComponents(cfg, logger, true)

	// --- History ---
	history := newHistory(cfg)
	store, err := openHistoryStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// --- Observers ---
	var observers []agent.Observer

	var met *metrics.Metrics
	if cfg.Metrics.IsEnabled() {
		met = metrics.New(history)
		observers = append(observers, met)
	}

	usageStore, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"), logger)
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer usageStore.Close()
	observers = append(observers, usageStore)

	var daily *mqtt.DailyTurns
	if cfg.MQTT.Configured() {
		daily = mqtt.NewDailyTurns(time.Local)
		observers = append(observers, daily)
	}

	// --- Connection resilience ---
	// Startup retries with backoff, then periodic probes. Status feeds
	// /health and diagnostics.
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()

	a, err := comp.newAgent(history, connMgr, observers...)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	if err := a.Load(ctx, store); err != nil {
		logger.Warn("starting with empty history", "error", err)
	}

	// --- Settings ---
	// A language picked from Home Assistant outlives restarts.
	settings, err := opstate.NewStore(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer settings.Close()
	language := opstate.NewPersistentLanguage(a, settings, logger)
	if lang, err := language.Restore(ctx); err != nil {
		logger.Warn("failed to restore prompt language", "error", err)
	} else if lang != "" {
		logger.Info("restored prompt language", "language", lang)
	}

	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    "ollama",
		Probe:   comp.gateway.Ping,
		Backoff: connwatch.DefaultBackoff(),
		OnReady: func() {
			logger.Info("connected to Ollama",
				"url", comp.gateway.Endpoint(),
				"version", comp.gateway.Version(),
				"model", comp.gateway.Model(),
			)
		},
		Logger: logger,
	})

	if comp.ha != nil {
		haWatcher := connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:    "homeassistant",
			Probe:   comp.ha.Ping,
			Backoff: connwatch.DefaultBackoff(),
			OnReady: func() {
				logger.Info("connected to Home Assistant", "url", cfg.HomeAssistant.URL)
				if comp.cache == nil {
					return
				}
				syncCtx, syncCancel := context.WithTimeout(ctx, 30*time.Second)
				defer syncCancel()
				if err := comp.cache.Resync(syncCtx); err != nil {
					logger.Warn("state cache resync failed", "error", err)
				}
			},
			OnDown: func(err error) {
				if comp.cache != nil {
					comp.cache.MarkStale()
				}
			},
			Logger: logger,
		})
		comp.ha.SetWatcher(haWatcher)

		if comp.cache != nil {
			go func() {
				if err := comp.cache.Start(ctx); err != nil {
					logger.Warn("state cache not synced; using REST until Home Assistant is reachable", "error", err)
				}
			}()
		}
	}

	// --- MQTT publisher ---
	// Publishes HA discovery configs and periodic sensor states so the
	// agent shows up as a native device.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, daily, mqttStats{agent: a, gateway: comp.gateway}, logger,
			mqtt.WithLanguageSelect(prompts.EmbeddedLanguages(), language))
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:    "mqtt",
			Probe:   mqttPub.Ping,
			Backoff: connwatch.DefaultBackoff(),
			Logger:  logger,
		})
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"instance_id", instanceID,
		)
	}

	// --- HTTP API ---
	apiCfg := api.Config{
		Address:  cfg.Listen.Address,
		Port:     cfg.Listen.Port,
		Agent:    a,
		Services: connMgr,
		MCP: mcpserver.New(a.Registry(), a.Executor(),
			mcpserver.WithConversation(agentConversation{a}),
			mcpserver.WithLogger(logger),
		).Handler(),
		Logger: logger,
	}
	if met != nil {
		apiCfg.Metrics = met.Handler()
		apiCfg.Track = met.Track
	}
	if cfg.Auth.Enabled() {
		apiCfg.Auth = api.NewAuthenticator(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	}
	server := api.NewServer(apiCfg)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown failed", "error", err)
		}
		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	// Start returns once Shutdown has drained in-flight turns.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := a.Save(saveCtx, store); err != nil {
		logger.Error("failed to save history", "error", err)
	}

	logger.Info("tooledca stopped")
	return nil
}
