package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/ianisms/ha.ollama.conv.tools/internal/config"
)

// Stats is a point-in-time view of the agent for sensor states.
type Stats struct {
	TotalRequests       int64
	AverageResponseTime float64 // seconds
	ErrorRate           float64 // percent
	ActiveConversations int
	HistorySize         int
	ModelAvailable      bool
	Language            string
}

// StatsSource supplies sensor data. The adapter over the agent lives in
// cmd/tooledca so this package does not depend on the API server.
type StatsSource interface {
	Uptime() time.Duration
	Version() string
	DefaultModel() string
	Stats() Stats
}

// LanguageSetter switches the prompt language when Home Assistant
// writes the language select entity.
type LanguageSetter interface {
	SetLanguage(lang string)
}

// Publisher owns the broker connection, publishes discovery and
// availability on every (re-)connect, and pushes sensor states on an
// interval.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	daily      *DailyTurns
	stats      StatsSource
	languages  []string
	setLang    LanguageSetter
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLanguageSelect exposes a select entity over languages that calls
// setter when changed.
func WithLanguageSelect(languages []string, setter LanguageSetter) Option {
	return func(p *Publisher) {
		p.languages = languages
		p.setLang = setter
	}
}

// New creates a Publisher. Call Start to connect.
func New(cfg config.MQTTConfig, instanceID string, daily *DailyTurns, stats StatsSource, logger *slog.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		daily:      daily,
		stats:      stats,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start connects and runs the publish loop until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.subscribeCommands(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "tooledca-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					return p.handleCommand(pr.Packet.Topic, pr.Packet.Payload), nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// Ping reports whether the broker connection is up. It adapts the
// publisher to connwatch.ProbeFunc.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.cm == nil {
		return errors.New("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) baseTopic() string {
	return "tooledca/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) commandTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/set"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type entityDef struct {
	component string
	suffix    string
	config    EntityConfig
}

func (p *Publisher) entity(component, suffix, name string, fill func(*EntityConfig)) entityDef {
	c := EntityConfig{
		Name:              p.device.Name + " " + name,
		UniqueID:          p.instanceID + "_" + suffix,
		StateTopic:        p.stateTopic(suffix),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
	}
	fill(&c)
	return entityDef{component: component, suffix: suffix, config: c}
}

func (p *Publisher) entityDefinitions() []entityDef {
	defs := []entityDef{
		p.entity("sensor", "average_response_time", "Average Response Time", func(c *EntityConfig) {
			c.Icon = "mdi:timer-outline"
			c.UnitOfMeasurement = "s"
			c.DeviceClass = "duration"
			c.StateClass = "measurement"
		}),
		p.entity("sensor", "error_rate", "Error Rate", func(c *EntityConfig) {
			c.Icon = "mdi:alert-circle-outline"
			c.UnitOfMeasurement = "%"
			c.StateClass = "measurement"
		}),
		p.entity("sensor", "total_requests", "Total Requests", func(c *EntityConfig) {
			c.Icon = "mdi:counter"
			c.StateClass = "total_increasing"
		}),
		p.entity("sensor", "requests_today", "Requests Today", func(c *EntityConfig) {
			c.Icon = "mdi:calendar-today"
			c.StateClass = "total_increasing"
		}),
		p.entity("sensor", "active_conversations", "Active Conversations", func(c *EntityConfig) {
			c.Icon = "mdi:chat-processing"
			c.StateClass = "measurement"
		}),
		p.entity("sensor", "history_size", "History Size", func(c *EntityConfig) {
			c.Icon = "mdi:history"
			c.StateClass = "measurement"
		}),
		p.entity("sensor", "default_model", "Default Model", func(c *EntityConfig) {
			c.Icon = "mdi:brain"
			c.EntityCategory = "diagnostic"
		}),
		p.entity("sensor", "version", "Version", func(c *EntityConfig) {
			c.Icon = "mdi:tag"
			c.EntityCategory = "diagnostic"
		}),
		p.entity("sensor", "uptime", "Uptime", func(c *EntityConfig) {
			c.Icon = "mdi:clock-outline"
			c.EntityCategory = "diagnostic"
		}),
		p.entity("binary_sensor", "model_available", "Model Server", func(c *EntityConfig) {
			c.DeviceClass = "connectivity"
			c.PayloadOn = "ON"
			c.PayloadOff = "OFF"
			c.EntityCategory = "diagnostic"
		}),
	}
	if p.setLang != nil && len(p.languages) > 0 {
		defs = append(defs, p.entity("select", "language", "Language", func(c *EntityConfig) {
			c.Icon = "mdi:translate"
			c.CommandTopic = p.commandTopic("language")
			c.Options = p.languages
			c.EntityCategory = "config"
		}))
	}
	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, d := range p.entityDefinitions() {
		topic := p.discoveryTopic(d.component, d.suffix)
		payload, err := json.Marshal(d.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", d.suffix, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", d.suffix, "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}

func (p *Publisher) subscribeCommands(ctx context.Context, cm *autopaho.ConnectionManager) {
	if p.setLang == nil {
		return
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.commandTopic("language"), QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt subscribe failed", "error", err)
	}
}

// handleCommand applies a command message. It reports whether the
// message was addressed to this publisher.
func (p *Publisher) handleCommand(topic string, payload []byte) bool {
	if p.setLang == nil || topic != p.commandTopic("language") {
		return false
	}
	lang := strings.TrimSpace(string(payload))
	if !slices.Contains(p.languages, lang) {
		p.logger.Warn("mqtt language command ignored", "language", lang, "valid", p.languages)
		return true
	}
	p.setLang.SetLanguage(lang)
	return true
}

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.PublishIntervalSec) * time.Second)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// states renders every entity state as its MQTT payload.
func (p *Publisher) states() map[string]string {
	st := p.stats.Stats()
	avail := "OFF"
	if st.ModelAvailable {
		avail = "ON"
	}
	out := map[string]string{
		"average_response_time": strconv.FormatFloat(st.AverageResponseTime, 'f', 2, 64),
		"error_rate":            strconv.FormatFloat(st.ErrorRate, 'f', 1, 64),
		"total_requests":        strconv.FormatInt(st.TotalRequests, 10),
		"active_conversations":  strconv.Itoa(st.ActiveConversations),
		"history_size":          strconv.Itoa(st.HistorySize),
		"default_model":         p.stats.DefaultModel(),
		"version":               p.stats.Version(),
		"uptime":                p.stats.Uptime().Truncate(time.Second).String(),
		"model_available":       avail,
	}
	if p.daily != nil {
		turns, _, _ := p.daily.Snapshot()
		out["requests_today"] = strconv.FormatInt(turns, 10)
	}
	if p.setLang != nil && st.Language != "" {
		out["language"] = st.Language
	}
	return out
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}
	states := p.states()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt states published", "entities", len(states))
}
