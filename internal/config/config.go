// Package config handles tooledca configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/tooledca/config.yaml, /etc/tooledca/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tooledca", "config.yaml"))
	}

	paths = append(paths, "/etc/tooledca/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all tooledca configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	Agent         AgentConfig         `yaml:"agent"`
	History       HistoryConfig       `yaml:"history"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Tools         ToolsConfig         `yaml:"tools"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Auth          AuthConfig          `yaml:"auth"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OllamaConfig locates the model server. URL, when set, wins over
// Host and Port.
type OllamaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	URL                   string `yaml:"url"`
	Model                 string `yaml:"model"`
	RequestTimeoutSec     int    `yaml:"request_timeout_sec"`
	HealthCheckTimeoutSec int    `yaml:"health_check_timeout_sec"`
}

// BaseURL returns the model server root URL without a trailing slash.
func (c OllamaConfig) BaseURL() string {
	if c.URL != "" {
		return trimSlash(c.URL)
	}
	return "http://" + c.Host + ":" + strconv.Itoa(c.Port)
}

// RequestTimeout returns the per-request timeout for generation calls.
func (c OllamaConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// HealthCheckTimeout returns the timeout for the version probe.
func (c OllamaConfig) HealthCheckTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeoutSec) * time.Second
}

// AgentConfig controls the conversation turn pipeline.
type AgentConfig struct {
	// SystemPrompt replaces the templated system prompt when set. Tool
	// names and descriptions are still appended to it.
	SystemPrompt string `yaml:"system_prompt"`

	// Language selects the prompt template file (<prompts_dir>/<lang>.json).
	Language string `yaml:"language"`

	// PromptsDir holds user-editable prompt template files. Empty
	// means only the embedded templates are used.
	PromptsDir string `yaml:"prompts_dir"`

	// ToolMarker is the substring that introduces a tool call in model output.
	ToolMarker string `yaml:"tool_marker"`

	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
	AdmissionTimeoutSec   int `yaml:"admission_timeout_sec"`
	TurnTimeoutSec        int `yaml:"turn_timeout_sec"`
	ToolTimeoutSec        int `yaml:"tool_timeout_sec"`

	// PlainSpeech strips markdown from answers before they are returned
	// to voice clients. Defaults to true.
	PlainSpeech *bool `yaml:"plain_speech"`
}

// PlainSpeechEnabled reports whether markdown answers are flattened.
func (c AgentConfig) PlainSpeechEnabled() bool {
	return c.PlainSpeech == nil || *c.PlainSpeech
}

// HistoryConfig selects where conversation history is persisted.
type HistoryConfig struct {
	// Backend is "sqlite" (default), "redis", or "memory" (no persistence).
	Backend        string      `yaml:"backend"`
	MaxItems       int         `yaml:"max_items"`
	PruneThreshold int         `yaml:"prune_threshold"`
	Redis          RedisConfig `yaml:"redis"`
}

// RedisConfig defines the redis history backend connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// Websocket keeps a live state cache over the HA websocket API.
	// Defaults to true when HA is configured.
	Websocket *bool `yaml:"websocket"`
}

// Configured reports whether both URL and token are set.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// WebsocketEnabled reports whether the websocket state cache should run.
func (c HomeAssistantConfig) WebsocketEnabled() bool {
	return c.Configured() && (c.Websocket == nil || *c.Websocket)
}

// ToolsConfig configures the built-in tool back-ends.
type ToolsConfig struct {
	Weather WeatherToolConfig `yaml:"weather"`
	Stock   StockToolConfig   `yaml:"stock"`
	Search  SearchToolConfig  `yaml:"search"`
}

// WeatherToolConfig configures get_weather.
type WeatherToolConfig struct {
	// Entity is the weather entity used when the model names neither
	// an entity nor a matching location.
	Entity string `yaml:"entity"`
}

// StockToolConfig configures get_stock_price.
type StockToolConfig struct {
	AlphaVantageKey string `yaml:"alphavantage_key"`
	AlphaVantageURL string `yaml:"alphavantage_url"`
}

// SearchToolConfig configures web_search.
type SearchToolConfig struct {
	// Provider is "duckduckgo" (default) or "searxng".
	Provider      string        `yaml:"provider"`
	DuckDuckGoURL string        `yaml:"duckduckgo_url"`
	SearXNG       SearXNGConfig `yaml:"searxng"`
}

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}

// MQTTConfig defines the HA MQTT discovery publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// AuthConfig enables bearer-token auth on the conversation API.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// Enabled reports whether a signing secret is configured.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether /metrics is served. Defaults to true.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}

	if c.Ollama.Host == "" {
		c.Ollama.Host = "localhost"
	}
	if c.Ollama.Port == 0 {
		c.Ollama.Port = 11434
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = "llama2"
	}
	if c.Ollama.RequestTimeoutSec == 0 {
		c.Ollama.RequestTimeoutSec = 30
	}
	if c.Ollama.HealthCheckTimeoutSec == 0 {
		c.Ollama.HealthCheckTimeoutSec = 10
	}

	if c.Agent.Language == "" {
		c.Agent.Language = "en"
	}
	if c.Agent.ToolMarker == "" {
		c.Agent.ToolMarker = "Using tool:"
	}
	if c.Agent.MaxConcurrentRequests == 0 {
		c.Agent.MaxConcurrentRequests = 5
	}
	if c.Agent.AdmissionTimeoutSec == 0 {
		c.Agent.AdmissionTimeoutSec = 30
	}
	if c.Agent.TurnTimeoutSec == 0 {
		c.Agent.TurnTimeoutSec = 90
	}
	if c.Agent.ToolTimeoutSec == 0 {
		c.Agent.ToolTimeoutSec = 15
	}

	if c.History.Backend == "" {
		c.History.Backend = "sqlite"
	}
	if c.History.MaxItems == 0 {
		c.History.MaxItems = 100
	}
	if c.History.PruneThreshold == 0 {
		c.History.PruneThreshold = 80
	}
	if c.History.Redis.Prefix == "" {
		c.History.Redis.Prefix = "tooledca:history:"
	}

	if c.Tools.Stock.AlphaVantageKey == "" {
		c.Tools.Stock.AlphaVantageKey = "demo"
	}
	if c.Tools.Stock.AlphaVantageURL == "" {
		c.Tools.Stock.AlphaVantageURL = "https://www.alphavantage.co/query"
	}
	if c.Tools.Search.Provider == "" {
		c.Tools.Search.Provider = "duckduckgo"
	}
	if c.Tools.Search.DuckDuckGoURL == "" {
		c.Tools.Search.DuckDuckGoURL = "https://api.duckduckgo.com/"
	}

	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "tooledca"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}

	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 720
	}

	if c.DataDir == "" {
		c.DataDir = "./db"
	}
}

// Validate checks the configuration for values that would fail at
// runtime. It reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Ollama.Port < 1 || c.Ollama.Port > 65535 {
		errs = append(errs, fmt.Errorf("ollama.port %d out of range", c.Ollama.Port))
	}
	if c.Ollama.URL != "" {
		if u, err := url.Parse(c.Ollama.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("ollama.url %q is not an absolute URL", c.Ollama.URL))
		}
	}
	if c.Agent.MaxConcurrentRequests < 1 {
		errs = append(errs, fmt.Errorf("agent.max_concurrent_requests must be at least 1"))
	}

	switch c.History.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.History.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("history.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend %q (valid: sqlite, redis, memory)", c.History.Backend))
	}
	if c.History.MaxItems < 1 {
		errs = append(errs, fmt.Errorf("history.max_items must be at least 1"))
	}
	if c.History.PruneThreshold < 1 {
		errs = append(errs, fmt.Errorf("history.prune_threshold must be at least 1"))
	}

	switch c.Tools.Search.Provider {
	case "duckduckgo":
	case "searxng":
		if !c.Tools.Search.SearXNG.Configured() {
			errs = append(errs, fmt.Errorf("tools.search.searxng.url is required for the searxng provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("tools.search.provider %q (valid: duckduckgo, searxng)", c.Tools.Search.Provider))
	}

	if c.MQTT.Configured() {
		if _, err := url.Parse(c.MQTT.Broker); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.broker: %w", err))
		}
		if c.MQTT.PublishIntervalSec < 10 {
			errs = append(errs, fmt.Errorf("mqtt.publish_interval_sec must be at least 10"))
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
