package mqtt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
	"github.com/ianisms/ha.ollama.conv.tools/internal/config"
)

type fakeStats struct{ st Stats }

func (f fakeStats) Uptime() time.Duration { return 90*time.Minute + 500*time.Millisecond }
func (f fakeStats) Version() string       { return "v1.2.3" }
func (f fakeStats) DefaultModel() string  { return "llama3.2" }
func (f fakeStats) Stats() Stats          { return f.st }

type recordingSetter struct{ got []string }

func (r *recordingSetter) SetLanguage(lang string) { r.got = append(r.got, lang) }

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "kitchen-agent",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil || strings.TrimSpace(string(data)) != first {
		t.Errorf("instance_id file = %q, %v", data, err)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil || second != first {
		t.Errorf("second call = %q, %v; want %q", second, err, first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("instance-1", "kitchen-agent")
	if info.Name != "kitchen-agent" || len(info.Identifiers) != 1 || info.Identifiers[0] != "instance-1" {
		t.Errorf("NewDeviceInfo() = %+v", info)
	}
	if info.Manufacturer != "tooledca" {
		t.Errorf("Manufacturer = %q", info.Manufacturer)
	}
}

func TestPublisher_Topics(t *testing.T) {
	p := New(testConfig(), "id", nil, fakeStats{}, nil)
	tests := []struct {
		got, want string
	}{
		{p.baseTopic(), "tooledca/kitchen-agent"},
		{p.availabilityTopic(), "tooledca/kitchen-agent/availability"},
		{p.stateTopic("error_rate"), "tooledca/kitchen-agent/error_rate/state"},
		{p.commandTopic("language"), "tooledca/kitchen-agent/language/set"},
		{p.discoveryTopic("sensor", "uptime"), "homeassistant/sensor/kitchen-agent/uptime/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPublisher_EntityDefinitions(t *testing.T) {
	p := New(testConfig(), "instance-123", nil, fakeStats{}, nil)
	defs := p.entityDefinitions()

	seen := make(map[string]entityDef)
	for _, d := range defs {
		if _, dup := seen[d.suffix]; dup {
			t.Errorf("duplicate entity %q", d.suffix)
		}
		seen[d.suffix] = d
		if d.config.UniqueID != "instance-123_"+d.suffix {
			t.Errorf("%s UniqueID = %q", d.suffix, d.config.UniqueID)
		}
		if d.config.AvailabilityTopic != p.availabilityTopic() {
			t.Errorf("%s AvailabilityTopic = %q", d.suffix, d.config.AvailabilityTopic)
		}
		if !strings.HasPrefix(d.config.Name, "kitchen-agent ") {
			t.Errorf("%s Name = %q", d.suffix, d.config.Name)
		}
	}
	for _, want := range []string{"average_response_time", "error_rate", "total_requests", "active_conversations", "history_size", "model_available"} {
		if _, ok := seen[want]; !ok {
			t.Errorf("missing entity %q", want)
		}
	}
	if _, ok := seen["language"]; ok {
		t.Error("language select should only exist with a setter")
	}
	if seen["model_available"].component != "binary_sensor" {
		t.Errorf("model_available component = %q", seen["model_available"].component)
	}

	// Payloads must be valid discovery JSON.
	data, err := json.Marshal(seen["average_response_time"].config)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if m["unit_of_measurement"] != "s" || m["device"] == nil {
		t.Errorf("discovery payload = %s", data)
	}
	if _, ok := m["command_topic"]; ok {
		t.Error("sensors should omit command_topic")
	}
}

func TestPublisher_LanguageSelect(t *testing.T) {
	setter := &recordingSetter{}
	p := New(testConfig(), "id", nil, fakeStats{st: Stats{Language: "en"}}, nil,
		WithLanguageSelect([]string{"de", "en"}, setter))

	var sel *entityDef
	for _, d := range p.entityDefinitions() {
		if d.suffix == "language" {
			sel = &d
		}
	}
	if sel == nil || sel.component != "select" || sel.config.CommandTopic != p.commandTopic("language") {
		t.Fatalf("language select = %+v", sel)
	}

	tests := []struct {
		topic   string
		payload string
		handled bool
	}{
		{p.commandTopic("language"), "de", true},
		{p.commandTopic("language"), " en \n", true},
		{p.commandTopic("language"), "fr", true},
		{"tooledca/other/language/set", "de", false},
	}
	for _, tt := range tests {
		if got := p.handleCommand(tt.topic, []byte(tt.payload)); got != tt.handled {
			t.Errorf("handleCommand(%q, %q) = %v", tt.topic, tt.payload, got)
		}
	}
	if strings.Join(setter.got, ",") != "de,en" {
		t.Errorf("SetLanguage calls = %v, want [de en]", setter.got)
	}
	if p.states()["language"] != "en" {
		t.Errorf("language state = %q", p.states()["language"])
	}
}

func TestPublisher_States(t *testing.T) {
	daily := NewDailyTurns(time.UTC)
	daily.ObserveTurn(t.Context(), agent.TurnStats{Success: true})
	daily.ObserveTurn(t.Context(), agent.TurnStats{Success: false})

	p := New(testConfig(), "id", daily, fakeStats{st: Stats{
		TotalRequests:       12,
		AverageResponseTime: 1.23456,
		ErrorRate:           8.3333,
		ActiveConversations: 3,
		HistorySize:         40,
		ModelAvailable:      true,
	}}, nil)

	want := map[string]string{
		"average_response_time": "1.23",
		"error_rate":            "8.3",
		"total_requests":        "12",
		"requests_today":        "2",
		"active_conversations":  "3",
		"history_size":          "40",
		"default_model":         "llama3.2",
		"version":               "v1.2.3",
		"uptime":                "1h30m0s",
		"model_available":       "ON",
	}
	got := p.states()
	for k, v := range want {
		if got[k] != v {
			t.Errorf("states[%q] = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["language"]; ok {
		t.Error("language state without a select entity")
	}
}

func TestPublisher_PingBeforeStart(t *testing.T) {
	p := New(testConfig(), "id", nil, fakeStats{}, nil)
	if err := p.Ping(t.Context()); err == nil {
		t.Error("Ping before Start should fail")
	}
	if err := p.Stop(t.Context()); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}

func TestDailyTurns_Rollover(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	d := NewDailyTurns(time.UTC)
	d.now = func() time.Time { return now }
	d.day = d.today()

	d.ObserveTurn(t.Context(), agent.TurnStats{Success: true, ToolCalls: 2})
	d.ObserveTurn(t.Context(), agent.TurnStats{Success: false})
	if turns, failed, tools := d.Snapshot(); turns != 2 || failed != 1 || tools != 2 {
		t.Errorf("Snapshot() = %d, %d, %d", turns, failed, tools)
	}

	now = now.Add(2 * time.Minute)
	if turns, failed, tools := d.Snapshot(); turns != 0 || failed != 0 || tools != 0 {
		t.Errorf("after midnight Snapshot() = %d, %d, %d", turns, failed, tools)
	}
}

var _ agent.Observer = (*DailyTurns)(nil)
