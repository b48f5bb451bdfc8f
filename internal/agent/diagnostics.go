package agent

import (
	"context"

	"github.com/ianisms/ha.ollama.conv.tools/internal/connwatch"
)

// StatusReporter reports the health of watched services.
// connwatch.Manager satisfies it.
type StatusReporter interface {
	Status() map[string]connwatch.ServiceStatus
}

// Diagnostics is a point-in-time report on the session.
type Diagnostics struct {
	Host                    string                             `json:"host"`
	Port                    int                                `json:"port"`
	Model                   string                             `json:"model"`
	Available               bool                               `json:"available"`
	Language                string                             `json:"language"`
	PromptSource            string                             `json:"prompt_source"`
	Tools                   []string                           `json:"tools"`
	ConversationHistorySize int                                `json:"conversation_history_size"`
	ActiveConversations     int                                `json:"active_conversations"`
	Statistics              Statistics                         `json:"statistics"`
	Services                map[string]connwatch.ServiceStatus `json:"services,omitempty"`
}

// Diagnostics collects the current report.
func (a *Agent) Diagnostics(_ context.Context) Diagnostics {
	host, port := a.llm.HostPort()
	b := a.bundle.Load()
	d := Diagnostics{
		Host:                    host,
		Port:                    port,
		Model:                   a.Model(),
		Available:               a.llm.Available(),
		Language:                b.Language(),
		PromptSource:            b.Source(),
		Tools:                   a.registry.Names(),
		ConversationHistorySize: a.history.Size(),
		ActiveConversations:     a.history.Conversations(),
		Statistics:              a.stats.snapshot(),
	}
	if a.services != nil {
		d.Services = a.services.Status()
	}
	return d
}
