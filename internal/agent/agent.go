// Package agent runs conversation turns: it asks the model for a first
// response, executes any tool calls that response contains, and asks
// the model again with the tool results folded into a follow-up prompt.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ianisms/ha.ollama.conv.tools/internal/memory"
	"github.com/ianisms/ha.ollama.conv.tools/internal/prompts"
	"github.com/ianisms/ha.ollama.conv.tools/internal/speech"
	"github.com/ianisms/ha.ollama.conv.tools/internal/toolcall"
	"github.com/ianisms/ha.ollama.conv.tools/internal/tools"
)

// Apology is the only text a caller sees when a turn fails. The cause
// goes to the log.
const Apology = "I'm sorry, I encountered an error while processing your request."

// assistantPrefix marks model answers in the history log.
const assistantPrefix = "Assistant: "

// ErrBusy is returned when no admission slot frees up within the
// admission timeout.
var ErrBusy = errors.New("too many concurrent requests")

// ErrEmptyAnswer is what observers see for a turn whose final answer is
// blank. Process itself does not return it.
var ErrEmptyAnswer = errors.New("model returned an empty answer")

// Defaults used when the corresponding Config field is zero.
const (
	DefaultMaxConcurrentRequests = 5
	DefaultAdmissionTimeout      = 30 * time.Second
	DefaultTurnTimeout           = 90 * time.Second
	DefaultToolTimeout           = 15 * time.Second
)

// LLM is the model server as the agent sees it. llm.Gateway satisfies it.
type LLM interface {
	Generate(ctx context.Context, prompt, system, model string) (string, error)
	Model() string
	Available() bool
	HostPort() (string, int)
}

// Config holds agent settings.
type Config struct {
	// SystemPrompt overrides the templated system prompt when non-empty.
	SystemPrompt string

	// Model overrides the gateway's default model when non-empty.
	Model string

	// Language and PromptsDir select the prompt template bundle.
	Language   string
	PromptsDir string

	MaxConcurrentRequests int
	AdmissionTimeout      time.Duration
	TurnTimeout           time.Duration
	ToolTimeout           time.Duration

	// PlainSpeech flattens markdown answers in Respond.
	PlainSpeech bool
}

// Deps are the collaborators an Agent needs. LLM, Registry, and History
// are required.
type Deps struct {
	LLM       LLM
	Registry  *tools.Registry
	History   *memory.History
	Parser    *toolcall.Parser
	Bundle    *prompts.Bundle
	Observers []Observer
	Services  StatusReporter
	Logger    *slog.Logger
}

// Result is the outcome of one turn.
type Result struct {
	ConversationID string
	Model          string

	// Text is the final answer: the follow-up answer when tools ran and
	// it was non-empty, the first response otherwise.
	Text string

	// Speech is what a voice client should say. Respond fills it.
	Speech string

	ToolCalls []toolcall.Call
	Tools     []ToolOutcome
	Duration  time.Duration
	Failed    bool
}

// Agent is one conversation session. It is safe for concurrent use.
type Agent struct {
	cfg      Config
	llm      LLM
	registry *tools.Registry
	history  *memory.History
	parser   *toolcall.Parser
	executor *tools.Executor
	bundle   atomic.Pointer[prompts.Bundle]
	gate     *semaphore.Weighted

	stats     *statsRecorder
	observers []Observer
	services  StatusReporter
	logger    *slog.Logger
}

// New creates an agent.
func New(cfg Config, deps Deps) (*Agent, error) {
	if deps.LLM == nil {
		return nil, errors.New("agent: LLM is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if deps.History == nil {
		return nil, errors.New("agent: history is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = DefaultAdmissionTimeout
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}

	parser := deps.Parser
	if parser == nil {
		parser = toolcall.NewParser(toolcall.DefaultMarker, logger)
	}

	a := &Agent{
		cfg:      cfg,
		llm:      deps.LLM,
		registry: deps.Registry,
		history:  deps.History,
		parser:   parser,
		gate:     semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		stats:    newStatsRecorder(),
		services: deps.Services,
		logger:   logger,
	}
	a.observers = append([]Observer{a.stats}, deps.Observers...)

	bundle := deps.Bundle
	if bundle == nil {
		bundle = prompts.Load(cfg.PromptsDir, cfg.Language, logger)
	}
	a.bundle.Store(bundle)

	// The executor formats through the agent so a language swap takes
	// effect on the next call.
	a.executor = tools.NewExecutor(a.registry, bundleFormatter{a}, cfg.ToolTimeout, logger)
	return a, nil
}

// bundleFormatter formats tool results with whichever bundle is active.
type bundleFormatter struct{ a *Agent }

func (f bundleFormatter) ToolError(message string) string {
	return f.a.bundle.Load().ToolError(message)
}

func (f bundleFormatter) ToolSuccess(toolName, result string) string {
	return f.a.bundle.Load().ToolSuccess(toolName, result)
}

// Bundle returns the active prompt bundle.
func (a *Agent) Bundle() *prompts.Bundle { return a.bundle.Load() }

// SetLanguage loads the bundle for lang and makes it active. Turns in
// flight keep the bundle they started with.
func (a *Agent) SetLanguage(lang string) {
	b := prompts.Load(a.cfg.PromptsDir, lang, a.logger)
	a.bundle.Store(b)
	a.logger.Info("prompt language changed", "language", b.Language(), "source", b.Source())
}

// SystemPrompt returns the system prompt a turn would use right now.
func (a *Agent) SystemPrompt() string {
	return a.bundle.Load().SystemPrompt(a.cfg.SystemPrompt, a.registry.All())
}

// Model returns the model turns are sent to.
func (a *Agent) Model() string {
	if a.cfg.Model != "" {
		return a.cfg.Model
	}
	return a.llm.Model()
}

// History returns the conversation history log.
func (a *Agent) History() *memory.History { return a.history }

// Registry returns the tool registry.
func (a *Agent) Registry() *tools.Registry { return a.registry }

// Executor returns the tool executor turns run through.
func (a *Agent) Executor() *tools.Executor { return a.executor }

// Statistics returns counters over every turn since startup.
func (a *Agent) Statistics() Statistics { return a.stats.snapshot() }

// Load restores history from p.
func (a *Agent) Load(ctx context.Context, p memory.Persister) error {
	if err := a.history.Load(ctx, p); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	a.logger.Info("history loaded",
		"conversations", a.history.Conversations(),
		"items", a.history.Size(),
	)
	return nil
}

// Save writes history to p.
func (a *Agent) Save(ctx context.Context, p memory.Persister) error {
	if err := a.history.Save(ctx, p); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	a.logger.Info("history saved",
		"conversations", a.history.Conversations(),
		"items", a.history.Size(),
	)
	return nil
}

// Process runs one turn. An empty conversationID starts a new
// conversation. Model failures abort the turn and are returned wrapped;
// tool failures do not abort it. A blank final answer is not an error
// here, but the turn is marked Failed and observed as a failure.
func (a *Agent) Process(ctx context.Context, conversationID, text string) (*Result, error) {
	start := time.Now()
	if conversationID == "" {
		conversationID = newConversationID()
	}
	res := &Result{ConversationID: conversationID, Model: a.Model()}

	err := a.admit(ctx)
	if err == nil {
		func() {
			defer a.gate.Release(1)
			turnCtx, cancel := context.WithTimeout(ctx, a.cfg.TurnTimeout)
			defer cancel()
			err = a.turn(turnCtx, res, text)
		}()
	}

	res.Duration = time.Since(start)
	outcome := err
	if outcome == nil && strings.TrimSpace(res.Text) == "" {
		outcome = ErrEmptyAnswer
	}
	res.Failed = outcome != nil
	a.notify(res, outcome)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (a *Agent) admit(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, a.cfg.AdmissionTimeout)
	defer cancel()
	if err := a.gate.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	return nil
}

func (a *Agent) turn(ctx context.Context, res *Result, text string) error {
	log := a.logger.With("conversation_id", res.ConversationID)
	bundle := a.bundle.Load()

	a.history.Append(res.ConversationID, text)

	system := bundle.SystemPrompt(a.cfg.SystemPrompt, a.registry.All())
	first, err := a.llm.Generate(ctx, text, system, a.cfg.Model)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	res.Text = first

	res.ToolCalls = a.parser.Parse(first)
	if len(res.ToolCalls) == 0 {
		log.Debug("no tool calls in response")
		a.remember(res)
		return nil
	}

	results := make([]string, 0, len(res.ToolCalls))
	for _, call := range res.ToolCalls {
		out := a.executor.Execute(ctx, call.Name, call.Args)
		res.Tools = append(res.Tools, ToolOutcome{
			Name:     call.Name,
			Found:    out.Found,
			Success:  out.OK(),
			Duration: out.Duration,
		})
		results = append(results, out.Text)
	}
	log.Debug("tool calls executed", "count", len(results))
	if len(results) == 0 {
		a.remember(res)
		return nil
	}

	second, err := a.llm.Generate(ctx, bundle.FollowUpPrompt(text, results), system, a.cfg.Model)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if strings.TrimSpace(second) != "" {
		res.Text = second
	} else {
		log.Debug("empty follow-up answer, using first response")
	}

	a.remember(res)
	return nil
}

// remember appends a non-empty final answer to history.
func (a *Agent) remember(res *Result) {
	if strings.TrimSpace(res.Text) == "" {
		return
	}
	a.history.Append(res.ConversationID, assistantPrefix+res.Text)
}

// Respond runs a turn for a user-facing client. It never returns an
// error: any failure, or an empty answer, yields Apology with Failed set.
func (a *Agent) Respond(ctx context.Context, conversationID, text string) Result {
	res, err := a.Process(ctx, conversationID, text)
	if err != nil {
		a.logger.Error("turn failed",
			"conversation_id", res.ConversationID,
			"error", err,
		)
		res.Speech = Apology
		res.Failed = true
		return *res
	}
	if strings.TrimSpace(res.Text) == "" {
		a.logger.Warn("turn produced an empty answer", "conversation_id", res.ConversationID)
		res.Speech = Apology
		res.Failed = true
		return *res
	}

	res.Speech = res.Text
	if a.cfg.PlainSpeech {
		res.Speech = speech.Plain(res.Text)
	}
	return *res
}

func newConversationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
