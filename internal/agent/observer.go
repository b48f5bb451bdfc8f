package agent

import (
	"context"
	"sync"
	"time"
)

// ToolOutcome summarizes one tool call within a turn.
type ToolOutcome struct {
	Name     string
	Found    bool
	Success  bool
	Duration time.Duration
}

// TurnStats describes a finished turn, successful or not.
type TurnStats struct {
	ConversationID string
	Model          string
	Duration       time.Duration
	Success        bool
	ToolCalls      int
	Tools          []ToolOutcome
	Err            error
}

// Observer is notified after every turn. Implementations must not
// block; they run on the caller's goroutine.
type Observer interface {
	ObserveTurn(ctx context.Context, stats TurnStats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, stats TurnStats)

// ObserveTurn calls f.
func (f ObserverFunc) ObserveTurn(ctx context.Context, stats TurnStats) { f(ctx, stats) }

func (a *Agent) notify(res *Result, err error) {
	stats := TurnStats{
		ConversationID: res.ConversationID,
		Model:          res.Model,
		Duration:       res.Duration,
		Success:        err == nil,
		ToolCalls:      len(res.ToolCalls),
		Tools:          res.Tools,
		Err:            err,
	}
	// Observers may record to storage; give them a context that
	// survives the caller's cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, o := range a.observers {
		o.ObserveTurn(ctx, stats)
	}
}

// Statistics are counters over every turn since startup.
type Statistics struct {
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	ToolCalls           int64   `json:"tool_calls"`
	AverageResponseTime float64 `json:"average_response_time"` // seconds
	ErrorRate           float64 `json:"error_rate"`            // percent
	LastResponseTime    float64 `json:"last_response_time"`    // seconds
}

type statsRecorder struct {
	mu        sync.Mutex
	total     int64
	failed    int64
	toolCalls int64
	totalTime time.Duration
	last      time.Duration
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{}
}

func (r *statsRecorder) ObserveTurn(_ context.Context, s TurnStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if !s.Success {
		r.failed++
	}
	r.toolCalls += int64(s.ToolCalls)
	r.totalTime += s.Duration
	r.last = s.Duration
}

func (r *statsRecorder) snapshot() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Statistics{
		TotalRequests:      r.total,
		SuccessfulRequests: r.total - r.failed,
		FailedRequests:     r.failed,
		ToolCalls:          r.toolCalls,
		LastResponseTime:   r.last.Seconds(),
	}
	if r.total > 0 {
		st.AverageResponseTime = (r.totalTime / time.Duration(r.total)).Seconds()
		st.ErrorRate = float64(r.failed) / float64(r.total) * 100
	}
	return st
}
