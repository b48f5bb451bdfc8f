package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
)

// DailyTurns counts turns and tool calls since local midnight. It
// implements agent.Observer.
type DailyTurns struct {
	mu        sync.Mutex
	turns     int64
	failed    int64
	toolCalls int64
	day       int
	loc       *time.Location
	now       func() time.Time
}

// NewDailyTurns creates a counter that resets at midnight in loc. A nil
// loc means time.Local.
func NewDailyTurns(loc *time.Location) *DailyTurns {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTurns{loc: loc, now: time.Now}
	d.day = d.today()
	return d
}

func (d *DailyTurns) today() int {
	t := d.now().In(d.loc)
	return t.Year()*1000 + t.YearDay()
}

// ObserveTurn counts a finished turn.
func (d *DailyTurns) ObserveTurn(_ context.Context, s agent.TurnStats) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover()
	d.turns++
	if !s.Success {
		d.failed++
	}
	d.toolCalls += int64(s.ToolCalls)
}

// Snapshot returns today's totals.
func (d *DailyTurns) Snapshot() (turns, failed, toolCalls int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover()
	return d.turns, d.failed, d.toolCalls
}

// rollover zeroes the counters when the day changes. d.mu must be held.
func (d *DailyTurns) rollover() {
	if today := d.today(); today != d.day {
		d.turns, d.failed, d.toolCalls = 0, 0, 0
		d.day = today
	}
}
