package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// StateCache keeps an in-memory copy of every entity state, seeded
// from get_states and kept current by state_changed events. Reads fall
// back to the REST client until the cache has synced, and again
// whenever the WebSocket drops.
type StateCache struct {
	ws       *WSClient
	fallback *Client
	logger   *slog.Logger

	mu     sync.RWMutex
	states map[string]State
	synced atomic.Bool

	runOnce sync.Once
}

// NewStateCache creates a cache over ws. fallback may be nil, in which
// case reads before the first sync return an error.
func NewStateCache(ws *WSClient, fallback *Client, logger *slog.Logger) *StateCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateCache{
		ws:       ws,
		fallback: fallback,
		logger:   logger,
		states:   make(map[string]State),
	}
}

// Start connects, seeds the cache, and begins applying events until
// ctx is cancelled.
// The event loop keeps running after a failed connect, so a later
// Resync is enough to recover.
func (c *StateCache) Start(ctx context.Context) error {
	c.runOnce.Do(func() { go c.run(ctx) })
	if err := c.ws.Connect(ctx); err != nil {
		return err
	}
	return c.seed(ctx)
}

// Resync reconnects the WebSocket and reloads every state. It is wired
// to the Home Assistant watcher's OnReady callback.
func (c *StateCache) Resync(ctx context.Context) error {
	c.synced.Store(false)
	if err := c.ws.Reconnect(ctx); err != nil {
		return err
	}
	return c.seed(ctx)
}

// MarkStale sends reads to the REST fallback until the next Resync.
func (c *StateCache) MarkStale() {
	c.synced.Store(false)
}

func (c *StateCache) seed(ctx context.Context) error {
	states, err := c.ws.GetStates(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]State, len(states))
	for _, s := range states {
		fresh[s.EntityID] = s
	}

	c.mu.Lock()
	c.states = fresh
	c.mu.Unlock()

	if err := c.ws.Subscribe(ctx, "state_changed"); err != nil {
		return err
	}
	c.synced.Store(true)
	c.logger.Info("state cache synced", "entities", len(fresh))
	return nil
}

func (c *StateCache) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.ws.Events():
			c.apply(ev)
		}
	}
}

func (c *StateCache) apply(ev Event) {
	if ev.Type != "state_changed" {
		return
	}
	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		c.logger.Debug("malformed state_changed event", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if data.NewState == nil {
		delete(c.states, data.EntityID)
		return
	}
	c.states[data.EntityID] = *data.NewState
}

// Synced reports whether reads are being served from the cache.
func (c *StateCache) Synced() bool {
	return c.synced.Load()
}

// Len returns the number of cached entities.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}

// GetState returns one entity state.
func (c *StateCache) GetState(ctx context.Context, entityID string) (*State, error) {
	if !c.synced.Load() {
		if c.fallback == nil {
			return nil, fmt.Errorf("state cache not synced")
		}
		return c.fallback.GetState(ctx, entityID)
	}

	c.mu.RLock()
	s, ok := c.states[entityID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", entityID, ErrNotFound)
	}
	return &s, nil
}

// GetStates returns every entity state sorted by entity ID.
func (c *StateCache) GetStates(ctx context.Context) ([]State, error) {
	if !c.synced.Load() {
		if c.fallback == nil {
			return nil, fmt.Errorf("state cache not synced")
		}
		return c.fallback.GetStates(ctx)
	}

	c.mu.RLock()
	out := make([]State, 0, len(c.states))
	for _, s := range c.states {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}
