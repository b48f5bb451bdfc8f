// Package memory keeps the per-conversation history log and persists it
// between runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Defaults for History limits.
const (
	DefaultMaxItems       = 100
	DefaultPruneThreshold = 80
)

// Item is one history entry. Timestamp is seconds since the Unix epoch.
type Item struct {
	Text           string  `json:"text"`
	Timestamp      float64 `json:"timestamp"`
	ConversationID string  `json:"conversation_id"`
}

// Time returns the timestamp as a time.Time.
func (it Item) Time() time.Time {
	sec := int64(it.Timestamp)
	nsec := int64((it.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Persister saves and loads a full history snapshot.
type Persister interface {
	Save(ctx context.Context, snapshot map[string][]Item) error
	Load(ctx context.Context) (map[string][]Item, error)
	Close() error
}

type conversation struct {
	mu    sync.Mutex
	items []Item
}

// History is a bounded, ordered log of items per conversation. Appends
// to different conversations do not contend; appends to the same
// conversation are serialized.
type History struct {
	maxItems       int
	pruneThreshold int
	now            func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

// NewHistory creates a history. Once a conversation grows past
// pruneThreshold it is cut back to its newest maxItems entries, and it
// never holds more than maxItems after an append.
func NewHistory(maxItems, pruneThreshold int) *History {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if pruneThreshold <= 0 {
		pruneThreshold = DefaultPruneThreshold
	}
	pruneThreshold = min(pruneThreshold, maxItems)
	return &History{
		maxItems:       maxItems,
		pruneThreshold: pruneThreshold,
		now:            time.Now,
		convs:          make(map[string]*conversation),
	}
}

// MaxItems returns the per-conversation cap.
func (h *History) MaxItems() int { return h.maxItems }

func (h *History) conv(id string, create bool) *conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.convs[id]
	if !ok && create {
		c = &conversation{}
		h.convs[id] = c
	}
	return c
}

// Append adds text to a conversation, stamped with the current time.
func (h *History) Append(conversationID, text string) Item {
	now := h.now()
	it := Item{
		Text:           text,
		Timestamp:      float64(now.UnixNano()) / 1e9,
		ConversationID: conversationID,
	}

	c := h.conv(conversationID, true)
	c.mu.Lock()
	c.items = h.prune(append(c.items, it))
	c.mu.Unlock()
	return it
}

// prune trims items to the newest maxItems once they pass the prune
// threshold. The threshold never exceeds maxItems, so the cap holds
// after every append.
func (h *History) prune(items []Item) []Item {
	if len(items) <= h.pruneThreshold || len(items) <= h.maxItems {
		return items
	}
	kept := make([]Item, h.maxItems)
	copy(kept, items[len(items)-h.maxItems:])
	return kept
}

// Items returns a copy of a conversation's items, oldest first.
func (h *History) Items(conversationID string) []Item {
	c := h.conv(conversationID, false)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items held for a conversation.
func (h *History) Len(conversationID string) int {
	c := h.conv(conversationID, false)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Conversations returns the number of conversations held.
func (h *History) Conversations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.convs)
}

// Size returns the total number of items across all conversations.
func (h *History) Size() int {
	total := 0
	for _, c := range h.all() {
		c.mu.Lock()
		total += len(c.items)
		c.mu.Unlock()
	}
	return total
}

// IDs returns the conversation ids, sorted.
func (h *History) IDs() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.convs))
	for id := range h.convs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Clear removes a conversation.
func (h *History) Clear(conversationID string) {
	h.mu.Lock()
	delete(h.convs, conversationID)
	h.mu.Unlock()
}

func (h *History) all() map[string]*conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]*conversation, len(h.convs))
	for id, c := range h.convs {
		out[id] = c
	}
	return out
}

// Snapshot returns a deep copy of every conversation.
func (h *History) Snapshot() map[string][]Item {
	snap := make(map[string][]Item)
	for id, c := range h.all() {
		c.mu.Lock()
		items := make([]Item, len(c.items))
		copy(items, c.items)
		c.mu.Unlock()
		snap[id] = items
	}
	return snap
}

// Restore replaces the history with snapshot. Each conversation keeps
// only its newest maxItems entries.
func (h *History) Restore(snapshot map[string][]Item) {
	convs := make(map[string]*conversation, len(snapshot))
	for id, items := range snapshot {
		if len(items) > h.maxItems {
			items = items[len(items)-h.maxItems:]
		}
		kept := make([]Item, len(items))
		copy(kept, items)
		convs[id] = &conversation{items: kept}
	}

	h.mu.Lock()
	h.convs = convs
	h.mu.Unlock()
}

// Save writes a snapshot through p.
func (h *History) Save(ctx context.Context, p Persister) error {
	return p.Save(ctx, h.Snapshot())
}

// Load replaces the history with what p holds.
func (h *History) Load(ctx context.Context, p Persister) error {
	snap, err := p.Load(ctx)
	if err != nil {
		return err
	}
	h.Restore(snap)
	return nil
}
