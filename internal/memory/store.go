package memory

import (
	"context"
	"fmt"
	"sync"
)

// Backend names accepted by OpenStore.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StoreConfig selects and configures a Persister.
type StoreConfig struct {
	Backend string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// OpenStore opens the persister named by cfg.Backend. An empty backend
// means sqlite.
func OpenStore(cfg StoreConfig) (Persister, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case BackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, WithRedisPrefix(cfg.RedisPrefix)), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// MemoryStore keeps the last saved snapshot in process memory. History
// does not outlive the process.
type MemoryStore struct {
	mu   sync.Mutex
	snap map[string][]Item
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: make(map[string][]Item)}
}

// Save replaces the held snapshot with a copy of snapshot.
func (m *MemoryStore) Save(_ context.Context, snapshot map[string][]Item) error {
	m.mu.Lock()
	m.snap = copySnapshot(snapshot)
	m.mu.Unlock()
	return nil
}

// Load returns a copy of the held snapshot.
func (m *MemoryStore) Load(context.Context) (map[string][]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySnapshot(m.snap), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func copySnapshot(in map[string][]Item) map[string][]Item {
	out := make(map[string][]Item, len(in))
	for id, items := range in {
		out[id] = append([]Item(nil), items...)
	}
	return out
}
