package memory

import (
	"context"
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces history keys.
const DefaultRedisPrefix = "tooledca:history:"

// RedisStore persists history snapshots to Redis. Each conversation is
// one JSON list value under prefix+"conv:"+id; the set
// prefix+"conversations" names every stored conversation. No
// conversation id can produce the index key.
type RedisStore struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + "conv:" + conversationID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "conversations"
}

// Save replaces the stored history with snapshot. Conversations absent
// from snapshot are deleted.
func (s *RedisStore) Save(ctx context.Context, snapshot map[string][]Item) error {
	existing, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range existing {
		if _, keep := snapshot[id]; !keep {
			pipe.Del(ctx, s.key(id))
			pipe.SRem(ctx, s.indexKey(), id)
		}
	}
	for id, items := range snapshot {
		data, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", id, err)
		}
		pipe.Set(ctx, s.key(id), data, 0)
		pipe.SAdd(ctx, s.indexKey(), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save to redis: %w", err)
	}
	return nil
}

// Load returns every stored conversation. Index entries whose value has
// gone missing are skipped.
func (s *RedisStore) Load(ctx context.Context) (map[string][]Item, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	snap := make(map[string][]Item, len(ids))
	if len(ids) == 0 {
		return snap, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var items []Item
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", ids[i], err)
		}
		snap[ids[i]] = items
	}
	return snap, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
