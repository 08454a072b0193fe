// Package redis provides the hot conversation thread cache. Threads live in
// a Redis list of JSON turns with a sliding TTL, keeping recent conversations
// cheap to load while MongoDB stays the durable copy.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

// DefaultTTL is the sliding expiry applied to thread keys on every access.
const DefaultTTL = 24 * time.Hour

type (
	// commands is the subset of go-redis used by the store.
	commands interface {
		RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
		LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
		Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
		Del(ctx context.Context, keys ...string) *redis.IntCmd
	}

	// Store implements the session's thread persistence on Redis.
	Store struct {
		rdb commands
		ttl time.Duration
	}

	turn struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
)

// New builds a Store. A zero ttl uses DefaultTTL.
func New(rdb redis.UniversalClient, ttl time.Duration) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}, nil
}

func key(threadID string) string { return "thread:" + threadID }

// Load returns the cached turns of a thread, oldest first. A missing key is
// an empty history.
func (s *Store) Load(ctx context.Context, threadID string) ([]model.Message, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	raw, err := s.rdb.LRange(ctx, key(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	msgs := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var t turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			// A corrupt entry poisons the whole list; drop the cache and let
			// the durable store repopulate it.
			_ = s.rdb.Del(ctx, key(threadID)).Err()
			return nil, nil
		}
		msgs = append(msgs, model.Message{Role: t.Role, Content: t.Content})
	}
	_ = s.rdb.Expire(ctx, key(threadID), s.ttl).Err()
	return msgs, nil
}

// Append pushes turns onto the thread list and refreshes its TTL.
func (s *Store) Append(ctx context.Context, threadID string, msgs ...model.Message) error {
	if threadID == "" {
		return errors.New("thread id is required")
	}
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		data, err := json.Marshal(turn{Role: m.Role, Content: m.Content})
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values[i] = data
	}
	if err := s.rdb.RPush(ctx, key(threadID), values...).Err(); err != nil {
		return fmt.Errorf("append thread %s: %w", threadID, err)
	}
	return s.rdb.Expire(ctx, key(threadID), s.ttl).Err()
}
