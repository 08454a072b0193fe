// Package thread composes the hot Redis cache and the durable MongoDB store
// into the single thread store the session consumes.
package thread

import (
	"context"

	"goa.design/clue/log"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

// Store is the persistence contract both tiers implement.
type Store interface {
	Load(ctx context.Context, threadID string) ([]model.Message, error)
	Append(ctx context.Context, threadID string, msgs ...model.Message) error
}

// Tiered reads through the cache and writes to both tiers. Cache failures
// degrade to the durable store; durable failures surface to the caller.
type Tiered struct {
	cache   Store
	durable Store
}

// NewTiered composes the two tiers. cache may be nil, leaving the durable
// store alone.
func NewTiered(cache, durable Store) *Tiered {
	return &Tiered{cache: cache, durable: durable}
}

// Load returns the thread history, preferring the cache and backfilling it on
// a miss.
func (t *Tiered) Load(ctx context.Context, threadID string) ([]model.Message, error) {
	if t.cache != nil {
		msgs, err := t.cache.Load(ctx, threadID)
		if err == nil && len(msgs) > 0 {
			return msgs, nil
		}
		if err != nil {
			log.Errorf(ctx, err, "thread cache read failed, falling back")
		}
	}
	msgs, err := t.durable.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t.cache != nil && len(msgs) > 0 {
		if cerr := t.cache.Append(ctx, threadID, msgs...); cerr != nil {
			log.Errorf(ctx, cerr, "thread cache backfill failed")
		}
	}
	return msgs, nil
}

// Append writes turns to the durable store first, then best-effort to the
// cache.
func (t *Tiered) Append(ctx context.Context, threadID string, msgs ...model.Message) error {
	if err := t.durable.Append(ctx, threadID, msgs...); err != nil {
		return err
	}
	if t.cache != nil {
		if err := t.cache.Append(ctx, threadID, msgs...); err != nil {
			log.Errorf(ctx, err, "thread cache write failed")
		}
	}
	return nil
}
