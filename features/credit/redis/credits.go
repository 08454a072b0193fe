// Package redis meters per-user generation credits in Redis. Balances reset
// on a fixed window; consumption is a single atomic Lua call so concurrent
// requests cannot overdraw.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultAllowance is the number of requests granted per window.
	DefaultAllowance = 100
	// DefaultWindow is how long a balance lasts before it resets.
	DefaultWindow = 24 * time.Hour
)

// consume initializes the balance on first use, then decrements it. Returns
// the remaining balance, or -1 when exhausted.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local allowance = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if redis.call("EXISTS", key) == 0 then
  redis.call("SET", key, allowance, "PX", window)
end
local remaining = tonumber(redis.call("GET", key))
if remaining <= 0 then
  return -1
end
return redis.call("DECR", key)
`)

type (
	// Options configures the service.
	Options struct {
		// Allowance is the per-window request budget. Zero uses
		// DefaultAllowance.
		Allowance int
		// Window is the reset period. Zero uses DefaultWindow.
		Window time.Duration
	}

	// Service implements the session's credit check.
	Service struct {
		rdb       redis.Scripter
		allowance int
		window    time.Duration
	}
)

// New builds the service.
func New(rdb redis.Scripter, opts Options) (*Service, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	allowance := opts.Allowance
	if allowance <= 0 {
		allowance = DefaultAllowance
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{rdb: rdb, allowance: allowance, window: window}, nil
}

// Consume atomically takes one credit for key. It reports false when the
// balance is exhausted; the balance replenishes when the window expires.
func (s *Service) Consume(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("credit key is required")
	}
	remaining, err := consumeScript.Run(ctx, s.rdb,
		[]string{"credits:" + key},
		s.allowance, s.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("consume credit for %s: %w", key, err)
	}
	return remaining >= 0, nil
}
