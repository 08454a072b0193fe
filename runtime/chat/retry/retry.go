// Package retry wraps a single upstream call with bounded retry for "service
// is still starting up" transient conditions. Cold-start detection is
// backend-specific, so the classifier is injectable: self-hosted inference
// endpoints signal loading via HTTP 503 plus a status header while other
// gateways embed a message substring. Permanent failures (auth, quota,
// malformed request) are never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

type (
	// Classifier reports whether err is a transient cold-start condition worth
	// retrying. It must return false for nil.
	Classifier func(err error) bool

	// Config configures retry behavior for one upstream call.
	Config struct {
		// MaxAttempts is the maximum number of attempts including the initial
		// one. Zero or one means no retries.
		MaxAttempts int
		// BaseDelay scales the linear backoff: the wait before attempt n+1 is
		// n × BaseDelay.
		BaseDelay time.Duration
		// Classify decides retryability. Defaults to ColdStart.
		Classify Classifier
		// Notify, when set, receives a progress message before each retry wait
		// (for example "Service is starting up, retrying in 4s..."). Delivery
		// is synchronous on the session goroutine.
		Notify func(ctx context.Context, msg string)
		// Sleep overrides the backoff wait (primarily for tests). It must
		// honor ctx cancellation.
		Sleep func(ctx context.Context, d time.Duration) error
	}
)

// DefaultConfig returns the retry settings used by strategies that support
// cold-start retry.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
	}
}

// ColdStart is the default classifier: it recognizes provider errors
// classified as cold-start by the model adapters. Context cancellation and
// everything else is permanent.
func ColdStart(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if pe, ok := model.AsProviderError(err); ok {
		return pe.Kind() == model.KindColdStart
	}
	return false
}

// Do executes fn under cfg. On a transient failure it waits attempt×BaseDelay
// (notifying the side channel first) and calls fn again, up to MaxAttempts
// total invocations. When attempts are exhausted, or on the first permanent
// failure, the error from the last attempt propagates unchanged so callers
// can classify it for user-facing messaging.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Classify == nil {
		cfg.Classify = ColdStart
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepTimer
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !cfg.Classify(err) {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		backoff := time.Duration(attempt) * cfg.BaseDelay
		if cfg.Notify != nil {
			secs := int(backoff.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			cfg.Notify(ctx, fmt.Sprintf("Service is starting up, retrying in %ds...", secs))
		}
		if err := sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// IsNetworkTimeout reports whether err is a low-level network timeout.
// Adapters use this to classify SDK failures into the timeout kind before
// constructing provider errors.
func IsNetworkTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
