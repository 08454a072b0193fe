// Package emitter paces delivery of classified text to the client sink. Large
// segments are cut into bounded slices sent with an eased inter-slice delay,
// simulating human-paced output. The delay is intentional product behavior
// (pacing), not congestion control, and is never bypassed even when the
// transport could accept faster writes.
package emitter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/parser"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

type (
	// Config bounds slice size and inter-slice delay. Immutable per session.
	Config struct {
		// ChunkSize is the maximum number of runes per slice.
		ChunkSize int
		// MinDelay is the delay after the first slice of a segment.
		MinDelay time.Duration
		// MaxDelay bounds the delay as the eased ramp approaches its peak.
		MaxDelay time.Duration
	}

	// Options configures an Emitter beyond its throttle settings.
	Options struct {
		// Sleep overrides the delay implementation (primarily for tests).
		// It must honor ctx cancellation.
		Sleep func(ctx context.Context, d time.Duration) error
	}

	// Emitter delivers classified segments to a sink one session at a time.
	// Concurrent Emit calls for the same Emitter are serialized so channel
	// interleaving on the wire is deterministic and slices are never
	// interleaved mid-segment.
	Emitter struct {
		sessionID string
		sink      stream.Sink
		cfg       Config
		sleep     func(ctx context.Context, d time.Duration) error

		mu sync.Mutex
	}
)

// DefaultConfig returns the throttle settings used when the caller does not
// supply its own.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 24,
		MinDelay:  10 * time.Millisecond,
		MaxDelay:  60 * time.Millisecond,
	}
}

// New builds an Emitter bound to one session and sink. Zero cfg fields are
// defaulted.
func New(sessionID string, sink stream.Sink, cfg Config, opts Options) *Emitter {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = def.MinDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepTimer
	}
	return &Emitter{sessionID: sessionID, sink: sink, cfg: cfg, sleep: sleep}
}

// Emit delivers text on the given channel as ceil(len/ChunkSize) slices, each
// followed by an eased delay:
//
//	d = min + (1 - cos(π·progress))/2 · (max - min),  progress = i/total
//
// Cancellation is observed at slice boundaries: once ctx is done no further
// slice is sent and Emit returns ctx.Err(). Slices never split a rune.
func (e *Emitter) Emit(ctx context.Context, channel parser.Channel, text string) error {
	if text == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	slices := cut(text, e.cfg.ChunkSize)
	total := len(slices)
	for i, s := range slices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.sink.Send(ctx, e.event(channel, s)); err != nil {
			return err
		}
		if err := e.sleep(ctx, Delay(e.cfg, i, total)); err != nil {
			return err
		}
	}
	return nil
}

// Send forwards a non-text event (status, search results, errors) through the
// same serialized queue so it cannot land in the middle of a paced segment.
func (e *Emitter) Send(ctx context.Context, event stream.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink.Send(ctx, event)
}

// Delay computes the eased inter-slice delay for slice i of total. Exposed so
// pacing tests can assert the curve without timing-sensitive measurement.
func Delay(cfg Config, i, total int) time.Duration {
	if total <= 0 {
		return cfg.MinDelay
	}
	progress := float64(i) / float64(total)
	eased := (1 - math.Cos(math.Pi*progress)) / 2
	return cfg.MinDelay + time.Duration(eased*float64(cfg.MaxDelay-cfg.MinDelay))
}

func (e *Emitter) event(channel parser.Channel, text string) stream.Event {
	switch channel {
	case parser.ChannelReasoning:
		return stream.NewReasoningDelta(e.sessionID, text)
	case parser.ChannelTool:
		return stream.NewToolDelta(e.sessionID, text)
	default:
		return stream.NewAnswerDelta(e.sessionID, text)
	}
}

// cut splits text into runs of at most n runes, never splitting a rune.
func cut(text string, n int) []string {
	var out []string
	runes := 0
	start := 0
	for i := range text {
		if runes == n {
			out = append(out, text[start:i])
			start = i
			runes = 0
		}
		runes++
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
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
