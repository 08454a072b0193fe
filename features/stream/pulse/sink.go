// Package pulse mirrors session events onto goa.design/pulse streams backed
// by Redis. Each session gets its own stream, letting any gateway replica
// resume delivery of an in-flight session after an SSE reconnect lands on a
// different instance.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

type (
	// Publisher is the subset of Pulse streaming the sink needs; tests
	// substitute a fake.
	Publisher interface {
		// Stream returns a handle to the named stream, creating it if needed.
		Stream(name string) (Handle, error)
	}

	// Handle publishes to, and consumes from, one Pulse stream.
	Handle interface {
		Add(ctx context.Context, event string, payload []byte) (string, error)
		NewSink(ctx context.Context, name string) (Consumer, error)
		Destroy(ctx context.Context) error
	}

	// Consumer is a Pulse consumer group on a session stream.
	Consumer interface {
		Subscribe() <-chan *streaming.Event
		Ack(context.Context, *streaming.Event) error
		Close(context.Context)
	}

	// Options configures the sink.
	Options struct {
		// Redis backs the Pulse streams. Required unless Publisher is set.
		Redis *redis.Client
		// Publisher overrides the Redis-backed publisher, for tests.
		Publisher Publisher
		// MaxLen bounds entries kept per session stream. Zero keeps the Pulse
		// default.
		MaxLen int
	}

	// Sink publishes session events to Pulse. Safe for concurrent Send.
	Sink struct {
		pub Publisher
	}

	// envelope is the wire form of one mirrored event.
	envelope struct {
		Type      string    `json:"type"`
		SessionID string    `json:"session_id"`
		Timestamp time.Time `json:"timestamp"`
		Payload   any       `json:"payload,omitempty"`
	}

	redisPublisher struct {
		rdb    *redis.Client
		maxLen int
	}

	redisHandle struct {
		stream *streaming.Stream
	}

	redisConsumer struct {
		sink *streaming.Sink
	}
)

// NewSink constructs the Pulse-backed session event sink.
func NewSink(opts Options) (*Sink, error) {
	pub := opts.Publisher
	if pub == nil {
		if opts.Redis == nil {
			return nil, errors.New("pulse: redis client is required")
		}
		pub = &redisPublisher{rdb: opts.Redis, maxLen: opts.MaxLen}
	}
	return &Sink{pub: pub}, nil
}

// StreamName is the Pulse stream carrying events for one session.
func StreamName(sessionID string) string {
	return "session/" + sessionID
}

// Send publishes the event to the session's stream.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	if event.SessionID() == "" {
		return errors.New("pulse: event missing session id")
	}
	handle, err := s.pub.Stream(StreamName(event.SessionID()))
	if err != nil {
		return err
	}
	env := envelope{
		Type:      string(event.Type()),
		SessionID: event.SessionID(),
		Timestamp: time.Now().UTC(),
		Payload:   event.Payload(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse: marshal envelope: %w", err)
	}
	if _, err := handle.Add(ctx, env.Type, payload); err != nil {
		return fmt.Errorf("pulse: publish %s: %w", env.Type, err)
	}
	return nil
}

// Close is a no-op; the caller owns the Redis connection lifecycle.
func (s *Sink) Close(context.Context) error { return nil }

func (p *redisPublisher) Stream(name string) (Handle, error) {
	var opts []streamopts.Stream
	if p.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(p.maxLen))
	}
	str, err := streaming.NewStream(name, p.rdb, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: create stream %s: %w", name, err)
	}
	return &redisHandle{stream: str}, nil
}

func (h *redisHandle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return h.stream.Add(ctx, event, payload)
}

func (h *redisHandle) NewSink(ctx context.Context, name string) (Consumer, error) {
	sink, err := h.stream.NewSink(ctx, name)
	if err != nil {
		return nil, err
	}
	return &redisConsumer{sink: sink}, nil
}

func (h *redisHandle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

func (c *redisConsumer) Subscribe() <-chan *streaming.Event { return c.sink.Subscribe() }

func (c *redisConsumer) Ack(ctx context.Context, evt *streaming.Event) error {
	return c.sink.Ack(ctx, evt)
}

func (c *redisConsumer) Close(ctx context.Context) { c.sink.Close(ctx) }
