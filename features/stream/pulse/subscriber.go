package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

type (
	// Subscriber replays a session's mirrored events, letting a gateway
	// replica that does not own the session continue delivery to a
	// reconnected client.
	Subscriber struct {
		pub    Publisher
		name   string
		buffer int
	}

	// SubscriberOptions configures a Subscriber.
	SubscriberOptions struct {
		// Redis backs the Pulse streams. Required unless Publisher is set.
		Redis *redis.Client
		// Publisher overrides the Redis-backed stream source, for tests.
		Publisher Publisher
		// GroupName identifies the consumer group. Defaults to
		// "gateway_subscriber".
		GroupName string
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
	}

	// replayedEvent is the generic event form decoded from an envelope.
	replayedEvent struct {
		kind    stream.EventType
		session string
		payload json.RawMessage
	}
)

func (e replayedEvent) Type() stream.EventType { return e.kind }
func (e replayedEvent) SessionID() string      { return e.session }
func (e replayedEvent) Payload() any           { return e.payload }

// NewSubscriber constructs a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	pub := opts.Publisher
	if pub == nil {
		if opts.Redis == nil {
			return nil, errors.New("pulse: redis client is required")
		}
		pub = &redisPublisher{rdb: opts.Redis}
	}
	name := opts.GroupName
	if name == "" {
		name = "gateway_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscriber{pub: pub, name: name, buffer: buffer}, nil
}

// Subscribe opens a consumer group on the session's stream and returns the
// replayed events and a cancel function that stops consumption.
func (s *Subscriber) Subscribe(ctx context.Context, sessionID string) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	handle, err := s.pub.Stream(StreamName(sessionID))
	if err != nil {
		return nil, nil, nil, err
	}
	consumer, err := handle.NewSink(ctx, s.name)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan stream.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, consumer, events, errs)
	stop := func() {
		cancel()
		consumer.Close(context.Background())
	}
	return events, errs, stop, nil
}

func (s *Subscriber) consume(ctx context.Context, consumer Consumer, out chan<- stream.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := consumer.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := decodeEnvelope(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse: decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if err := consumer.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse: ack: %w", err)
				return
			}
		}
	}
}

func decodeEnvelope(payload []byte) (stream.Event, error) {
	var env struct {
		Type      string          `json:"type"`
		SessionID string          `json:"session_id"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return replayedEvent{
		kind:    stream.EventType(env.Type),
		session: env.SessionID,
		payload: env.Payload,
	}, nil
}
