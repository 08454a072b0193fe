package pulse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

type fakePublisher struct {
	handles map[string]*fakeHandle
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handles: map[string]*fakeHandle{}}
}

func (p *fakePublisher) Stream(name string) (Handle, error) {
	h, ok := p.handles[name]
	if !ok {
		h = &fakeHandle{ch: make(chan *streaming.Event, 16)}
		p.handles[name] = h
	}
	return h, nil
}

type fakeHandle struct {
	added [][]byte
	names []string
	ch    chan *streaming.Event
}

func (h *fakeHandle) Add(_ context.Context, event string, payload []byte) (string, error) {
	h.names = append(h.names, event)
	h.added = append(h.added, payload)
	h.ch <- &streaming.Event{EventName: event, Payload: payload}
	return "1-0", nil
}

func (h *fakeHandle) NewSink(context.Context, string) (Consumer, error) {
	return &fakeConsumer{ch: h.ch}, nil
}

func (h *fakeHandle) Destroy(context.Context) error { return nil }

type fakeConsumer struct {
	ch    chan *streaming.Event
	acked int
}

func (c *fakeConsumer) Subscribe() <-chan *streaming.Event { return c.ch }

func (c *fakeConsumer) Ack(context.Context, *streaming.Event) error {
	c.acked++
	return nil
}

func (c *fakeConsumer) Close(context.Context) {}

func TestSendPublishesEnvelope(t *testing.T) {
	pub := newFakePublisher()
	sink, err := NewSink(Options{Publisher: pub})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), stream.NewAnswerDelta("s1", "hello")))

	h := pub.handles[StreamName("s1")]
	require.NotNil(t, h)
	require.Equal(t, []string{string(stream.EventAnswerDelta)}, h.names)

	var env envelope
	require.NoError(t, json.Unmarshal(h.added[0], &env))
	require.Equal(t, "s1", env.SessionID)
	require.Equal(t, string(stream.EventAnswerDelta), env.Type)
	require.Equal(t, "hello", env.Payload)
	require.False(t, env.Timestamp.IsZero())
}

func TestSendRejectsMissingSession(t *testing.T) {
	sink, err := NewSink(Options{Publisher: newFakePublisher()})
	require.NoError(t, err)
	require.Error(t, sink.Send(context.Background(), stream.NewStatus("", "streaming")))
}

func TestNewSinkRequiresBackend(t *testing.T) {
	_, err := NewSink(Options{})
	require.Error(t, err)
}

func TestSubscribeReplaysPublishedEvents(t *testing.T) {
	pub := newFakePublisher()
	sink, err := NewSink(Options{Publisher: pub})
	require.NoError(t, err)

	sub, err := NewSubscriber(SubscriberOptions{Publisher: pub})
	require.NoError(t, err)

	events, errs, stop, err := sub.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, sink.Send(context.Background(), stream.NewAnswerDelta("s1", "chunk")))
	require.NoError(t, sink.Send(context.Background(), stream.NewStatus("s1", "")))

	evt := <-events
	require.Equal(t, stream.EventAnswerDelta, evt.Type())
	require.Equal(t, "s1", evt.SessionID())

	var text string
	require.NoError(t, json.Unmarshal(evt.Payload().(json.RawMessage), &text))
	require.Equal(t, "chunk", text)

	evt = <-events
	require.Equal(t, stream.EventStatus, evt.Type())

	select {
	case err := <-errs:
		require.NoError(t, err)
	default:
	}
}
