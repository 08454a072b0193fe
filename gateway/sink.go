package gateway

import (
	"context"
	"sync"

	"goa.design/clue/log"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

// switchSink is a stream.Sink whose destination can be rebound between HTTP
// requests. A session suspended on a tool proposal outlives the request that
// started it; when the confirmation arrives on a new connection the handler
// rebinds the switch to the new response stream before resuming.
type switchSink struct {
	mu  sync.Mutex
	dst stream.Sink
}

func newSwitchSink(dst stream.Sink) *switchSink {
	return &switchSink{dst: dst}
}

// Rebind points the switch at a new destination. The previous destination is
// not closed; its request handler owns it.
func (s *switchSink) Rebind(dst stream.Sink) {
	s.mu.Lock()
	s.dst = dst
	s.mu.Unlock()
}

func (s *switchSink) Send(ctx context.Context, evt stream.Event) error {
	s.mu.Lock()
	dst := s.dst
	s.mu.Unlock()
	return dst.Send(ctx, evt)
}

func (s *switchSink) Close(ctx context.Context) error {
	s.mu.Lock()
	dst := s.dst
	s.mu.Unlock()
	return dst.Close(ctx)
}

// mirrorSink forwards every event to a primary sink and best-effort mirrors
// it to a secondary one (the Pulse session stream). Mirror failures are
// logged and never interrupt client delivery; Close closes only the primary,
// since the mirror is shared across sessions.
type mirrorSink struct {
	primary stream.Sink
	mirror  stream.Sink
}

func newMirrorSink(primary, mirror stream.Sink) *mirrorSink {
	return &mirrorSink{primary: primary, mirror: mirror}
}

func (s *mirrorSink) Send(ctx context.Context, evt stream.Event) error {
	if err := s.primary.Send(ctx, evt); err != nil {
		return err
	}
	if err := s.mirror.Send(ctx, evt); err != nil {
		log.Errorf(ctx, err, "mirror %s event for session %s", evt.Type(), evt.SessionID())
	}
	return nil
}

func (s *mirrorSink) Close(ctx context.Context) error {
	return s.primary.Close(ctx)
}
