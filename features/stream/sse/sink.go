// Package sse adapts a chat event stream to a Server-Sent Events HTTP
// response. Frame names are part of the public wire contract consumed by the
// web client; changing them breaks deployed frontends.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

// Wire frame names, one per event family.
const (
	FrameEvent        = "event"
	FrameLLMResult    = "llmResult"
	FrameThinking     = "thinking"
	FrameSearchResult = "searchResult"
	FrameToolExecute  = "toolExecute"
	FrameToolsUsed    = "toolsUsed"
	FrameDuration     = "Duration"
	FrameError        = "error"
)

// ErrClosed is returned by Send after the sink has been closed.
var ErrClosed = errors.New("sse: sink closed")

// Sink writes chat events to an http.ResponseWriter as SSE frames. It is
// safe for concurrent use; frames are written whole under a mutex.
type Sink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	fl     http.Flusher
	closed bool
}

// New prepares the response for event streaming and returns the sink. It
// fails when the underlying writer cannot flush, which is required for
// incremental delivery.
func New(w http.ResponseWriter) (*Sink, error) {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("sse: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &Sink{w: bufio.NewWriter(w), fl: fl}, nil
}

// Send marshals the event payload and writes one SSE frame. The terminal
// empty status becomes the bare closure frame "event: event" with empty data.
func (s *Sink) Send(_ context.Context, evt stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	name := FrameName(evt.Type())
	payload := evt.Payload()
	if evt.Type() == stream.EventStatus && payload == "" {
		return s.write(name, nil)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal %s frame: %w", name, err)
	}
	return s.write(name, data)
}

// Close flushes buffered frames and marks the sink unusable. Idempotent.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

func (s *Sink) write(name string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

// FrameName maps an internal event type to its wire frame name. Warnings
// travel on the status frame so clients need no extra handler for them.
func FrameName(t stream.EventType) string {
	switch t {
	case stream.EventAnswerDelta, stream.EventToolDelta:
		return FrameLLMResult
	case stream.EventReasoningDelta:
		return FrameThinking
	case stream.EventSearchResults:
		return FrameSearchResult
	case stream.EventToolProposal:
		return FrameToolExecute
	case stream.EventToolsUsed:
		return FrameToolsUsed
	case stream.EventDuration:
		return FrameDuration
	case stream.EventError:
		return FrameError
	default:
		return FrameEvent
	}
}
