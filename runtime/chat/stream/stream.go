// Package stream defines the uniform event vocabulary delivered to clients
// during a chat session. Every generation strategy, whatever backend produced
// the tokens, funnels its output into these events; transports (SSE, Pulse)
// implement Sink and are responsible for marshaling events into their wire
// format.
//
// Events for a single session are strictly ordered: no event follows End or
// Error. Sinks may be called from the single session goroutine only; the
// emitter serializes delivery so channel interleaving on the wire is
// deterministic.
package stream

import (
	"context"
	"encoding/json"
	"strconv"
)

type (
	// Sink delivers session events to clients over a transport (SSE, Pulse).
	// Send is invoked once per event in delivery order; implementations marshal
	// the event into their wire format and handle transport-specific flushing.
	Sink interface {
		// Send publishes an event. Errors surface immediately rather than being
		// silently dropped; a failed Send terminates the session.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. Idempotent. After Close
		// returns, subsequent Send calls must return errors.
		Close(ctx context.Context) error
	}

	// Event is a single streaming update delivered to clients through a Sink.
	// Concrete event types embed Base for standard metadata. Sinks use the
	// interface for generic marshaling; consumers type-assert for structured
	// field access.
	Event interface {
		// Type returns the event type constant (e.g., EventAnswerDelta).
		Type() EventType

		// SessionID returns the session that produced this event.
		SessionID() string

		// Payload returns the event-specific data in a JSON-serializable form.
		Payload() any
	}

	// EventType identifies the kind of streaming event.
	EventType string

	// Base provides the standard event metadata embedded by all concrete
	// event types.
	Base struct {
		EventType EventType
		Session   string
	}

	// Status carries a free-text progress indicator (for example "streaming",
	// "thinking" or "Searching the web..."). The final event of every session
	// is a Status with an empty Text, signaling clean stream closure.
	Status struct {
		Base
		Text string
	}

	// AnswerDelta streams an answer-channel text slice. Concatenating Text
	// across sequential AnswerDelta events reconstructs the full answer.
	AnswerDelta struct {
		Base
		Text string
	}

	// ReasoningDelta streams a reasoning-channel text slice produced by models
	// that expose their chain of thought.
	ReasoningDelta struct {
		Base
		Text string
	}

	// ToolDelta streams a tool-channel text slice: the pretty-printed (or
	// fenced, when malformed) payload of a tool result block found in the
	// token stream.
	ToolDelta struct {
		Base
		Text string
	}

	// SearchResults carries web search hits, emitted at most once per session
	// and always before generation text begins.
	SearchResults struct {
		Base
		Data []SearchHit
	}

	// SearchHit is a single web search result.
	SearchHit struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}

	// ToolProposal describes a backend-initiated action awaiting human
	// confirmation. The session suspends until the caller resolves it.
	ToolProposal struct {
		Base
		Data ToolProposalPayload
	}

	// ToolProposalPayload is the wire payload for a proposed tool call.
	ToolProposalPayload struct {
		// ToolName identifies the proposed tool (e.g., "createJob").
		ToolName string `json:"toolname"`
		// Args carries the structured arguments generated by the model.
		Args json.RawMessage `json:"args"`
		// Prompt is a human-readable summary of what confirming would do.
		Prompt string `json:"prompt"`
	}

	// ToolsUsed lists the names of tools invoked during the session. Emitted
	// once near the end of agentic sessions, for diagnostics.
	ToolsUsed struct {
		Base
		Names []string
	}

	// Duration reports elapsed wall-clock milliseconds for the session.
	// Emitted exactly once, after all content events.
	Duration struct {
		Base
		Millis int64
	}

	// Warning surfaces a non-fatal condition (for example an unterminated
	// marker region at end of stream). The session continues or ends normally.
	Warning struct {
		Base
		Text string
	}

	// Error terminates the session with a user-facing message. At most one
	// Error is emitted per session and nothing follows it except the closing
	// Status frame.
	Error struct {
		Base
		Text string
	}
)

// Event type constants. These are stable identifiers used by sinks to route
// events to their wire representation.
const (
	EventStatus         EventType = "status"
	EventAnswerDelta    EventType = "answer_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolDelta      EventType = "tool_delta"
	EventSearchResults  EventType = "search_results"
	EventToolProposal   EventType = "tool_proposal"
	EventToolsUsed      EventType = "tools_used"
	EventDuration       EventType = "duration"
	EventWarning        EventType = "warning"
	EventError          EventType = "error"
)

// Type returns the event type constant.
func (b Base) Type() EventType { return b.EventType }

// SessionID returns the session that produced this event.
func (b Base) SessionID() string { return b.Session }

// Payload returns the event-specific data. Concrete types override this.
func (b Base) Payload() any { return nil }

// NewStatus builds a Status event.
func NewStatus(sessionID, text string) Status {
	return Status{Base: Base{EventType: EventStatus, Session: sessionID}, Text: text}
}

// NewAnswerDelta builds an AnswerDelta event.
func NewAnswerDelta(sessionID, text string) AnswerDelta {
	return AnswerDelta{Base: Base{EventType: EventAnswerDelta, Session: sessionID}, Text: text}
}

// NewReasoningDelta builds a ReasoningDelta event.
func NewReasoningDelta(sessionID, text string) ReasoningDelta {
	return ReasoningDelta{Base: Base{EventType: EventReasoningDelta, Session: sessionID}, Text: text}
}

// NewToolDelta builds a ToolDelta event.
func NewToolDelta(sessionID, text string) ToolDelta {
	return ToolDelta{Base: Base{EventType: EventToolDelta, Session: sessionID}, Text: text}
}

// NewSearchResults builds a SearchResults event.
func NewSearchResults(sessionID string, hits []SearchHit) SearchResults {
	return SearchResults{Base: Base{EventType: EventSearchResults, Session: sessionID}, Data: hits}
}

// NewToolProposal builds a ToolProposal event.
func NewToolProposal(sessionID, toolName string, args json.RawMessage, prompt string) ToolProposal {
	return ToolProposal{
		Base: Base{EventType: EventToolProposal, Session: sessionID},
		Data: ToolProposalPayload{ToolName: toolName, Args: args, Prompt: prompt},
	}
}

// NewToolsUsed builds a ToolsUsed event.
func NewToolsUsed(sessionID string, names []string) ToolsUsed {
	return ToolsUsed{Base: Base{EventType: EventToolsUsed, Session: sessionID}, Names: names}
}

// NewDuration builds a Duration event.
func NewDuration(sessionID string, millis int64) Duration {
	return Duration{Base: Base{EventType: EventDuration, Session: sessionID}, Millis: millis}
}

// NewWarning builds a Warning event.
func NewWarning(sessionID, text string) Warning {
	return Warning{Base: Base{EventType: EventWarning, Session: sessionID}, Text: text}
}

// NewError builds an Error event.
func NewError(sessionID, text string) Error {
	return Error{Base: Base{EventType: EventError, Session: sessionID}, Text: text}
}

// Payload implementations. Sinks that do not need typed access marshal these
// directly.

func (e Status) Payload() any         { return e.Text }
func (e AnswerDelta) Payload() any    { return e.Text }
func (e ReasoningDelta) Payload() any { return e.Text }
func (e ToolDelta) Payload() any      { return e.Text }
func (e SearchResults) Payload() any  { return e.Data }
func (e ToolProposal) Payload() any   { return e.Data }
func (e ToolsUsed) Payload() any      { return e.Names }

// Duration travels as a decimal string on the wire, not a JSON number.
func (e Duration) Payload() any { return strconv.FormatInt(e.Millis, 10) }
func (e Warning) Payload() any        { return e.Text }
func (e Error) Payload() any          { return e.Text }
