// Package model provides interfaces for LLM clients used by generation
// strategies. It defines a provider-agnostic abstraction over chat completion
// APIs (Gemini, Anthropic, self-hosted OpenAI-compatible endpoints) so the
// session orchestrator can invoke models without coupling to specific SDKs.
// Implementations translate these normalized types into provider-specific
// formats.
package model

import (
	"context"
	"errors"
)

type (
	// Client defines the contract strategies use to invoke LLM calls.
	// Implementations wrap provider SDKs and translate Request/Response to
	// provider-specific formats. Clients must be safe for concurrent use
	// across sessions.
	Client interface {
		// Complete sends a chat completion request and returns the full
		// generated response. Used by non-streaming strategies and as the
		// fallback path when a stream completes without emitting any content.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a chat completion request and returns a Streamer
		// yielding incremental chunks. The returned Streamer must be closed by
		// callers. Providers that do not support streaming return
		// ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return Chunk values until io.EOF. Safe to call from a single goroutine;
	// Close releases underlying resources.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model is the provider-specific model identifier (the modelName half
		// of the composite "namespace/modelName" request field).
		Model string

		// Messages is the ordered chat history, including the system prompt,
		// prior turns and the current user query.
		Messages []Message

		// Temperature controls sampling temperature. Zero means provider
		// default.
		Temperature float64

		// MaxTokens caps completion tokens. Zero means provider default.
		MaxTokens int

		// TopP configures nucleus sampling. Zero means provider default.
		TopP float64

		// FrequencyPenalty and PresencePenalty map to the matching provider
		// parameters where supported; unsupported providers ignore them.
		FrequencyPenalty float64
		PresencePenalty  float64

		// Thinking requests reasoning-augmented output for models that declare
		// reasoning support. Strategies intersect this with the capability
		// table before honoring it.
		Thinking bool
	}

	// Response wraps a complete (non-streaming) generation result.
	Response struct {
		// Text is the assistant answer text.
		Text string
		// Reasoning carries the model's reasoning output when Thinking was
		// requested and the provider returned it separately. Empty otherwise.
		Reasoning string
		// Usage reports token usage when the provider makes it available.
		Usage TokenUsage
	}

	// Message mirrors an LLM chat message with role and content.
	Message struct {
		// Role is "user", "assistant" or "system".
		Role string
		// Content is the message text.
		Content string
	}

	// Chunk represents a streaming event emitted by the model. Type indicates
	// which payload field is populated:
	//
	//   - ChunkTypeText:      Text holds an answer delta.
	//   - ChunkTypeReasoning: Reasoning holds a reasoning delta.
	//   - ChunkTypeToolCall:  ToolCall holds a requested tool invocation.
	//   - ChunkTypeStop:      the stream ended; StopReason explains why.
	Chunk struct {
		// Type is the chunk kind.
		Type ChunkType
		// Text holds the answer delta when Type == ChunkTypeText.
		Text string
		// Reasoning holds the reasoning delta when Type == ChunkTypeReasoning.
		Reasoning string
		// ToolCall holds the tool invocation when Type == ChunkTypeToolCall.
		ToolCall *ToolCall
		// StopReason explains termination when Type == ChunkTypeStop.
		StopReason string
	}

	// ChunkType is the streaming chunk kind.
	ChunkType string

	// ToolCall captures a tool invocation requested by the model.
	ToolCall struct {
		// Name identifies the tool (e.g., "createJob").
		Name string
		// Arguments carries the raw JSON arguments generated by the model.
		Arguments []byte
	}

	// TokenUsage records token counts when reported by the provider. All
	// fields are zero when the provider does not report usage.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// Chunk type constants populate Chunk.Type.
const (
	ChunkTypeText      ChunkType = "text"
	ChunkTypeReasoning ChunkType = "reasoning"
	ChunkTypeToolCall  ChunkType = "tool_call"
	ChunkTypeStop      ChunkType = "stop"
)

// Conversation role constants for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrStreamingUnsupported indicates the model provider does not implement
// streaming for the requested model/parameters. Strategies fall back to
// Complete.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")
