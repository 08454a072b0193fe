// Package chat orchestrates one end-to-end ask request: context building,
// strategy dispatch, retryable generation, tag-aware parsing, throttled
// delivery and guaranteed finalization. It is the seam between transports
// (SSE handlers) and the model backends in features/model.
package chat

import (
	"strings"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

type (
	// Request is the structured ask request handed to a session by the
	// transport layer. Cancellation travels on the context, not the request.
	Request struct {
		// Query is the user's message.
		Query string
		// Model is the composite "namespace/modelName" identifier.
		Model string
		// Chats is the ordered prior conversation, oldest first.
		Chats []model.Message
		// Mode selects an automation mode. The only recognized value is
		// ModeDeployer; empty means plain generation.
		Mode string
		// Thinking requests reasoning-augmented output where the model
		// supports it.
		Thinking bool
		// WebSearch opts in to grounding the answer with web search context.
		WebSearch bool
		// Params carries optional custom generation parameters.
		Params GenParams
		// ThreadID keys persistence of this conversation, when set.
		ThreadID string
	}

	// GenParams carries optional generation tuning. Zero values mean provider
	// defaults.
	GenParams struct {
		Temperature      float64
		MaxTokens        int
		TopP             float64
		FrequencyPenalty float64
		PresencePenalty  float64
	}
)

// ModeDeployer selects the agentic deployment-automation strategy.
const ModeDeployer = "deployer"

// SplitModel splits the composite identifier into (namespace, modelName).
// An identifier without a slash has an empty namespace.
func SplitModel(composite string) (namespace, name string) {
	if i := strings.IndexByte(composite, '/'); i >= 0 {
		return composite[:i], composite[i+1:]
	}
	return "", composite
}

// ModelRequest translates the request and trimmed context into the
// normalized model invocation parameters.
func (r Request) ModelRequest(modelName string, messages []model.Message, thinking bool) model.Request {
	return model.Request{
		Model:            modelName,
		Messages:         messages,
		Temperature:      r.Params.Temperature,
		MaxTokens:        r.Params.MaxTokens,
		TopP:             r.Params.TopP,
		FrequencyPenalty: r.Params.FrequencyPenalty,
		PresencePenalty:  r.Params.PresencePenalty,
		Thinking:         thinking,
	}
}
