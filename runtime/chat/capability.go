package chat

type (
	// Capabilities is the read-only model lookup table shared by all
	// concurrent sessions. It is built once at startup from configuration and
	// never mutated afterwards, so no synchronization is needed.
	Capabilities struct {
		// Models maps modelName to its capability entry.
		Models map[string]ModelInfo
		// Modes maps canned-mode names to their fixed informational answer.
		Modes map[string]string
	}

	// ModelInfo describes one recognized model.
	ModelInfo struct {
		// Provider identifies the backend family ("gemini", "anthropic",
		// "selfhosted").
		Provider string
		// SupportsReasoning reports whether the model can emit a separate
		// reasoning channel. A request's thinking flag is intersected with
		// this before dispatch.
		SupportsReasoning bool
		// SelfHosted marks models served by the self-hosted inference
		// endpoint (cold-start retry applies).
		SelfHosted bool
	}
)

// Namespaces recognized by the dispatcher beyond plain provider prefixes.
const (
	namespaceSelf       = "self"
	namespaceSelfHosted = "self-hosted"
	namespaceMode       = "mode"
)

// DefaultCapabilities returns the built-in capability table. Deployments
// typically extend it from configuration.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Models: map[string]ModelInfo{
			"gemini-2.0-flash":          {Provider: "gemini"},
			"gemini-2.0-flash-thinking": {Provider: "gemini", SupportsReasoning: true},
			"gemini-1.5-pro":            {Provider: "gemini"},
			"claude-3-5-sonnet":         {Provider: "anthropic", SupportsReasoning: true},
			"claude-3-5-haiku":          {Provider: "anthropic"},
			"mistral-7b":                {Provider: "selfhosted", SelfHosted: true},
			"llama-3-8b":                {Provider: "selfhosted", SelfHosted: true},
			"deepseek-r1":               {Provider: "selfhosted", SupportsReasoning: true, SelfHosted: true},
		},
		Modes: map[string]string{
			"deep":          cannedDeepResearch,
			"deep-research": cannedDeepResearch,
			"pro":           cannedProSearch,
			"pro-search":    cannedProSearch,
		},
	}
}

const (
	cannedDeepResearch = "Deep research mode is rolling out gradually and is not " +
		"enabled for this account yet. Your question was not sent to a model. " +
		"Switch to a standard model to get an answer right away."
	cannedProSearch = "Pro search mode is currently in closed beta. Your question " +
		"was not sent to a model. Enable web search on a standard model for a " +
		"similar experience."
)
