package chat

import (
	"errors"
	"fmt"
)

// StrategyKind identifies one generation strategy family.
type StrategyKind string

// The strategy families a request can dispatch to.
const (
	KindAgentic    StrategyKind = "agentic"
	KindSelfHosted StrategyKind = "selfhosted"
	KindHosted     StrategyKind = "hosted"
	KindCanned     StrategyKind = "canned"
)

// Decision is the dispatcher's output: exactly one strategy family plus the
// parameters the session needs to drive it.
type Decision struct {
	// Kind selects the strategy family.
	Kind StrategyKind
	// Provider is the capability-table backend family for hosted and
	// self-hosted decisions ("gemini", "anthropic", "selfhosted").
	Provider string
	// ModelName is the bare model identifier (no namespace).
	ModelName string
	// Thinking is the effective reasoning flag: the request's thinking flag
	// intersected with the model's declared reasoning support.
	Thinking bool
	// CannedText is the fixed answer for canned decisions.
	CannedText string
}

// ErrInvalidModel reports that no strategy matches the request. The session
// emits a single terminal error event and attempts no generation.
var ErrInvalidModel = errors.New("chat: no strategy matches the requested model")

// Dispatch routes a request to exactly one strategy. It is a pure function of
// the request's mode flag, model identifier and thinking flag plus the
// capability table: no hidden state, first match wins.
//
// Priority order:
//  1. explicit deployer mode flag → agentic
//  2. self namespace with a recognized local model → self-hosted
//  3. recognized hosted-provider model → hosted (thinking ∩ capability)
//  4. mode namespace with a known canned mode → canned
//  5. otherwise → ErrInvalidModel
func Dispatch(req Request, caps Capabilities) (Decision, error) {
	if req.Mode == ModeDeployer {
		return Decision{Kind: KindAgentic}, nil
	}

	ns, name := SplitModel(req.Model)

	if ns == namespaceSelf || ns == namespaceSelfHosted {
		if info, ok := caps.Models[name]; ok && info.SelfHosted {
			return Decision{
				Kind:      KindSelfHosted,
				Provider:  info.Provider,
				ModelName: name,
				Thinking:  req.Thinking && info.SupportsReasoning,
			}, nil
		}
		return Decision{}, fmt.Errorf("%w: unknown self-hosted model %q", ErrInvalidModel, name)
	}

	if info, ok := caps.Models[name]; ok && !info.SelfHosted {
		return Decision{
			Kind:      KindHosted,
			Provider:  info.Provider,
			ModelName: name,
			Thinking:  req.Thinking && info.SupportsReasoning,
		}, nil
	}

	if ns == namespaceMode {
		if text, ok := caps.Modes[name]; ok {
			return Decision{Kind: KindCanned, CannedText: text}, nil
		}
	}

	return Decision{}, fmt.Errorf("%w: %q", ErrInvalidModel, req.Model)
}
