// Package deploy defines the collaborator contracts for GPU deployment
// automation: a planner that turns a natural-language request into a
// structured job spec, and an executor that performs the on-chain actions.
// Both sit outside the streaming core; the tool bridge validates arguments
// against JSON Schemas before anything is proposed to the user, and nothing
// is ever executed without an explicit confirmation.
package deploy

import (
	"context"
	"encoding/json"
)

// Action identifies a mutating deployment operation.
type Action string

// The deployment actions the model may propose.
const (
	ActionCreateJob Action = "createJob"
	ActionStopJob   Action = "stopJob"
	ActionExtendJob Action = "extendJob"
)

type (
	// Executor performs a confirmed deployment action. Implementations wrap
	// wallet signing and on-chain job submission; from the gateway's point of
	// view the call either succeeds with a summary or fails with an error.
	Executor interface {
		Execute(ctx context.Context, action Action, args json.RawMessage) (*Outcome, error)
	}

	// Outcome reports the result of an executed action.
	Outcome struct {
		// Success reports whether the action completed.
		Success bool `json:"success"`
		// Summary is a human-readable result description (job address,
		// explorer link, remaining balance).
		Summary string `json:"resultSummary"`
	}

	// Planner generates a structured job spec from a model deployment
	// request, including GPU market selection and pricing. Opaque to the
	// streaming core.
	Planner interface {
		PlanJob(ctx context.Context, prompt string) (*JobSpec, error)
	}

	// JobSpec is the planner's structured output.
	JobSpec struct {
		// Image is the container image to run.
		Image string `json:"image"`
		// Market is the GPU market tier identifier.
		Market string `json:"market"`
		// TimeoutMinutes bounds the job lifetime.
		TimeoutMinutes int `json:"timeout_minutes"`
		// ExposedPort is the service port exposed by the container, if any.
		ExposedPort int `json:"exposed_port,omitempty"`
	}
)

// IsMutating reports whether the action has real-world side effects and thus
// requires human confirmation before execution. All deployment actions do;
// the function exists so the bridge reads as policy rather than assumption.
func IsMutating(Action) bool { return true }
