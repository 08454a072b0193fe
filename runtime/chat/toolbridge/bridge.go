// Package toolbridge gates backend-initiated actions with real-world side
// effects behind an explicit human confirmation step. The model may propose
// creating, stopping or extending a deployment; the bridge guarantees the
// proposal is never silently executed. The generation session suspends at the
// proposal and resumes with a synthetic follow-up turn once the caller
// confirms or cancels.
package toolbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/HoomanBuilds/nosana-chat/features/deploy"
)

// State is the confirmation lifecycle state.
type State string

// Confirmation states. PROPOSED and AWAITING_CONFIRMATION are collapsed into
// StateAwaiting: a proposal is surfaced to the caller in the same step that
// created it.
const (
	StateAwaiting  State = "awaiting_confirmation"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// FollowUpKind classifies the synthetic turn sent back into the conversation
// after a confirmation resolves.
type FollowUpKind string

// Follow-up kinds.
const (
	FollowUpApproved  FollowUpKind = "approved"
	FollowUpFailed    FollowUpKind = "failed"
	FollowUpCancelled FollowUpKind = "cancelled"
)

// ErrSuperseded is returned when resolving a confirmation that a newer
// proposal has replaced. The executor is never invoked for superseded
// confirmations.
var ErrSuperseded = errors.New("toolbridge: confirmation superseded by a newer proposal")

// ErrResolved is returned when a confirmation is resolved twice.
var ErrResolved = errors.New("toolbridge: confirmation already resolved")

type (
	// Bridge owns the pending-confirmation slot for one session. At most one
	// confirmation is outstanding at a time; a new proposal implicitly
	// supersedes an unresolved prior one (last-proposal-wins).
	Bridge struct {
		executor  deploy.Executor
		validator *deploy.Validator

		mu      sync.Mutex
		pending *Confirmation
	}

	// Confirmation represents one proposed tool call awaiting a decision.
	// Confirm and Cancel are the two continuations handed to the caller;
	// exactly one of them fires, at most once.
	Confirmation struct {
		// ToolName identifies the proposed action.
		ToolName string
		// Args carries the validated structured arguments.
		Args json.RawMessage
		// Summary is the human-readable confirmation prompt.
		Summary string

		bridge *Bridge
		state  State
	}

	// FollowUp is the synthetic conversation turn produced by resolving a
	// confirmation. The session feeds Message back into the model so it can
	// explain the outcome in natural language.
	FollowUp struct {
		// Kind is the resolution category.
		Kind FollowUpKind
		// Message is the synthetic turn content.
		Message string
	}
)

// New builds a Bridge for one session.
func New(executor deploy.Executor, validator *deploy.Validator) *Bridge {
	return &Bridge{executor: executor, validator: validator}
}

// Propose validates a model-initiated tool call and installs it as the
// session's pending confirmation, superseding any unresolved prior one.
// Invalid arguments fail before anything is surfaced to the user.
func (b *Bridge) Propose(toolName string, args json.RawMessage) (*Confirmation, error) {
	action := deploy.Action(toolName)
	if b.validator != nil {
		if err := b.validator.Validate(action, args); err != nil {
			return nil, err
		}
	}
	c := &Confirmation{
		ToolName: toolName,
		Args:     args,
		Summary:  deploy.Summarize(action, args),
		state:    StateAwaiting,
	}
	b.mu.Lock()
	if prev := b.pending; prev != nil && prev.state == StateAwaiting {
		prev.state = StateCancelled
	}
	b.pending = c
	c.bridge = b
	b.mu.Unlock()
	return c, nil
}

// Pending returns the unresolved confirmation, if any.
func (b *Bridge) Pending() *Confirmation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil && b.pending.state == StateAwaiting {
		return b.pending
	}
	return nil
}

// State returns the confirmation's current lifecycle state.
func (c *Confirmation) State() State {
	c.bridge.mu.Lock()
	defer c.bridge.mu.Unlock()
	return c.state
}

// Confirm executes the proposed action. Regardless of outcome a follow-up
// turn is returned so the conversation can resume: approved plus the result
// summary on success, failed plus the error detail otherwise.
func (c *Confirmation) Confirm(ctx context.Context) (FollowUp, error) {
	if err := c.begin(StateExecuting); err != nil {
		return FollowUp{}, err
	}
	outcome, err := c.bridge.executor.Execute(ctx, deploy.Action(c.ToolName), c.Args)
	if err != nil {
		c.finish(StateFailed)
		return FollowUp{
			Kind:    FollowUpFailed,
			Message: fmt.Sprintf("The %s action was approved but failed: %v. Explain this to the user.", c.ToolName, err),
		}, nil
	}
	c.finish(StateSucceeded)
	return FollowUp{
		Kind:    FollowUpApproved,
		Message: fmt.Sprintf("The %s action was approved and executed. Result: %s. Summarize this for the user.", c.ToolName, outcome.Summary),
	}, nil
}

// Cancel resolves the confirmation without ever invoking the executor.
func (c *Confirmation) Cancel(context.Context) (FollowUp, error) {
	if err := c.begin(StateCancelled); err != nil {
		return FollowUp{}, err
	}
	return FollowUp{
		Kind:    FollowUpCancelled,
		Message: fmt.Sprintf("The user declined the %s action. Acknowledge and ask how else you can help.", c.ToolName),
	}, nil
}

// begin transitions out of the awaiting state, guarding against double
// resolution and superseded confirmations.
func (c *Confirmation) begin(next State) error {
	b := c.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != c {
		if c.state == StateCancelled {
			return ErrSuperseded
		}
		return ErrResolved
	}
	if c.state != StateAwaiting {
		return ErrResolved
	}
	c.state = next
	if next == StateCancelled {
		b.pending = nil
	}
	return nil
}

func (c *Confirmation) finish(final State) {
	b := c.bridge
	b.mu.Lock()
	c.state = final
	if b.pending == c {
		b.pending = nil
	}
	b.mu.Unlock()
}
