package toolbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HoomanBuilds/nosana-chat/features/deploy"
)

type fakeExecutor struct {
	calls []deploy.Action
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, action deploy.Action, args json.RawMessage) (*deploy.Outcome, error) {
	f.calls = append(f.calls, action)
	if f.err != nil {
		return nil, f.err
	}
	return &deploy.Outcome{Success: true, Summary: "job deployed at nos123"}, nil
}

func newBridge(t *testing.T, exec deploy.Executor) *Bridge {
	t.Helper()
	v, err := deploy.NewValidator()
	require.NoError(t, err)
	return New(exec, v)
}

var createArgs = json.RawMessage(`{"image":"ollama/ollama","market":"nvidia-3090","timeout_minutes":60}`)

func TestConfirmExecutesAndResumes(t *testing.T) {
	exec := &fakeExecutor{}
	b := newBridge(t, exec)

	c, err := b.Propose("createJob", createArgs)
	require.NoError(t, err)
	require.Equal(t, StateAwaiting, c.State())
	require.Contains(t, c.Summary, "ollama/ollama")

	fu, err := c.Confirm(context.Background())
	require.NoError(t, err)
	require.Equal(t, FollowUpApproved, fu.Kind)
	require.Contains(t, fu.Message, "nos123")
	require.Equal(t, []deploy.Action{deploy.ActionCreateJob}, exec.calls)
	require.Equal(t, StateSucceeded, c.State())
	require.Nil(t, b.Pending())
}

func TestCancelNeverInvokesExecutor(t *testing.T) {
	exec := &fakeExecutor{}
	b := newBridge(t, exec)

	c, err := b.Propose("createJob", createArgs)
	require.NoError(t, err)

	fu, err := c.Cancel(context.Background())
	require.NoError(t, err)
	require.Equal(t, FollowUpCancelled, fu.Kind)
	require.Empty(t, exec.calls)
	require.Equal(t, StateCancelled, c.State())
	require.Nil(t, b.Pending())
}

func TestExecutorFailureProducesFailedFollowUp(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("insufficient balance")}
	b := newBridge(t, exec)

	c, err := b.Propose("createJob", createArgs)
	require.NoError(t, err)

	fu, err := c.Confirm(context.Background())
	require.NoError(t, err)
	require.Equal(t, FollowUpFailed, fu.Kind)
	require.Contains(t, fu.Message, "insufficient balance")
	require.Equal(t, StateFailed, c.State())
}

func TestLastProposalWins(t *testing.T) {
	exec := &fakeExecutor{}
	b := newBridge(t, exec)

	first, err := b.Propose("createJob", createArgs)
	require.NoError(t, err)
	second, err := b.Propose("stopJob", json.RawMessage(`{"job_address":"nos123"}`))
	require.NoError(t, err)

	// The superseded confirmation is no longer reachable through the bridge
	// and cannot trigger execution.
	require.Same(t, second, b.Pending())
	require.Equal(t, StateCancelled, first.State())
	_, err = first.Confirm(context.Background())
	require.ErrorIs(t, err, ErrSuperseded)
	require.Empty(t, exec.calls)

	fu, err := second.Confirm(context.Background())
	require.NoError(t, err)
	require.Equal(t, FollowUpApproved, fu.Kind)
	require.Equal(t, []deploy.Action{deploy.ActionStopJob}, exec.calls)
}

func TestDoubleResolution(t *testing.T) {
	b := newBridge(t, &fakeExecutor{})
	c, err := b.Propose("createJob", createArgs)
	require.NoError(t, err)
	_, err = c.Confirm(context.Background())
	require.NoError(t, err)
	_, err = c.Cancel(context.Background())
	require.ErrorIs(t, err, ErrResolved)
}

func TestInvalidArgumentsRejectedBeforeProposal(t *testing.T) {
	b := newBridge(t, &fakeExecutor{})
	_, err := b.Propose("createJob", json.RawMessage(`{"image":""}`))
	require.Error(t, err)
	require.Nil(t, b.Pending())
}

func TestUnknownActionRejected(t *testing.T) {
	b := newBridge(t, &fakeExecutor{})
	_, err := b.Propose("dropDatabase", json.RawMessage(`{}`))
	require.Error(t, err)
}
