package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

type stubMessages struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
	stream     *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessages) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	if s.stream == nil {
		s.stream = ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{}, nil)
	}
	return s.stream
}

// testDecoder feeds a fixed event sequence to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil || d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func userRequest(text string) model.Request {
	return model.Request{
		Model:    "claude-3-5-sonnet",
		Messages: []model.Message{{Role: model.RoleUser, Content: text}},
	}
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
		Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	cl, err := New(stub, Options{})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	require.Equal(t, "world", resp.Text)
	require.Empty(t, resp.Reasoning)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteSeparatesThinking(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "thinking", Thinking: "considering the question"},
			{Type: "text", Text: "the answer"},
		},
	}}
	cl, err := New(stub, Options{})
	require.NoError(t, err)

	req := userRequest("hard question")
	req.Thinking = true
	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "the answer", resp.Text)
	require.Equal(t, "considering the question", resp.Reasoning)

	require.Equal(t, "enabled", string(stub.lastParams.Thinking.OfEnabled.Type))
	require.Equal(t, int64(defaultThinkingBudget), stub.lastParams.Thinking.OfEnabled.BudgetTokens)
}

func TestPrepareRoutesSystemMessages(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{}}
	cl, err := New(stub, Options{MaxTokens: 256})
	require.NoError(t, err)

	req := model.Request{
		Model: "claude-3-5-haiku",
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "be terse"},
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
			{Role: model.RoleUser, Content: "bye"},
		},
		Temperature: 0.3,
	}
	_, err = cl.Complete(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, stub.lastParams.System, 1)
	require.Equal(t, "be terse", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 3)
	require.Equal(t, int64(256), stub.lastParams.MaxTokens)
	require.InDelta(t, 0.3, stub.lastParams.Temperature.Value, 1e-9)
}

func TestCompleteRequiresMessages(t *testing.T) {
	cl, err := New(&stubMessages{}, Options{})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), model.Request{Model: "claude-3-5-sonnet"})
	require.Error(t, err)
}

func TestStreamYieldsTextAndThinkingChunks(t *testing.T) {
	events := []ssestream.Event{
		rawEvent(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"mull"}}`),
		rawEvent(t, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"answer"}}`),
		rawEvent(t, "message_stop", `{"type":"message_stop"}`),
	}
	stub := &stubMessages{stream: ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)}
	cl, err := New(stub, Options{})
	require.NoError(t, err)

	st, err := cl.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	defer st.Close()

	chunk, err := st.Recv()
	require.NoError(t, err)
	require.Equal(t, model.ChunkTypeReasoning, chunk.Type)
	require.Equal(t, "mull", chunk.Reasoning)

	chunk, err = st.Recv()
	require.NoError(t, err)
	require.Equal(t, model.ChunkTypeText, chunk.Type)
	require.Equal(t, "answer", chunk.Text)

	_, err = st.Recv()
	require.ErrorIs(t, err, io.EOF)
	_, err = st.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestClassifyMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   model.ProviderErrorKind
	}{
		{401, model.KindAuth},
		{403, model.KindAuth},
		{400, model.KindInvalidRequest},
		{429, model.KindRateLimited},
		{408, model.KindTimeout},
		{500, model.KindUnknown},
	}
	for _, tc := range cases {
		err := classify(&sdk.Error{StatusCode: tc.status})
		perr, ok := model.AsProviderError(err)
		require.True(t, ok, "status %d", tc.status)
		require.Equal(t, tc.want, perr.Kind(), "status %d", tc.status)
		require.False(t, perr.Retryable())
	}
}

func TestClassifyPreservesContextErrors(t *testing.T) {
	require.ErrorIs(t, classify(context.Canceled), context.Canceled)
	_, ok := model.AsProviderError(classify(errors.New("conn reset")))
	require.True(t, ok)
}

func rawEvent(t *testing.T, typ, data string) ssestream.Event {
	t.Helper()
	require.True(t, json.Valid([]byte(data)))
	return ssestream.Event{Type: typ, Data: []byte(data)}
}
