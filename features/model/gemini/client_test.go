package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New("test-key", Options{BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func simpleRequest() model.Request {
	return model.Request{
		Model:    "gemini-2.0-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}
}

func TestCompleteReturnsTextAndUsage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gemini-2.0-flash", body["model"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "c1", "object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`)
	})

	resp, err := c.Complete(context.Background(), simpleRequest())
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Text)
	require.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestStreamYieldsDeltasAndStop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"hel"}}]}

data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}

data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`)
	})

	st, err := c.Stream(context.Background(), simpleRequest())
	require.NoError(t, err)
	defer st.Close()

	var text string
	var sawStop bool
	for {
		chunk, err := st.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch chunk.Type {
		case model.ChunkTypeText:
			text += chunk.Text
		case model.ChunkTypeStop:
			sawStop = true
			require.Equal(t, "stop", chunk.StopReason)
		}
	}
	require.Equal(t, "hello", text)
	require.True(t, sawStop)
}

func TestCompleteClassifiesAuthFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "invalid api key", "type": "auth"}}`)
	})

	_, err := c.Complete(context.Background(), simpleRequest())
	perr, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.KindAuth, perr.Kind())
	require.Equal(t, http.StatusUnauthorized, perr.HTTPStatus())
	require.False(t, perr.Retryable())
}

func TestCompleteClassifiesRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "slow down", "type": "rate_limit"}}`)
	})

	_, err := c.Complete(context.Background(), simpleRequest())
	perr, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.KindRateLimited, perr.Kind())
}

func TestCompleteRequiresModel(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	_, err := c.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("", Options{})
	require.Error(t, err)
}
