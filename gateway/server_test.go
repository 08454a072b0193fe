package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HoomanBuilds/nosana-chat/features/deploy"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/emitter"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/retry"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

// scriptedStreamer replays a fixed chunk sequence, then io.EOF.
type scriptedStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *scriptedStreamer) Close() error { return nil }

// scriptedClient serves one chunk script per Stream call, repeating the last
// script once the list is exhausted.
type scriptedClient struct {
	mu      sync.Mutex
	scripts [][]model.Chunk
	calls   int
}

func (c *scriptedClient) Stream(context.Context, model.Request) (model.Streamer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.scripts) {
		i = len(c.scripts) - 1
	}
	c.calls++
	return &scriptedStreamer{chunks: c.scripts[i]}, nil
}

func (c *scriptedClient) Complete(context.Context, model.Request) (model.Response, error) {
	return model.Response{}, nil
}

type countingExecutor struct {
	mu    sync.Mutex
	calls int
}

func (e *countingExecutor) Execute(context.Context, deploy.Action, json.RawMessage) (*deploy.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return &deploy.Outcome{Success: true, Summary: "job stopped"}, nil
}

func (e *countingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func textChunks(parts ...string) []model.Chunk {
	chunks := make([]model.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = model.Chunk{Type: model.ChunkTypeText, Text: p}
	}
	return chunks
}

func instantSleep(context.Context, time.Duration) error { return nil }

func testServer(t *testing.T, client model.Client, exec deploy.Executor) (*Server, *httptest.Server) {
	t.Helper()
	strat := chat.Strategy{Client: client, Retry: true}
	srv := NewServer(Options{
		Deps: chat.Deps{
			Strategies: chat.Strategies{
				Hosted:     map[string]chat.Strategy{"gemini": {Client: client}},
				SelfHosted: strat,
				Agentic:    strat,
			},
			Caps:        chat.DefaultCapabilities(),
			Executor:    exec,
			Throttle:    emitter.Config{ChunkSize: 64},
			EmitterOpts: emitter.Options{Sleep: instantSleep},
			Retry:       retry.Config{Sleep: instantSleep},
		},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAskStreamsAnswerOverSSE(t *testing.T) {
	client := &scriptedClient{scripts: [][]model.Chunk{textChunks("Hello, world!")}}
	_, ts := testServer(t, client, nil)

	resp := postJSON(t, ts.URL+"/ask", map[string]any{
		"query": "hi",
		"model": "gemini-2.0-flash",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get(SessionHeader))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, "event: llmResult\ndata: \"Hello, world!\"\n\n")
	require.Contains(t, text, "event: Duration\n")
	require.True(t, strings.HasSuffix(text, "event: event\ndata: \n\n"))
}

func TestAskRejectsMissingQuery(t *testing.T) {
	_, ts := testServer(t, &scriptedClient{scripts: [][]model.Chunk{nil}}, nil)

	resp := postJSON(t, ts.URL+"/ask", map[string]any{"model": "gemini-2.0-flash"})

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskRejectsMalformedBody(t *testing.T) {
	_, ts := testServer(t, &scriptedClient{scripts: [][]model.Chunk{nil}}, nil)

	resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func deployerScripts() [][]model.Chunk {
	args := json.RawMessage(`{"jobAddress":"9xQe"}`)
	return [][]model.Chunk{
		{{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{Name: "stopJob", Arguments: args}}},
		textChunks("The job was stopped."),
	}
}

func TestConfirmExecutesAndResumesOnNewStream(t *testing.T) {
	client := &scriptedClient{scripts: deployerScripts()}
	exec := &countingExecutor{}
	srv, ts := testServer(t, client, exec)

	resp := postJSON(t, ts.URL+"/ask", map[string]any{
		"query": "stop my job",
		"model": "mistral-7b",
		"mode":  "deployer",
	})
	id := resp.Header.Get(SessionHeader)
	require.NotEmpty(t, id)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "event: toolExecute\n")
	// Suspended: no terminal frames yet, session parked for the confirmation.
	require.NotContains(t, string(body), "event: Duration\n")
	require.Equal(t, 1, srv.reg.len())
	require.Zero(t, exec.count())

	confirm := postJSON(t, ts.URL+"/confirm", map[string]any{"sessionId": id})
	require.Equal(t, http.StatusOK, confirm.StatusCode)
	require.Equal(t, id, confirm.Header.Get(SessionHeader))

	followUp, err := io.ReadAll(confirm.Body)
	require.NoError(t, err)
	text := string(followUp)
	require.Contains(t, text, "event: llmResult\ndata: \"The job was stopped.\"\n\n")
	require.Contains(t, text, "event: toolsUsed\n")
	require.Contains(t, text, "event: Duration\n")
	require.True(t, strings.HasSuffix(text, "event: event\ndata: \n\n"))

	require.Equal(t, 1, exec.count())
	require.Zero(t, srv.reg.len())
}

func TestCancelNeverExecutes(t *testing.T) {
	client := &scriptedClient{scripts: deployerScripts()}
	exec := &countingExecutor{}
	srv, ts := testServer(t, client, exec)

	resp := postJSON(t, ts.URL+"/ask", map[string]any{
		"query": "stop my job",
		"model": "mistral-7b",
		"mode":  "deployer",
	})
	id := resp.Header.Get(SessionHeader)
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	cancel := postJSON(t, ts.URL+"/cancel", map[string]any{"sessionId": id})
	require.Equal(t, http.StatusOK, cancel.StatusCode)

	followUp, err := io.ReadAll(cancel.Body)
	require.NoError(t, err)
	require.Contains(t, string(followUp), "event: llmResult\n")

	require.Zero(t, exec.count())
	require.Zero(t, srv.reg.len())
}

func TestConfirmUnknownSessionIs404(t *testing.T) {
	_, ts := testServer(t, &scriptedClient{scripts: [][]model.Chunk{nil}}, nil)

	resp := postJSON(t, ts.URL+"/confirm", map[string]any{"sessionId": "nope"})

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfirmIsClaimedOnce(t *testing.T) {
	client := &scriptedClient{scripts: deployerScripts()}
	exec := &countingExecutor{}
	_, ts := testServer(t, client, exec)

	resp := postJSON(t, ts.URL+"/ask", map[string]any{
		"query": "stop my job",
		"model": "mistral-7b",
		"mode":  "deployer",
	})
	id := resp.Header.Get(SessionHeader)
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	first := postJSON(t, ts.URL+"/confirm", map[string]any{"sessionId": id})
	require.Equal(t, http.StatusOK, first.StatusCode)
	_, err = io.ReadAll(first.Body)
	require.NoError(t, err)

	second := postJSON(t, ts.URL+"/confirm", map[string]any{"sessionId": id})
	require.Equal(t, http.StatusNotFound, second.StatusCode)
	require.Equal(t, 1, exec.count())
}

func TestHealthz(t *testing.T) {
	_, ts := testServer(t, &scriptedClient{scripts: [][]model.Chunk{nil}}, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type fakeReplayer struct {
	events []stream.Event
}

func (f *fakeReplayer) Subscribe(context.Context, string) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	events := make(chan stream.Event, len(f.events))
	for _, evt := range f.events {
		events <- evt
	}
	errs := make(chan error)
	return events, errs, func() {}, nil
}

func TestReplayStreamsMirroredEventsUntilClose(t *testing.T) {
	client := &scriptedClient{scripts: [][]model.Chunk{nil}}
	strat := chat.Strategy{Client: client}
	srv := NewServer(Options{
		Deps: chat.Deps{
			Strategies: chat.Strategies{Hosted: map[string]chat.Strategy{"gemini": strat}},
			Caps:       chat.DefaultCapabilities(),
		},
		Replay: &fakeReplayer{events: []stream.Event{
			stream.NewAnswerDelta("s1", "partial"),
			stream.NewStatus("s1", ""),
		}},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/sessions/s1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, "event: llmResult\ndata: \"partial\"\n\n")
	require.True(t, strings.HasSuffix(text, "event: event\ndata: \n\n"))
}

func TestReplayDisabledIs404(t *testing.T) {
	_, ts := testServer(t, &scriptedClient{scripts: [][]model.Chunk{nil}}, nil)

	resp, err := http.Get(ts.URL + "/sessions/s1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// mirrorSink delivery must not depend on the mirror's health.
func TestMirrorFailureDoesNotBreakDelivery(t *testing.T) {
	primary := &recordingSink{}
	s := newMirrorSink(primary, &failingSink{})

	err := s.Send(context.Background(), stream.NewAnswerDelta("s1", "hi"))
	require.NoError(t, err)
	require.Len(t, primary.events, 1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (s *recordingSink) Send(_ context.Context, evt stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

type failingSink struct{}

func (failingSink) Send(context.Context, stream.Event) error {
	return io.ErrClosedPipe
}

func (failingSink) Close(context.Context) error { return nil }
