// Package gateway is the HTTP transport for the chat service. It exposes the
// ask endpoint that streams a session's events over SSE, plus the
// confirmation endpoints that resume sessions suspended on a proposed
// deployment action. Suspended sessions are parked in an in-process registry
// between requests.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/toolbridge"

	"github.com/HoomanBuilds/nosana-chat/features/stream/sse"
)

// SessionHeader carries the session ID to the client ahead of the event
// stream, so tool confirmations can address the right session.
const SessionHeader = "X-Session-Id"

// userHeader identifies the caller for credit metering. Absent, metering
// falls back to the thread ID.
const userHeader = "X-User-Id"

type (
	// Replayer re-attaches a client to a session's mirrored event stream,
	// letting a replica that does not own the session serve a reconnect.
	Replayer interface {
		Subscribe(ctx context.Context, sessionID string) (<-chan stream.Event, <-chan error, context.CancelFunc, error)
	}

	// Options configures a Server.
	Options struct {
		// Deps is the dependency set shared by every session. Sink is
		// ignored; each request binds its own.
		Deps chat.Deps
		// Mirror, when set, receives a copy of every event (the Pulse
		// session stream).
		Mirror stream.Sink
		// Replay serves reconnects from the mirrored streams. Optional;
		// without it the replay endpoint answers 404.
		Replay Replayer
		// PendingTTL bounds how long a suspended session waits for its
		// confirmation. Zero uses DefaultPendingTTL.
		PendingTTL time.Duration
		// NewID overrides session ID generation, for tests.
		NewID func() string
	}

	// Server handles the gateway's HTTP endpoints.
	Server struct {
		deps   chat.Deps
		mirror stream.Sink
		replay Replayer
		reg    *registry
		newID  func() string
	}

	// askRequest is the JSON body of POST /ask.
	askRequest struct {
		Query     string      `json:"query"`
		Model     string      `json:"model"`
		Chats     []chatTurn  `json:"chats,omitempty"`
		Mode      string      `json:"mode,omitempty"`
		Thinking  bool        `json:"thinking,omitempty"`
		WebSearch bool        `json:"webSearch,omitempty"`
		Params    *paramsBody `json:"customOptions,omitempty"`
		ThreadID  string      `json:"threadId,omitempty"`
	}

	chatTurn struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	paramsBody struct {
		Temperature      float64 `json:"temperature,omitempty"`
		MaxTokens        int     `json:"maxTokens,omitempty"`
		TopP             float64 `json:"topP,omitempty"`
		FrequencyPenalty float64 `json:"frequencyPenalty,omitempty"`
		PresencePenalty  float64 `json:"presencePenalty,omitempty"`
	}

	// resolveRequest is the JSON body of the confirm and cancel endpoints.
	resolveRequest struct {
		SessionID string `json:"sessionId"`
	}
)

// maxBodyBytes bounds request bodies. Conversations are text; anything
// larger is a client bug.
const maxBodyBytes = 1 << 20

// NewServer builds the HTTP server around a shared dependency set.
func NewServer(opts Options) *Server {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Server{
		deps:   opts.Deps,
		mirror: opts.Mirror,
		replay: opts.Replay,
		reg:    newRegistry(opts.PendingTTL),
		newID:  newID,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /confirm", s.resolveHandler(true))
	mux.HandleFunc("POST /cancel", s.resolveHandler(false))
	mux.HandleFunc("GET /sessions/{id}/events", s.handleReplay)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// SweepPending evicts expired suspended sessions until ctx is cancelled.
// Run it in its own goroutine.
func (s *Server) SweepPending(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.reg.sweep()
		}
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if err := decodeJSON(w, r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	id := s.newID()
	w.Header().Set(SessionHeader, id)
	sink, err := sse.New(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sw := newSwitchSink(sink)
	deps := s.deps
	deps.Sink = s.bind(sw)
	if user := r.Header.Get(userHeader); user != "" {
		deps.CreditKey = user
	}

	sess := chat.NewSession(id, body.toRequest(), deps)
	res := sess.Run(r.Context())
	if res.State == chat.StateAwaiting {
		s.reg.park(id, parked{session: sess, pending: res.Pending, sink: sw})
	}
	if err := sink.Close(r.Context()); err != nil {
		log.Errorf(r.Context(), err, "close stream for session %s", id)
	}
}

// resolveHandler resumes a suspended session: confirm executes the proposed
// action first, cancel never does. Either way the follow-up turn streams
// back on this response.
func (s *Server) resolveHandler(confirm bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body resolveRequest
		if err := decodeJSON(w, r, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.SessionID == "" {
			http.Error(w, "sessionId is required", http.StatusBadRequest)
			return
		}
		p, ok := s.reg.take(body.SessionID)
		if !ok {
			http.Error(w, "no pending confirmation for session", http.StatusNotFound)
			return
		}

		fu, err := s.resolve(r.Context(), p, confirm)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.Header().Set(SessionHeader, body.SessionID)
		sink, serr := sse.New(w)
		if serr != nil {
			http.Error(w, serr.Error(), http.StatusInternalServerError)
			return
		}
		p.sink.Rebind(sink)

		res := p.session.Resume(r.Context(), fu)
		if res.State == chat.StateAwaiting {
			s.reg.park(body.SessionID, parked{session: p.session, pending: res.Pending, sink: p.sink})
		}
		if err := sink.Close(r.Context()); err != nil {
			log.Errorf(r.Context(), err, "close stream for session %s", body.SessionID)
		}
	}
}

func (s *Server) resolve(ctx context.Context, p parked, confirm bool) (toolbridge.FollowUp, error) {
	if confirm {
		return p.pending.Confirm(ctx)
	}
	return p.pending.Cancel(ctx)
}

// handleReplay streams a session's mirrored events from Pulse. It serves
// reconnects for sessions owned by another replica and stops at the terminal
// empty status frame.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if s.replay == nil {
		http.Error(w, "event replay is not enabled", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	events, errs, stop, err := s.replay.Subscribe(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer stop()

	w.Header().Set(SessionHeader, id)
	sink, err := sse.New(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sink.Close(r.Context())

	for {
		select {
		case <-r.Context().Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				log.Errorf(r.Context(), err, "replay session %s", id)
			}
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := sink.Send(r.Context(), evt); err != nil {
				log.Errorf(r.Context(), err, "replay send for session %s", id)
				return
			}
			if isTerminal(evt) {
				return
			}
		}
	}
}

// isTerminal recognizes the closing empty status frame in both its native
// and replayed (raw JSON) forms.
func isTerminal(evt stream.Event) bool {
	if evt.Type() != stream.EventStatus {
		return false
	}
	switch p := evt.Payload().(type) {
	case string:
		return p == ""
	case json.RawMessage:
		return len(p) == 0 || string(p) == `""` || string(p) == "null"
	default:
		return false
	}
}

func (s *Server) bind(dst stream.Sink) stream.Sink {
	if s.mirror == nil {
		return dst
	}
	return newMirrorSink(dst, s.mirror)
}

func (a askRequest) toRequest() chat.Request {
	req := chat.Request{
		Query:     a.Query,
		Model:     a.Model,
		Mode:      a.Mode,
		Thinking:  a.Thinking,
		WebSearch: a.WebSearch,
		ThreadID:  a.ThreadID,
	}
	for _, t := range a.Chats {
		req.Chats = append(req.Chats, model.Message{Role: t.Role, Content: t.Content})
	}
	if a.Params != nil {
		req.Params = chat.GenParams{
			Temperature:      a.Params.Temperature,
			MaxTokens:        a.Params.MaxTokens,
			TopP:             a.Params.TopP,
			FrequencyPenalty: a.Params.FrequencyPenalty,
			PresencePenalty:  a.Params.PresencePenalty,
		}
	}
	return req
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}
