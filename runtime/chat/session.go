package chat

import (
	"context"
	"errors"
	"io"
	"time"

	"goa.design/clue/log"

	"github.com/HoomanBuilds/nosana-chat/features/deploy"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/emitter"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/history"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/parser"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/retry"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/search"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/toolbridge"
)

// TerminalState classifies how a session run ended. Aborted (client
// cancellation) is deliberately distinct from Errored: partial text already
// streamed stays valid and no error frame is sent.
type TerminalState string

// Terminal states.
const (
	StateCompleted TerminalState = "completed"
	StateAborted   TerminalState = "aborted"
	StateErrored   TerminalState = "errored"
	// StateAwaiting means the run suspended on a tool proposal; the session
	// stays alive until the caller resolves the confirmation and calls
	// Resume.
	StateAwaiting TerminalState = "awaiting_confirmation"
)

type (
	// Strategy pairs a model client with its retry behavior. Self-hosted and
	// deployer strategies retry cold starts; hosted streaming does not (a
	// broken stream after first byte is terminal for that attempt).
	Strategy struct {
		Client model.Client
		// Retry runs the initial upstream call under the retry policy.
		Retry bool
	}

	// Strategies is the set of constructed backends the dispatcher can
	// select from.
	Strategies struct {
		// Hosted maps provider family ("gemini", "anthropic") to its client.
		Hosted map[string]Strategy
		// SelfHosted serves the self-hosted OpenAI-compatible endpoint.
		SelfHosted Strategy
		// Agentic serves deployer mode with tool calling enabled.
		Agentic Strategy
	}

	// ThreadStore persists conversation turns keyed by thread ID. Optional;
	// failures are logged and never fatal to generation.
	ThreadStore interface {
		Load(ctx context.Context, threadID string) ([]model.Message, error)
		Append(ctx context.Context, threadID string, msgs ...model.Message) error
	}

	// CreditService meters usage. Consume atomically takes one credit and
	// reports false when the balance is exhausted.
	CreditService interface {
		Consume(ctx context.Context, key string) (bool, error)
	}

	// Deps carries every collaborator a session needs. External services are
	// injected so tests can substitute doubles; only Sink, Strategies and
	// Caps are required.
	Deps struct {
		Sink       stream.Sink
		Strategies Strategies
		Caps       Capabilities

		Trimmer   history.Trimmer
		Budget    history.Budget
		Search    search.Provider
		Threads   ThreadStore
		Credits   CreditService
		CreditKey string
		Executor  deploy.Executor
		Validator *deploy.Validator

		Throttle    emitter.Config
		EmitterOpts emitter.Options
		Retry       retry.Config
		Metrics     *Metrics
	}

	// Session orchestrates one ask request end to end. A session is owned by
	// exactly one request handler, never shared across requests, and is
	// discarded when the response stream closes.
	Session struct {
		ID   string
		req  Request
		deps Deps

		par    *parser.Parser
		emit   *emitter.Emitter
		bridge *toolbridge.Bridge

		started      time.Time
		decision     Decision
		lastProposed string
		answer       []byte
		emitted      int // answer + reasoning bytes delivered
		toolsUsed    []string
		finalized    bool
	}

	// Result reports how a Run or Resume invocation ended.
	Result struct {
		State TerminalState
		// Answer is the answer text parsed so far (across Run and any Resume
		// calls). On abort it may exceed what reached the sink.
		Answer string
		// Pending is set when State is StateAwaiting.
		Pending *toolbridge.Confirmation
		// Err is set when State is StateErrored.
		Err error
	}
)

// NewSession builds a session for one request. The parser, emitter and tool
// bridge are created fresh here and never shared across sessions.
func NewSession(id string, req Request, deps Deps) *Session {
	if deps.Trimmer == nil {
		deps.Trimmer = history.Window{}
	}
	if deps.Budget == (history.Budget{}) {
		deps.Budget = history.DefaultBudget()
	}
	return &Session{
		ID:     id,
		req:    req,
		deps:   deps,
		par:    parser.New(parser.Config{}),
		emit:   emitter.New(id, deps.Sink, deps.Throttle, deps.EmitterOpts),
		bridge: toolbridge.New(deps.Executor, deps.Validator),
	}
}

// Run drives the request to a terminal state or a tool-proposal suspension.
// Finalization (parser flush, terminal frame, Duration metric, stream close
// marker) is guaranteed on every terminal path, including cancellation.
func (s *Session) Run(ctx context.Context) (res Result) {
	s.started = time.Now()
	defer func() { s.finalize(ctx, &res) }()

	// Unkeyed requests (no user header, no thread) are not metered.
	if key := s.creditKey(); s.deps.Credits != nil && key != "" {
		ok, err := s.deps.Credits.Consume(ctx, key)
		if err != nil {
			log.Errorf(ctx, err, "credit check failed")
		} else if !ok {
			return s.fail(model.NewProviderError("gateway", 0, model.KindQuota, "no credits remaining", nil))
		}
	}

	dec, err := Dispatch(s.req, s.deps.Caps)
	if err != nil {
		return s.fail(err)
	}
	s.decision = dec

	if dec.Kind == KindCanned {
		if err := s.deliver(ctx, dec.CannedText); err != nil {
			return s.failOrAbort(err)
		}
		return Result{State: StateCompleted, Answer: string(s.answer)}
	}

	messages := s.buildContext(ctx)
	return s.generate(ctx, dec, messages)
}

// Resume continues an agentic session after a tool confirmation resolved.
// The follow-up turn re-enters the conversation so the model can explain the
// outcome.
func (s *Session) Resume(ctx context.Context, fu toolbridge.FollowUp) (res Result) {
	defer func() { s.finalize(ctx, &res) }()

	// The executor ran on both outcomes; record the tool either way.
	if fu.Kind == toolbridge.FollowUpApproved || fu.Kind == toolbridge.FollowUpFailed {
		s.toolsUsed = append(s.toolsUsed, s.lastTool())
	}
	messages := s.buildContext(ctx)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: fu.Message})
	return s.generate(ctx, s.decision, messages)
}

// generate invokes the decided strategy, pumping its stream through the
// parser and emitter.
func (s *Session) generate(ctx context.Context, dec Decision, messages []model.Message) Result {
	strat, ok := s.strategy(dec)
	if !ok {
		return s.fail(ErrInvalidModel)
	}
	mreq := s.req.ModelRequest(dec.ModelName, messages, dec.Thinking)

	// Hosted reasoning models answer through a single non-streaming call that
	// returns the reasoning separately; everything else streams.
	if dec.Kind == KindHosted && dec.Thinking {
		return s.generateThinking(ctx, strat, mreq)
	}

	if err := s.emit.Send(ctx, stream.NewStatus(s.ID, "streaming")); err != nil {
		return s.failOrAbort(err)
	}

	st, err := s.openStream(ctx, strat, mreq)
	if err != nil {
		if errors.Is(err, model.ErrStreamingUnsupported) {
			return s.completeFallback(ctx, strat, mreq)
		}
		return s.failOrAbort(err)
	}

	pending, err := s.pump(ctx, st)
	if err != nil {
		return s.failOrAbort(err)
	}
	if pending != nil {
		return Result{State: StateAwaiting, Answer: string(s.answer), Pending: pending}
	}

	// A stream can complete "successfully" with zero content when a gateway
	// swallows the generation. One non-streaming fallback, then give up.
	if s.emitted == 0 {
		s.deps.Metrics.IncFallback(ctx, dec.Provider)
		return s.completeFallback(ctx, strat, mreq)
	}
	return Result{State: StateCompleted, Answer: string(s.answer)}
}

func (s *Session) generateThinking(ctx context.Context, strat Strategy, mreq model.Request) Result {
	if err := s.emit.Send(ctx, stream.NewStatus(s.ID, "thinking")); err != nil {
		return s.failOrAbort(err)
	}
	resp, err := s.call(ctx, strat, mreq)
	if err != nil {
		return s.failOrAbort(err)
	}
	if resp.Reasoning != "" {
		if err := s.emitSegment(ctx, parser.Segment{Channel: parser.ChannelReasoning, Text: resp.Reasoning}); err != nil {
			return s.failOrAbort(err)
		}
	}
	if err := s.deliver(ctx, resp.Text); err != nil {
		return s.failOrAbort(err)
	}
	return Result{State: StateCompleted, Answer: string(s.answer)}
}

// openStream starts the upstream stream, under the retry policy when the
// strategy supports it.
func (s *Session) openStream(ctx context.Context, strat Strategy, mreq model.Request) (model.Streamer, error) {
	if !strat.Retry {
		return strat.Client.Stream(ctx, mreq)
	}
	cfg := s.retryConfig(ctx)
	return retry.Do(ctx, cfg, func(ctx context.Context) (model.Streamer, error) {
		return strat.Client.Stream(ctx, mreq)
	})
}

func (s *Session) call(ctx context.Context, strat Strategy, mreq model.Request) (model.Response, error) {
	if !strat.Retry {
		return strat.Client.Complete(ctx, mreq)
	}
	cfg := s.retryConfig(ctx)
	return retry.Do(ctx, cfg, func(ctx context.Context) (model.Response, error) {
		return strat.Client.Complete(ctx, mreq)
	})
}

func (s *Session) retryConfig(ctx context.Context) retry.Config {
	cfg := s.deps.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
		cfg.Sleep = s.deps.Retry.Sleep
	}
	prev := cfg.Notify
	cfg.Notify = func(ctx context.Context, msg string) {
		s.deps.Metrics.IncRetry(ctx, s.decision.Provider)
		if err := s.emit.Send(ctx, stream.NewStatus(s.ID, msg)); err != nil {
			log.Errorf(ctx, err, "retry notification dropped")
		}
		if prev != nil {
			prev(ctx, msg)
		}
	}
	return cfg
}

// completeFallback performs the single non-streaming call used both when a
// backend does not stream and when a stream ended silently.
func (s *Session) completeFallback(ctx context.Context, strat Strategy, mreq model.Request) Result {
	resp, err := s.call(ctx, strat, mreq)
	if err != nil {
		return s.failOrAbort(err)
	}
	if resp.Reasoning != "" {
		if err := s.emitSegment(ctx, parser.Segment{Channel: parser.ChannelReasoning, Text: resp.Reasoning}); err != nil {
			return s.failOrAbort(err)
		}
	}
	if err := s.deliver(ctx, resp.Text); err != nil {
		return s.failOrAbort(err)
	}
	return Result{State: StateCompleted, Answer: string(s.answer)}
}

// pump drains the streamer through the parser, returning a pending
// confirmation when the model proposed a tool call.
func (s *Session) pump(ctx context.Context, st model.Streamer) (*toolbridge.Confirmation, error) {
	defer func() {
		if err := st.Close(); err != nil {
			log.Debugf(ctx, "close stream: %v", err)
		}
	}()
	for {
		chunk, err := st.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			for _, seg := range s.par.Feed(chunk.Text) {
				if err := s.emitSegment(ctx, seg); err != nil {
					return nil, err
				}
			}
		case model.ChunkTypeReasoning:
			if err := s.emitSegment(ctx, parser.Segment{Channel: parser.ChannelReasoning, Text: chunk.Reasoning}); err != nil {
				return nil, err
			}
		case model.ChunkTypeToolCall:
			pending, err := s.propose(ctx, chunk.ToolCall)
			if err != nil {
				// Invalid proposals degrade to a visible warning; generation
				// continues so the model's text still reaches the user.
				log.Errorf(ctx, err, "tool proposal rejected")
				if werr := s.emit.Send(ctx, stream.NewWarning(s.ID, "The model proposed an invalid action; it was ignored.")); werr != nil {
					return nil, werr
				}
				continue
			}
			return pending, nil
		case model.ChunkTypeStop:
			// StopReason is informational here; EOF ends the loop.
		}
	}
}

func (s *Session) propose(ctx context.Context, call *model.ToolCall) (*toolbridge.Confirmation, error) {
	if call == nil {
		return nil, errors.New("chat: tool call chunk without payload")
	}
	c, err := s.bridge.Propose(call.Name, call.Arguments)
	if err != nil {
		return nil, err
	}
	s.lastProposed = c.ToolName
	evt := stream.NewToolProposal(s.ID, c.ToolName, c.Args, c.Summary)
	if err := s.emit.Send(ctx, evt); err != nil {
		return nil, err
	}
	return c, nil
}

// deliver runs text through the parser and throttled emitter.
func (s *Session) deliver(ctx context.Context, text string) error {
	for _, seg := range s.par.Feed(text) {
		if err := s.emitSegment(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) emitSegment(ctx context.Context, seg parser.Segment) error {
	if seg.Text == "" {
		return nil
	}
	if seg.Channel == parser.ChannelAnswer {
		s.answer = append(s.answer, seg.Text...)
	}
	if seg.Channel != parser.ChannelTool {
		s.emitted += len(seg.Text)
	}
	return s.emit.Emit(ctx, seg.Channel, seg.Text)
}

// buildContext assembles the model conversation: trimmed history, optional
// search grounding, then the current query.
func (s *Session) buildContext(ctx context.Context) []model.Message {
	prior := s.req.Chats
	if len(prior) == 0 && s.req.ThreadID != "" && s.deps.Threads != nil {
		loaded, err := s.deps.Threads.Load(ctx, s.req.ThreadID)
		if err != nil {
			log.Errorf(ctx, err, "load thread %s", s.req.ThreadID)
		} else {
			prior = loaded
		}
	}
	messages := s.deps.Trimmer.Trim(prior, s.deps.Budget)

	if s.req.WebSearch && s.deps.Search != nil {
		if block := s.webSearch(ctx); block != "" {
			messages = append(messages, model.Message{Role: model.RoleSystem, Content: block})
		}
	}
	return append(messages, model.Message{Role: model.RoleUser, Content: s.req.Query})
}

// webSearch performs the optional grounding search. Failures are swallowed:
// generation proceeds without search context.
func (s *Session) webSearch(ctx context.Context) string {
	if err := s.emit.Send(ctx, stream.NewStatus(s.ID, "Searching the web...")); err != nil {
		return ""
	}
	res, err := s.deps.Search.Search(ctx, s.req.Query, search.Options{MaxResults: 5})
	if err != nil {
		log.Errorf(ctx, err, "web search failed, continuing without context")
		return ""
	}
	if len(res.Results) > 0 {
		if err := s.emit.Send(ctx, stream.NewSearchResults(s.ID, res.Results)); err != nil {
			return ""
		}
	}
	return search.ContextBlock(res)
}

func (s *Session) strategy(dec Decision) (Strategy, bool) {
	switch dec.Kind {
	case KindAgentic:
		return s.deps.Strategies.Agentic, s.deps.Strategies.Agentic.Client != nil
	case KindSelfHosted:
		return s.deps.Strategies.SelfHosted, s.deps.Strategies.SelfHosted.Client != nil
	case KindHosted:
		strat, ok := s.deps.Strategies.Hosted[dec.Provider]
		return strat, ok && strat.Client != nil
	}
	return Strategy{}, false
}

func (s *Session) fail(err error) Result {
	return Result{State: StateErrored, Answer: string(s.answer), Err: err}
}

// failOrAbort distinguishes client cancellation from real failures.
func (s *Session) failOrAbort(err error) Result {
	if errors.Is(err, context.Canceled) {
		return Result{State: StateAborted, Answer: string(s.answer)}
	}
	return s.fail(err)
}

// finalize is the guaranteed last step of Run and Resume. It flushes the
// parser, emits exactly one explanatory terminal frame, the Duration frame
// and the stream close marker, and persists the thread. It uses a detached
// context so cancellation cannot skip it.
func (s *Session) finalize(ctx context.Context, res *Result) {
	if res.State == StateAwaiting {
		// The session stays alive for Resume; nothing terminal yet.
		return
	}
	if s.finalized {
		return
	}
	s.finalized = true

	fctx := context.WithoutCancel(ctx)

	segs, err := s.par.Flush()
	for _, seg := range segs {
		if seg.Channel == parser.ChannelAnswer {
			s.answer = append(s.answer, seg.Text...)
		}
		if serr := s.emit.Emit(fctx, seg.Channel, seg.Text); serr != nil {
			log.Errorf(fctx, serr, "flush emission dropped")
		}
	}
	if errors.Is(err, parser.ErrUnterminated) {
		s.send(fctx, stream.NewWarning(s.ID, "Unclosed tag at stream end, content may be incomplete"))
	}
	res.Answer = string(s.answer)

	switch res.State {
	case StateErrored:
		s.send(fctx, stream.NewError(s.ID, model.UserMessage(res.Err)))
	case StateAborted:
		s.send(fctx, stream.NewStatus(s.ID, "aborted"))
	}
	if len(s.toolsUsed) > 0 {
		s.send(fctx, stream.NewToolsUsed(s.ID, s.toolsUsed))
	}

	elapsed := time.Since(s.started)
	s.send(fctx, stream.NewDuration(s.ID, elapsed.Milliseconds()))
	s.deps.Metrics.RecordDuration(fctx, s.decision.Kind, res.State, elapsed)

	// Clean stream closure marker, always the last frame.
	s.send(fctx, stream.NewStatus(s.ID, ""))

	if res.State == StateCompleted {
		s.persist(fctx)
	}
	log.Info(fctx, log.KV{K: "msg", V: "session finished"},
		log.KV{K: "session_id", V: s.ID},
		log.KV{K: "state", V: string(res.State)},
		log.KV{K: "duration_ms", V: elapsed.Milliseconds()})
}

func (s *Session) send(ctx context.Context, evt stream.Event) {
	if err := s.emit.Send(ctx, evt); err != nil {
		log.Errorf(ctx, err, "terminal frame %s dropped", string(evt.Type()))
	}
}

func (s *Session) persist(ctx context.Context) {
	if s.deps.Threads == nil || s.req.ThreadID == "" {
		return
	}
	err := s.deps.Threads.Append(ctx, s.req.ThreadID,
		model.Message{Role: model.RoleUser, Content: s.req.Query},
		model.Message{Role: model.RoleAssistant, Content: string(s.answer)},
	)
	if err != nil {
		log.Errorf(ctx, err, "persist thread %s", s.req.ThreadID)
	}
}

func (s *Session) creditKey() string {
	if s.deps.CreditKey != "" {
		return s.deps.CreditKey
	}
	return s.req.ThreadID
}

func (s *Session) lastTool() string {
	if c := s.bridge.Pending(); c != nil {
		return c.ToolName
	}
	// The confirmation already resolved; the bridge no longer tracks it, so
	// remember the name from the proposal event instead.
	return s.lastProposed
}
