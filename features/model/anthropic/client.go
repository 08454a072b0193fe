// Package anthropic provides a model.Client backed by the Anthropic Messages
// API. It is the hosted strategy for Claude models, including extended
// thinking where the capability table declares reasoning support.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

const (
	defaultMaxTokens      = 4096
	defaultThinkingBudget = 2048
)

type (
	// Messages captures the subset of the SDK messages service used by the
	// adapter, so tests can substitute a double.
	Messages interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the adapter.
	Options struct {
		// MaxTokens caps completion tokens when the request does not set one.
		MaxTokens int
		// ThinkingBudget is the token budget for extended thinking. Zero uses
		// a conservative default.
		ThinkingBudget int
	}

	// Client implements model.Client via the Anthropic Messages API.
	Client struct {
		messages  Messages
		maxTokens int
		think     int
	}
)

// New builds the adapter around an SDK messages service.
func New(messages Messages, opts Options) (*Client, error) {
	if messages == nil {
		return nil, errors.New("anthropic: messages service is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	think := opts.ThinkingBudget
	if think <= 0 {
		think = defaultThinkingBudget
	}
	return &Client{messages: messages, maxTokens: maxTokens, think: think}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete issues a non-streaming Messages.New request. Thinking output comes
// back as a separate Reasoning field so the caller can route it to the
// thinking channel.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepare(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return model.Response{}, classify(err)
	}
	var resp model.Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "thinking":
			resp.Reasoning += block.Thinking
		}
	}
	resp.Usage = model.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return resp, nil
}

// Stream issues a streaming Messages request and adapts the SDK event stream
// to model.Streamer.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	stream := c.messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, classify(err)
	}
	return &streamer{stream: stream}, nil
}

func (c *Client) prepare(req model.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	if req.Model == "" {
		return sdk.MessageNewParams{}, errors.New("anthropic: model identifier is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var (
		conversation []sdk.MessageParam
		system       []sdk.TextBlockParam
	)
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = sdk.Float(req.TopP)
	}
	if req.Thinking {
		budget := c.think
		if budget >= maxTokens {
			return sdk.MessageNewParams{}, fmt.Errorf(
				"anthropic: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return params, nil
}

// classify maps SDK failures onto the provider error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		kind := model.KindUnknown
		switch apierr.StatusCode {
		case 401, 403:
			kind = model.KindAuth
		case 400, 404, 413, 422:
			kind = model.KindInvalidRequest
		case 429:
			kind = model.KindRateLimited
		case 408, 504:
			kind = model.KindTimeout
		}
		return model.NewProviderError("anthropic", apierr.StatusCode, kind, http.StatusText(apierr.StatusCode), err)
	}
	kind := model.KindNetwork
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		kind = model.KindTimeout
	}
	return model.NewProviderError("anthropic", 0, kind, err.Error(), err)
}
