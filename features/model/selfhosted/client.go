// Package selfhosted provides a model.Client for OpenAI-compatible inference
// endpoints running on rented GPU compute. These backends scale to zero, so
// the first request after idle routinely hits a cold start; the client
// surfaces that as a retryable provider error. It also advertises the
// deployment tool set, making it the backend for the agentic strategy.
package selfhosted

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/HoomanBuilds/nosana-chat/features/deploy"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

type (
	// Options configures the adapter.
	Options struct {
		// BaseURL locates the inference endpoint. Required.
		BaseURL string
		// APIKey authenticates when the endpoint requires it.
		APIKey string
		// Tools, when set, is advertised on every request so the model can
		// propose deployment actions.
		Tools []deploy.ToolSpec
		// DisableStreaming forces the non-streaming path for endpoints whose
		// streaming implementation is broken or absent.
		DisableStreaming bool
		// HTTPClient overrides the transport, mainly for tests.
		HTTPClient *http.Client
	}

	// Client implements model.Client against a self-hosted endpoint.
	Client struct {
		chat     openai.Client
		tools    []openai.ChatCompletionToolParam
		noStream bool
	}
)

// New builds the client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("selfhosted: base url is required")
	}
	// Cold start retries are the session retry policy's job; SDK-internal
	// retries would hide them from the user-facing progress events.
	ropts := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		ropts = append(ropts, option.WithAPIKey(opts.APIKey))
	}
	if opts.HTTPClient != nil {
		ropts = append(ropts, option.WithHTTPClient(opts.HTTPClient))
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(opts.Tools))
	for _, spec := range opts.Tools {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.Parameters),
			},
		})
	}
	return &Client{chat: openai.NewClient(ropts...), tools: tools, noStream: opts.DisableStreaming}, nil
}

// Complete performs a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.translate(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, model.NewProviderError("selfhosted", 0, model.KindUnknown,
			"response contained no choices", nil)
	}
	return model.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream performs a streaming chat completion. Tool call deltas are
// accumulated and surfaced as a single tool call chunk once complete.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	if c.noStream {
		return nil, model.ErrStreamingUnsupported
	}
	params, err := c.translate(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, Classify(err)
	}
	return &streamer{stream: stream}, nil
}

func (c *Client) translate(req model.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("selfhosted: messages are required")
	}
	if req.Model == "" {
		return openai.ChatCompletionNewParams{}, errors.New("selfhosted: model identifier is required")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if len(c.tools) > 0 {
		params.Tools = c.tools
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(req.FrequencyPenalty)
	}
	if req.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(req.PresencePenalty)
	}
	return params, nil
}

// Classify maps endpoint failures onto the provider error taxonomy. An HTTP
// 503, or any error mentioning model loading, means the backend is cold
// starting and the call is worth retrying. Exported because the gateway wires
// it as the retry classifier's error source.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		kind := model.KindUnknown
		switch {
		case apierr.StatusCode == 503 || isLoadingMessage(apierr.Message):
			kind = model.KindColdStart
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			kind = model.KindAuth
		case apierr.StatusCode == 400 || apierr.StatusCode == 404 || apierr.StatusCode == 422:
			kind = model.KindInvalidRequest
		case apierr.StatusCode == 429:
			kind = model.KindRateLimited
		case apierr.StatusCode == 408 || apierr.StatusCode == 504:
			kind = model.KindTimeout
		}
		return model.NewProviderError("selfhosted", apierr.StatusCode, kind, http.StatusText(apierr.StatusCode), err)
	}
	kind := model.KindNetwork
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		kind = model.KindTimeout
	}
	if isLoadingMessage(err.Error()) {
		kind = model.KindColdStart
	}
	return model.NewProviderError("selfhosted", 0, kind, err.Error(), err)
}

func isLoadingMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "loading") || strings.Contains(msg, "warming up")
}
