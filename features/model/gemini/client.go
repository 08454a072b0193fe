// Package gemini provides a model.Client for Google Gemini models through
// their OpenAI-compatible chat completions endpoint.
package gemini

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

// DefaultBaseURL is Google's OpenAI-compatibility endpoint for Gemini.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Client implements model.Client against the Gemini OpenAI-compat API.
type Client struct {
	chat openai.Client
}

// Options configures the adapter.
type Options struct {
	// BaseURL overrides the Gemini endpoint, mainly for tests.
	BaseURL string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// New builds the client. The API key is required.
func New(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	// Retry behavior belongs to the session's retry policy, not the SDK.
	ropts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		ropts = append(ropts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &Client{chat: openai.NewClient(ropts...)}, nil
}

// Complete performs a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := translate(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, model.NewProviderError("gemini", 0, model.KindUnknown,
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

// Stream performs a streaming chat completion.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := translate(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, classify(err)
	}
	return &streamer{stream: stream}, nil
}

func translate(req model.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("gemini: messages are required")
	}
	if req.Model == "" {
		return openai.ChatCompletionNewParams{}, errors.New("gemini: model identifier is required")
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

// classify maps SDK failures onto the provider error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		kind := model.KindUnknown
		switch apierr.StatusCode {
		case 401, 403:
			kind = model.KindAuth
		case 400, 404, 422:
			kind = model.KindInvalidRequest
		case 402:
			kind = model.KindQuota
		case 429:
			kind = model.KindRateLimited
		case 408, 504:
			kind = model.KindTimeout
		}
		return model.NewProviderError("gemini", apierr.StatusCode, kind, http.StatusText(apierr.StatusCode), err)
	}
	kind := model.KindNetwork
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		kind = model.KindTimeout
	}
	return model.NewProviderError("gemini", 0, kind, err.Error(), err)
}
