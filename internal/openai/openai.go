// Package openai adapts the OpenAI SDK to the model provider contract and
// exposes gpt-image-1 generation and editing.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
)

// ErrNotConfigured is returned by image calls when no API key is set.
var ErrNotConfigured = errors.New("OPENAI_API_KEY is not configured")

// Client wraps the SDK client for chat and image endpoints.
type Client struct {
	sdk        sdk.Client
	apiKey     string
	model      string
	imageModel string
}

type settings struct {
	baseURL    string
	imageModel string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*settings)

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithImageModel overrides gpt-image-1.
func WithImageModel(m string) Option {
	return func(s *settings) { s.imageModel = m }
}

// WithHTTPClient sets the transport, including its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// NewClient creates an OpenAI client. An empty apiKey yields an unconfigured
// client that the gateway skips. SDK retries are disabled; the gateway owns
// retry policy.
func NewClient(apiKey, chatModel string, opts ...Option) *Client {
	s := settings{
		imageModel: string(sdk.ImageModelGPTImage1),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(&s)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(s.httpClient),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	return &Client{
		sdk:        sdk.NewClient(reqOpts...),
		apiKey:     apiKey,
		model:      chatModel,
		imageModel: s.imageModel,
	}
}

func (c *Client) Name() string { return model.ProviderOpenAI }

func (c *Client) Configured() bool { return c.apiKey != "" }

// ChatCompletion sends the system prompt as a leading system message followed
// by the conversation turns.
func (c *Client) ChatCompletion(ctx context.Context, req model.Request) (model.CompletionResponse, error) {
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, sdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case ctxpkg.RoleAssistant:
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		case ctxpkg.RoleSystem:
			msgs = append(msgs, sdk.SystemMessage(m.Content))
		default:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(c.model),
		Messages:    msgs,
		Temperature: sdk.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.CompletionResponse{}, wrapError("chat completion", err)
	}
	out := model.CompletionResponse{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out, nil
}

func wrapError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &model.StatusError{Provider: model.ProviderOpenAI, StatusCode: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("openai %s: %w", op, err)
}
