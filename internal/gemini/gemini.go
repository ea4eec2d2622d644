// Package gemini adapts the Google GenAI SDK to the model provider contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
)

// Client is the Gemini provider. It is the last fallback in the default
// priority order.
type Client struct {
	sdk   *genai.Client
	model string
}

// Option configures the SDK client.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(cc *genai.ClientConfig) { cc.HTTPOptions.BaseURL = url }
}

// WithHTTPClient sets the transport.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *genai.ClientConfig) { cc.HTTPClient = c }
}

// New creates a Gemini provider. With an empty apiKey the provider reports
// itself unconfigured and no SDK client is built.
func New(ctx context.Context, apiKey, modelName string, opts ...Option) (*Client, error) {
	c := &Client{model: modelName}
	if apiKey == "" {
		return c, nil
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	for _, opt := range opts {
		opt(cc)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.sdk = client
	return c, nil
}

func (c *Client) Name() string { return model.ProviderGemini }

func (c *Client) Configured() bool { return c.sdk != nil }

// ChatCompletion maps assistant turns onto the "model" role.
func (c *Client) ChatCompletion(ctx context.Context, req model.Request) (model.CompletionResponse, error) {
	if c.sdk == nil {
		return model.CompletionResponse{}, model.ErrNotConfigured
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == ctxpkg.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return model.CompletionResponse{}, &model.StatusError{Provider: model.ProviderGemini, StatusCode: apiErr.Code, Err: err}
		}
		return model.CompletionResponse{}, fmt.Errorf("gemini generate content: %w", err)
	}
	out := model.CompletionResponse{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
