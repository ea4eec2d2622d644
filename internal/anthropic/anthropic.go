// Package anthropic adapts the Anthropic Messages API to the model provider
// contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
)

// defaultMaxTokens applies when a request leaves MaxTokens unset; the API
// requires the field.
const defaultMaxTokens = 1024

// Client is the Anthropic provider.
type Client struct {
	sdk    sdk.Client
	apiKey string
	model  string
}

// NewClient creates an Anthropic provider. baseURL may be empty.
func NewClient(apiKey, modelName, baseURL string, timeout time.Duration) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{sdk: sdk.NewClient(opts...), apiKey: apiKey, model: modelName}
}

func (c *Client) Name() string { return model.ProviderAnthropic }

func (c *Client) Configured() bool { return c.apiKey != "" }

// ChatCompletion maps the request onto Messages.New. The conversation must
// open with a user turn, so leading assistant turns are dropped.
func (c *Client) ChatCompletion(ctx context.Context, req model.Request) (model.CompletionResponse, error) {
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case ctxpkg.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case ctxpkg.RoleAssistant:
			if len(msgs) == 0 {
				continue
			}
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   maxTokens,
		Messages:    msgs,
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return model.CompletionResponse{}, &model.StatusError{Provider: model.ProviderAnthropic, StatusCode: apiErr.StatusCode, Err: err}
		}
		return model.CompletionResponse{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return model.CompletionResponse{
		Content:      b.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
