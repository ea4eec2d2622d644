// Package model routes completion requests to one of several interchangeable
// LLM providers.
package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
)

// Provider names, in default priority order.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Request is one completion call. Messages hold only user and assistant
// turns; the system prompt travels separately.
type Request struct {
	System      string
	Messages    []ctxpkg.Message
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is one LLM backend.
type Provider interface {
	Name() string
	// Configured reports whether the provider has the credentials it needs.
	Configured() bool
	ChatCompletion(ctx context.Context, req Request) (CompletionResponse, error)
}

// Completer is the single capability the rest of the bot depends on.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrNotConfigured means no provider has credentials.
var ErrNotConfigured = errors.New("no LLM provider configured")

// StatusError is a provider failure carrying the upstream HTTP status.
// Providers translate their SDK errors into this shape.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s provider error status=%d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Transient reports whether the status is rate-limited or unavailable.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return false
}
