package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gilbert2046/telegram-digest-bot/internal/control"
)

// RetryEvent describes a wait scheduled after a transient failure.
type RetryEvent struct {
	Provider string
	Attempt  int
	Wait     time.Duration
	Err      error
}

// Gateway selects a configured provider and retries transient failures.
type Gateway struct {
	providers []Provider
	preferred string
	policy    control.RetryPolicy
	sleep     control.SleepFunc
	onRetry   func(RetryEvent)
	logger    *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPreferred names the provider to use when it is configured.
func WithPreferred(name string) Option {
	return func(g *Gateway) { g.preferred = strings.ToLower(strings.TrimSpace(name)) }
}

// WithRetryPolicy overrides the default 4-attempt policy.
func WithRetryPolicy(p control.RetryPolicy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithSleep replaces the real-clock wait between attempts.
func WithSleep(fn control.SleepFunc) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// WithOnRetry registers a hook called before every backoff wait.
func WithOnRetry(fn func(RetryEvent)) Option {
	return func(g *Gateway) { g.onRetry = fn }
}

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway builds a gateway over providers listed in fallback priority.
func NewGateway(providers []Provider, opts ...Option) *Gateway {
	g := &Gateway{
		providers: providers,
		policy:    control.DefaultRetryPolicy(),
		sleep:     control.Sleep,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("gateway")
	return g
}

// Select returns the preferred provider if it is configured, else the first
// configured provider in priority order.
func (g *Gateway) Select() (Provider, error) {
	if g.preferred != "" {
		for _, p := range g.providers {
			if p.Name() == g.preferred && p.Configured() {
				return p, nil
			}
		}
	}
	for _, p := range g.providers {
		if p.Configured() {
			return p, nil
		}
	}
	return nil, ErrNotConfigured
}

// Configured reports whether any provider can serve requests.
func (g *Gateway) Configured() bool {
	_, err := g.Select()
	return err == nil
}

// Complete returns the trimmed completion text. An empty string means the
// provider produced no usable content. Transient failures are retried with
// exponential backoff; every other failure returns immediately.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	p, err := g.Select()
	if err != nil {
		return "", err
	}

	var resp CompletionResponse
	onRetry := func(attempt int, wait time.Duration, err error) {
		g.logger.Warn("transient provider error, backing off",
			zap.String("provider", p.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if g.onRetry != nil {
			g.onRetry(RetryEvent{Provider: p.Name(), Attempt: attempt, Wait: wait, Err: err})
		}
	}
	err = control.Retry(ctx, g.policy, g.sleep, IsTransient, onRetry, func(attempt int) error {
		r, err := p.ChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		g.logger.Debug("completion ok",
			zap.String("provider", p.Name()),
			zap.Int("attempt", attempt),
			zap.Int("input_tokens", r.InputTokens),
			zap.Int("output_tokens", r.OutputTokens),
		)
		resp = r
		return nil
	})
	if errors.Is(err, control.ErrRetriesExhausted) {
		g.logger.Error("provider retries exhausted", zap.String("provider", p.Name()), zap.Error(err))
		return "", fmt.Errorf("%s: %w", p.Name(), err)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
