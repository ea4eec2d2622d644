package model

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/control"
)

// fakeProvider replays a fixed sequence of outcomes.
type fakeProvider struct {
	name       string
	configured bool
	statuses   []int // 0 means success
	reply      string
	calls      int
	lastReq    Request
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) ChatCompletion(_ context.Context, req Request) (CompletionResponse, error) {
	f.lastReq = req
	idx := f.calls
	f.calls++
	if idx < len(f.statuses) && f.statuses[idx] != 0 {
		return CompletionResponse{}, &StatusError{Provider: f.name, StatusCode: f.statuses[idx], Err: errors.New(http.StatusText(f.statuses[idx]))}
	}
	return CompletionResponse{Content: f.reply}, nil
}

type recordedSleep struct {
	waits []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newTestGateway(t *testing.T, providers []Provider, opts ...Option) (*Gateway, *recordedSleep) {
	t.Helper()
	rec := &recordedSleep{}
	opts = append([]Option{WithSleep(rec.sleep), WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewGateway(providers, opts...), rec
}

func TestSelect_PreferredHonoredWhenConfigured(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true}
	b := &fakeProvider{name: ProviderAnthropic, configured: true}
	g, _ := newTestGateway(t, []Provider{a, b}, WithPreferred("Anthropic"))

	p, err := g.Select()
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.Name())
}

func TestSelect_FallsBackWhenPreferredMissing(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: false}
	b := &fakeProvider{name: ProviderAnthropic, configured: true, reply: "from b"}
	g, _ := newTestGateway(t, []Provider{a, b}, WithPreferred(ProviderOpenAI))

	got, err := g.Complete(context.Background(), Request{Messages: []ctxpkg.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "from b", got)
	assert.Equal(t, 0, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestSelect_PriorityOrderWithoutPreference(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true}
	b := &fakeProvider{name: ProviderAnthropic, configured: true}
	g, _ := newTestGateway(t, []Provider{a, b})
	p, err := g.Select()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())
}

func TestComplete_NotConfiguredFailsWithoutRetry(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI}
	g, rec := newTestGateway(t, []Provider{a})

	_, err := g.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, rec.waits)
	assert.Equal(t, 0, a.calls)
	assert.False(t, g.Configured())
}

func TestComplete_RetriesRateLimitThenSucceeds(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true, statuses: []int{429, 429}, reply: "  ok \n"}
	var events []RetryEvent
	g, rec := newTestGateway(t, []Provider{a}, WithOnRetry(func(ev RetryEvent) { events = append(events, ev) }))

	got, err := g.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, a.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[1].Attempt)
}

func TestComplete_ExhaustsAfterFourAttempts(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true, statuses: []int{503, 503, 503, 503, 0}}
	g, rec := newTestGateway(t, []Provider{a})

	_, err := g.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 4, a.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.waits)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, control.ErrRetriesExhausted)
}

func TestComplete_PermanentErrorNotRetried(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true, statuses: []int{401}}
	g, rec := newTestGateway(t, []Provider{a})

	_, err := g.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Empty(t, rec.waits)
	assert.False(t, IsTransient(err))
}

func TestComplete_EmptyContentIsNotAnError(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true, reply: "   "}
	g, _ := newTestGateway(t, []Provider{a})
	got, err := g.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestComplete_CanceledDuringBackoff(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true, statuses: []int{429, 429, 429, 429}}
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGateway([]Provider{a}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := g.Complete(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, a.calls)
}

func TestComplete_PassesRequestThrough(t *testing.T) {
	a := &fakeProvider{name: ProviderOpenAI, configured: true, reply: "x"}
	g, _ := newTestGateway(t, []Provider{a})
	req := Request{System: "persona", Messages: []ctxpkg.Message{{Role: "user", Content: "hello"}}, Temperature: 0.7, MaxTokens: 500}
	_, err := g.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req, a.lastReq)
}
