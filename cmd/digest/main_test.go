package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeComposer struct {
	out  string
	err  error
	runs []string
}

func (f *fakeComposer) Run(_ context.Context, name string) (string, error) {
	f.runs = append(f.runs, name)
	return f.out, f.err
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakePoster struct {
	sent []sentMessage
	err  error
}

func (f *fakePoster) SendMarkdown(_ context.Context, chatID int64, text string) error {
	f.sent = append(f.sent, sentMessage{chatID, text})
	return f.err
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*app, error) { return a, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestApp(t *testing.T, c *fakeComposer, p *fakePoster) *app {
	return &app{composer: c, out: p, chatID: 42, timeout: time.Minute, logger: zaptest.NewLogger(t)}
}

func TestDigestPostsToChat(t *testing.T) {
	c := &fakeComposer{out: "*Daily*\n- NVDA up"}
	p := &fakePoster{}
	_, err := execute(t, newTestApp(t, c, p), "daily")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily"}, c.runs)
	assert.Equal(t, []sentMessage{{42, "*Daily*\n- NVDA up"}}, p.sent)
}

func TestDigestFailurePostsNotice(t *testing.T) {
	c := &fakeComposer{err: errors.New("tavily status=500")}
	p := &fakePoster{}
	_, err := execute(t, newTestApp(t, c, p), "ai-finance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ai-finance digest")
	require.Len(t, p.sent, 1)
	assert.Equal(t, "⚠️ AI/Finance digest failed: tavily status=500", p.sent[0].text)
}

func TestDigestPostFailure(t *testing.T) {
	c := &fakeComposer{out: "news"}
	p := &fakePoster{err: errors.New("telegram down")}
	_, err := execute(t, newTestApp(t, c, p), "news")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram down")
}

func TestDigestDryRunPrints(t *testing.T) {
	c := &fakeComposer{out: "Paris this weekend"}
	p := &fakePoster{}
	out, err := execute(t, newTestApp(t, c, p), "paris-events", "--dry-run")
	require.NoError(t, err)
	assert.Empty(t, p.sent)
	assert.Equal(t, "Paris this weekend", strings.TrimSpace(out))
}

func TestDigestRejectsUnknownOrExtraArgs(t *testing.T) {
	c := &fakeComposer{}
	_, err := execute(t, newTestApp(t, c, &fakePoster{}), "weekly")
	require.Error(t, err)
	_, err = execute(t, newTestApp(t, c, &fakePoster{}), "news", "extra")
	require.Error(t, err)
	assert.Empty(t, c.runs)
}
