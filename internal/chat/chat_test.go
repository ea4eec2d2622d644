package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/control"
	"github.com/gilbert2046/telegram-digest-bot/internal/dummy"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
	"github.com/gilbert2046/telegram-digest-bot/internal/persona"
	"github.com/gilbert2046/telegram-digest-bot/internal/store"
)

type staticPersona struct {
	mu   sync.Mutex
	text string
}

func (p *staticPersona) Load() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

func (p *staticPersona) Update(text string) error {
	if text == "" {
		return persona.ErrEmptyPersona
	}
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
	return nil
}

type stubCompleter struct {
	mu    sync.Mutex
	reply func(n int) (string, error)
	reqs  []model.Request
}

func (c *stubCompleter) Complete(_ context.Context, req model.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return c.reply(len(c.reqs))
}

func newTestService(t *testing.T, llm model.Completer, cfg Config) (*Service, *store.File) {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "memory.json"), zaptest.NewLogger(t))
	svc := NewService(st, &staticPersona{text: "You are helpful."}, llm, cfg, zaptest.NewLogger(t))
	return svc, st
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestHandleUserTurn_FirstTurn(t *testing.T) {
	provider, err := dummy.NewProvider("msg:hi there")
	require.NoError(t, err)
	gw := model.NewGateway([]model.Provider{provider}, model.WithSleep(noSleep))
	svc, st := newTestService(t, gw, Config{})

	reply, err := svc.HandleUserTurn(context.Background(), "42", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You are helpful.", reqs[0].System)
	assert.Equal(t, []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: "hello"}}, reqs[0].Messages)
	assert.Equal(t, DefaultTemperature, reqs[0].Temperature)
	assert.Equal(t, DefaultMaxTokens, reqs[0].MaxTokens)

	doc, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, []ctxpkg.Message{
		{Role: ctxpkg.RoleUser, Content: "hello"},
		{Role: ctxpkg.RoleAssistant, Content: "hi there"},
	}, doc.Chats["42"].Messages)
}

func TestHandleUserTurn_WindowKeepsNewest(t *testing.T) {
	llm := &stubCompleter{reply: func(n int) (string, error) { return fmt.Sprintf("a%d", n), nil }}
	svc, _ := newTestService(t, llm, Config{Window: 12})

	for i := 1; i <= 15; i++ {
		_, err := svc.HandleUserTurn(context.Background(), "c", fmt.Sprintf("u%d", i))
		require.NoError(t, err)
	}

	history, err := svc.History("c")
	require.NoError(t, err)
	require.Len(t, history, 12)
	assert.Equal(t, ctxpkg.Message{Role: ctxpkg.RoleUser, Content: "u10"}, history[0])
	assert.Equal(t, ctxpkg.Message{Role: ctxpkg.RoleAssistant, Content: "a15"}, history[11])

	last := llm.reqs[len(llm.reqs)-1]
	assert.LessOrEqual(t, len(last.Messages), 12)
	assert.Equal(t, "u15", last.Messages[len(last.Messages)-1].Content)
}

func TestHandleUserTurn_FailureKeepsUserTurn(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) {
		return "", &model.StatusError{Provider: "openai", StatusCode: 503, Err: errors.New("unavailable")}
	}}
	svc, _ := newTestService(t, llm, Config{})

	_, err := svc.HandleUserTurn(context.Background(), "c", "are you there?")
	require.Error(t, err)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindTransient, te.Kind)
	assert.Equal(t, "⚠️ 模型服务繁忙，请稍后再试。", Notice(err))

	history, err := svc.History("c")
	require.NoError(t, err)
	assert.Equal(t, []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: "are you there?"}}, history)
}

func TestHandleUserTurn_GatewayRetriesThenSucceeds(t *testing.T) {
	provider, err := dummy.NewProvider("err:429,err:503,msg:finally")
	require.NoError(t, err)
	var retries []model.RetryEvent
	gw := model.NewGateway([]model.Provider{provider},
		model.WithSleep(noSleep),
		model.WithRetryPolicy(control.DefaultRetryPolicy()),
		model.WithOnRetry(func(ev model.RetryEvent) { retries = append(retries, ev) }),
	)
	svc, _ := newTestService(t, gw, Config{})

	reply, err := svc.HandleUserTurn(context.Background(), "c", "hello")
	require.NoError(t, err)
	assert.Equal(t, "finally", reply)
	assert.Len(t, retries, 2)
}

func TestHandleUserTurn_NoProviderConfigured(t *testing.T) {
	gw := model.NewGateway(nil)
	svc, _ := newTestService(t, gw, Config{})

	_, err := svc.HandleUserTurn(context.Background(), "c", "hello")
	require.Error(t, err)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindConfiguration, te.Kind)
	assert.Contains(t, Notice(err), "OPENAI_API_KEY")
}

func TestHandleUserTurn_EmptyInput(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "x", nil }}
	svc, st := newTestService(t, llm, Config{})

	_, err := svc.HandleUserTurn(context.Background(), "c", "   ")
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, llm.reqs)

	doc, err := st.Load()
	require.NoError(t, err)
	assert.NotContains(t, doc.Chats, "c")
}

func TestHandleUserTurn_EmptyReplyNotStored(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "", nil }}
	svc, _ := newTestService(t, llm, Config{})

	reply, err := svc.HandleUserTurn(context.Background(), "c", "hello")
	require.NoError(t, err)
	assert.Empty(t, reply)

	history, err := svc.History("c")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRemember_NotesReachSystemPrompt(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "ok", nil }}
	svc, _ := newTestService(t, llm, Config{})

	require.NoError(t, svc.Remember("c", "用户喜欢猫"))
	require.ErrorIs(t, svc.Remember("c", " "), ErrEmptyInput)

	_, err := svc.HandleUserTurn(context.Background(), "c", "推荐个宠物")
	require.NoError(t, err)

	req := llm.reqs[0]
	assert.Equal(t, "You are helpful.\n\n长期记忆：\n- 用户喜欢猫", req.System)
	assert.Equal(t, []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: "推荐个宠物"}}, req.Messages)
}

func TestForget_ClearsHistoryKeepsTasks(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "ok", nil }}
	svc, _ := newTestService(t, llm, Config{})

	_, err := svc.HandleUserTurn(context.Background(), "c", "hello")
	require.NoError(t, err)
	_, err = svc.AddTask("c", "buy milk")
	require.NoError(t, err)

	require.NoError(t, svc.Forget("c"))

	history, err := svc.History("c")
	require.NoError(t, err)
	assert.Empty(t, history)
	tasks, err := svc.ListTasks("c")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestConversationsAreIsolated(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "ok", nil }}
	svc, _ := newTestService(t, llm, Config{})

	_, err := svc.HandleUserTurn(context.Background(), "a", "from a")
	require.NoError(t, err)
	_, err = svc.HandleUserTurn(context.Background(), "b", "from b")
	require.NoError(t, err)

	assert.Equal(t, []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: "from b"}}, llm.reqs[1].Messages)
}

func TestConcurrentTurnsAcrossConversations(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "ok", nil }}
	svc, st := newTestService(t, llm, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.HandleUserTurn(context.Background(), fmt.Sprintf("c%d", i), "hello")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	doc, err := st.Load()
	require.NoError(t, err)
	assert.Len(t, doc.Chats, 8)
	for id, conv := range doc.Chats {
		assert.Len(t, conv.Messages, 2, id)
	}
	assert.Zero(t, svc.locks.size())
}

func TestTasks(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "ok", nil }}
	svc, _ := newTestService(t, llm, Config{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	n, err := svc.AddTask("c", "write report")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = svc.AddTask("c", "call mom")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = svc.AddTask("c", "")
	require.ErrorIs(t, err, ErrEmptyInput)

	done, err := svc.CompleteTask("c", 2)
	require.NoError(t, err)
	assert.Equal(t, "call mom", done.Text)
	assert.True(t, done.Done)

	_, err = svc.CompleteTask("c", 3)
	require.ErrorIs(t, err, ErrNoSuchTask)
	assert.Equal(t, "没有这个任务编号，发 /todo 查看列表。", Notice(err))

	tasks, err := svc.ListTasks("c")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.False(t, tasks[0].Done)
	assert.Equal(t, fixed, tasks[0].CreatedAt)

	require.NoError(t, svc.ClearTasks("c"))
	tasks, err = svc.ListTasks("c")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestUpdatePersona(t *testing.T) {
	llm := &stubCompleter{reply: func(int) (string, error) { return "ok", nil }}
	svc, _ := newTestService(t, llm, Config{})

	require.NoError(t, svc.UpdatePersona("你是猫娘"))
	assert.Equal(t, "你是猫娘", svc.Persona())
	err := svc.UpdatePersona("")
	assert.Equal(t, "用法：/persona 你的新人格设定", Notice(err))

	_, err = svc.HandleUserTurn(context.Background(), "c", "hi")
	require.NoError(t, err)
	assert.Equal(t, "你是猫娘", llm.reqs[0].System)
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("x")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("x")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}

	other := k.Lock("y")
	other()

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}

func TestNotice_Default(t *testing.T) {
	assert.Equal(t, "⚠️ 出错了", Notice(errors.New("boom")))
	assert.Equal(t, "⚠️ 记忆保存失败，请稍后再试。", Notice(&TurnError{Kind: KindStorage, Err: errors.New("disk")}))
}
