// Package bot routes chat messages to the assistant's features and keeps
// each chat's messages in order.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gilbert2046/telegram-digest-bot/internal/chat"
	cmdpkg "github.com/gilbert2046/telegram-digest-bot/internal/commander"
	"github.com/gilbert2046/telegram-digest-bot/internal/db"
	"github.com/gilbert2046/telegram-digest-bot/internal/digest"
	"github.com/gilbert2046/telegram-digest-bot/internal/imagecache"
	"github.com/gilbert2046/telegram-digest-bot/internal/persona"
)

// Imager generates and edits images.
type Imager interface {
	Configured() bool
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	EditImage(ctx context.Context, path, prompt string) ([]byte, error)
}

// Summarizer condenses a web page.
type Summarizer interface {
	Summarize(ctx context.Context, url string) (string, error)
}

// NewsDigest produces the news summary.
type NewsDigest interface {
	News(ctx context.Context) (string, error)
}

// EventSink records an event about the message being handled.
type EventSink func(eventType string, payload map[string]any)

// Deps are the collaborators of a Handler. Optional features are disabled
// when their field is nil.
type Deps struct {
	Commander  cmdpkg.Commander
	Chat       *chat.Service
	Images     *imagecache.Cache
	Imager     Imager
	Search     digest.Searcher
	Market     digest.Market
	Weather    digest.Forecaster
	Summarizer Summarizer
	News       NewsDigest
	ImageDir   string
	Logger     *zap.Logger
}

// Handler answers one message at a time.
type Handler struct {
	Deps
	now func() time.Time
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.ImageDir == "" {
		d.ImageDir = "tmp"
	}
	d.Logger = d.Logger.Named("bot")
	return &Handler{Deps: d, now: time.Now}
}

// Handle routes msg. The returned error marks the update as failed; the
// user has already been told about it when possible.
func (h *Handler) Handle(ctx context.Context, msg *cmdpkg.Message, events EventSink) error {
	if events == nil {
		events = func(string, map[string]any) {}
	}
	r := &request{Handler: h, chatID: msg.Chat.ID, events: events}

	if len(msg.Photo) > 0 {
		return r.handlePhoto(ctx, msg)
	}
	if msg.Text == nil {
		return nil
	}
	text := strings.TrimSpace(*msg.Text)
	if text == "" {
		return nil
	}
	if cmd, ok := parseCommand(text); ok {
		return r.dispatch(ctx, cmd)
	}
	return r.converse(ctx, text)
}

// request carries the per-message state.
type request struct {
	*Handler
	chatID int64
	events EventSink
}

func (r *request) conversationID() string {
	return strconv.FormatInt(r.chatID, 10)
}

func (r *request) reply(ctx context.Context, text string) error {
	if err := r.Commander.SendMessage(ctx, r.chatID, text); err != nil {
		r.Logger.Warn("send failed", zap.Int64("chat_id", r.chatID), zap.Error(err))
		return fmt.Errorf("send message: %w", err)
	}
	r.events(db.EventReplySent, map[string]any{"chat_id": r.chatID, "chars": len([]rune(text))})
	return nil
}

// fail tells the user about err and returns it joined with any send error.
func (r *request) fail(ctx context.Context, notice string, err error) error {
	return errors.Join(err, r.reply(ctx, notice))
}

func (r *request) dispatch(ctx context.Context, cmd command) error {
	switch cmd.name {
	case cmdPersona:
		return r.persona(ctx, cmd.arg)
	case cmdRemember:
		return r.remember(ctx, cmd.arg)
	case cmdForget:
		if err := r.Chat.Forget(r.conversationID()); err != nil {
			return r.fail(ctx, chat.Notice(err), err)
		}
		return r.reply(ctx, "🧹 记忆已清空")
	case cmdImg:
		return r.generate(ctx, cmd.arg)
	case cmdEdit:
		return r.edit(ctx, cmd.arg)
	case cmdTodo:
		return r.todo(ctx, cmd.arg)
	case cmdDone:
		return r.done(ctx, cmd.arg)
	case cmdNews:
		return r.news(ctx)
	case cmdSearch:
		return r.search(ctx, cmd.arg)
	case cmdWeather:
		return r.weather(ctx)
	case cmdQuote:
		return r.quote(ctx, cmd.arg)
	case cmdGold:
		return r.gold(ctx)
	case cmdSummarize:
		return r.summarize(ctx, cmd.arg)
	default:
		return r.reply(ctx, helpText)
	}
}

func (r *request) converse(ctx context.Context, text string) error {
	id := r.conversationID()
	r.events(db.EventTurnStarted, map[string]any{"chat_id": r.chatID, "chars": len([]rune(text))})
	started := r.now()
	reply, err := r.Chat.HandleUserTurn(ctx, id, text)
	if err != nil {
		payload := map[string]any{"chat_id": r.chatID, "error": err.Error()}
		var te *chat.TurnError
		if errors.As(err, &te) {
			payload["kind"] = string(te.Kind)
		}
		r.events(db.EventTurnFailed, payload)
		return r.fail(ctx, chat.Notice(err), err)
	}
	r.events(db.EventTurnCompleted, map[string]any{
		"chat_id":    r.chatID,
		"latency_ms": r.now().Sub(started).Milliseconds(),
		"empty":      reply == "",
	})
	if reply == "" {
		return r.reply(ctx, "🤔 模型没有返回内容，换个说法试试？")
	}
	return r.reply(ctx, reply)
}

func (r *request) persona(ctx context.Context, text string) error {
	if err := r.Chat.UpdatePersona(text); err != nil {
		if errors.Is(err, persona.ErrEmptyPersona) {
			return r.reply(ctx, chat.Notice(err))
		}
		return r.fail(ctx, chat.Notice(err), err)
	}
	r.events(db.EventPersonaUpdated, map[string]any{"chat_id": r.chatID, "chars": len([]rune(text))})
	return r.reply(ctx, "🧠 人格设定已更新")
}

func (r *request) remember(ctx context.Context, note string) error {
	if err := r.Chat.Remember(r.conversationID(), note); err != nil {
		if errors.Is(err, chat.ErrEmptyInput) {
			return r.reply(ctx, "用法：/remember 需要记住的内容")
		}
		return r.fail(ctx, chat.Notice(err), err)
	}
	return r.reply(ctx, "💾 已记住")
}

func (r *request) todo(ctx context.Context, arg string) error {
	id := r.conversationID()
	switch strings.ToLower(arg) {
	case "":
		tasks, err := r.Chat.ListTasks(id)
		if err != nil {
			return r.fail(ctx, chat.Notice(err), err)
		}
		if len(tasks) == 0 {
			return r.reply(ctx, "📝 还没有任务。用法：/todo 买牛奶")
		}
		var b strings.Builder
		b.WriteString("📝 任务列表：")
		for i, t := range tasks {
			mark := " "
			if t.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, mark, t.Text)
		}
		return r.reply(ctx, b.String())
	case "clear":
		if err := r.Chat.ClearTasks(id); err != nil {
			return r.fail(ctx, chat.Notice(err), err)
		}
		return r.reply(ctx, "🧹 任务已清空")
	default:
		n, err := r.Chat.AddTask(id, arg)
		if err != nil {
			return r.fail(ctx, chat.Notice(err), err)
		}
		return r.reply(ctx, fmt.Sprintf("📝 已添加任务 #%d：%s", n, arg))
	}
}

func (r *request) done(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil {
		return r.reply(ctx, "用法：/done 1")
	}
	task, err := r.Chat.CompleteTask(r.conversationID(), n)
	if errors.Is(err, chat.ErrNoSuchTask) {
		return r.reply(ctx, chat.Notice(err))
	}
	if err != nil {
		return r.fail(ctx, chat.Notice(err), err)
	}
	return r.reply(ctx, fmt.Sprintf("✅ 已完成 #%d：%s", n, task.Text))
}
