package chat

import (
	"errors"
	"fmt"

	"github.com/gilbert2046/telegram-digest-bot/internal/model"
	"github.com/gilbert2046/telegram-digest-bot/internal/persona"
)

var (
	// ErrEmptyInput rejects blank text before any state is touched.
	ErrEmptyInput = errors.New("empty input")
	// ErrNoSuchTask means the task index is out of range.
	ErrNoSuchTask = errors.New("no such task")
)

// Kind classifies a failed turn for the user-facing notice.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindTransient     Kind = "transient_provider"
	KindPermanent     Kind = "permanent_provider"
	KindStorage       Kind = "storage"
)

// TurnError is the only error shape HandleUserTurn returns besides
// ErrEmptyInput.
type TurnError struct {
	Kind Kind
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed kind=%s: %v", e.Kind, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

func classify(err error) Kind {
	switch {
	case errors.Is(err, model.ErrNotConfigured):
		return KindConfiguration
	case model.IsTransient(err):
		return KindTransient
	default:
		return KindPermanent
	}
}

// Notice renders err as a message for the chat user.
func Notice(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "消息是空的，说点什么吧。"
	case errors.Is(err, persona.ErrEmptyPersona):
		return "用法：/persona 你的新人格设定"
	case errors.Is(err, ErrNoSuchTask):
		return "没有这个任务编号，发 /todo 查看列表。"
	}
	var te *TurnError
	if errors.As(err, &te) {
		switch te.Kind {
		case KindConfiguration:
			return "⚠️ 没有可用的模型：请配置 OPENAI_API_KEY、ANTHROPIC_API_KEY 或 GEMINI_API_KEY。"
		case KindTransient:
			return "⚠️ 模型服务繁忙，请稍后再试。"
		case KindStorage:
			return "⚠️ 记忆保存失败，请稍后再试。"
		}
	}
	return "⚠️ 出错了"
}
