package webpage

import (
	"context"
	"fmt"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
)

const summarizeSystem = "你是一个阅读助手。只根据给出的网页内容，用中文写出 3-5 条要点摘要，不要编造。"

// Summarizer turns a URL into a short Chinese summary.
type Summarizer struct {
	fetcher *Fetcher
	llm     model.Completer
}

func NewSummarizer(f *Fetcher, llm model.Completer) *Summarizer {
	return &Summarizer{fetcher: f, llm: llm}
}

// Summarize fetches rawURL and asks the model for a summary.
func (s *Summarizer) Summarize(ctx context.Context, rawURL string) (string, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("标题：%s\n链接：%s\n\n正文：\n%s", page.Title, page.URL, page.Text)
	reply, err := s.llm.Complete(ctx, model.Request{
		System:      summarizeSystem,
		Messages:    []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   600,
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", page.URL, err)
	}
	if reply == "" {
		return "", fmt.Errorf("summarize %s: %w", page.URL, ErrNoContent)
	}
	return reply, nil
}
