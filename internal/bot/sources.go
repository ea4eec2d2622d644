package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gilbert2046/telegram-digest-bot/internal/digest"
	"github.com/gilbert2046/telegram-digest-bot/internal/webpage"
)

func missingKeyNotice(err error, action string) (string, bool) {
	if !errors.Is(err, digest.ErrMissingKey) {
		return "", false
	}
	key := "API key"
	if msg := err.Error(); strings.Contains(msg, ": ") {
		key = msg[strings.LastIndex(msg, ": ")+2:]
	}
	return fmt.Sprintf("⚠️ 缺少 %s，无法%s。", key, action), true
}

func (r *request) sourceError(ctx context.Context, action string, err error) error {
	if notice, ok := missingKeyNotice(err, action); ok {
		return r.reply(ctx, notice)
	}
	return r.fail(ctx, fmt.Sprintf("⚠️ %s失败：%v", action, err), err)
}

func (r *request) news(ctx context.Context) error {
	if r.News == nil {
		return r.reply(ctx, "⚠️ 新闻功能未启用。")
	}
	out, err := r.News.News(ctx)
	if err != nil {
		return r.sourceError(ctx, "获取新闻", err)
	}
	return r.reply(ctx, out)
}

func (r *request) search(ctx context.Context, query string) error {
	if query == "" {
		return r.reply(ctx, "用法：/search 巴黎今天有什么展览")
	}
	if r.Search == nil {
		return r.reply(ctx, "⚠️ 搜索功能未启用。")
	}
	res, err := r.Search.Search(ctx, query, 5)
	if err != nil {
		return r.sourceError(ctx, "搜索", err)
	}
	return r.reply(ctx, digest.FormatSearch(res))
}

func (r *request) weather(ctx context.Context) error {
	if r.Weather == nil {
		return r.reply(ctx, "⚠️ 天气功能未启用。")
	}
	w, err := r.Weather.Paris(ctx)
	if err != nil {
		return r.sourceError(ctx, "获取天气", err)
	}
	return r.reply(ctx, w.Format())
}

func (r *request) quote(ctx context.Context, symbol string) error {
	if symbol == "" {
		return r.reply(ctx, "用法：/quote NVDA")
	}
	if r.Market == nil {
		return r.reply(ctx, "⚠️ 行情功能未启用。")
	}
	q, err := r.Market.Quote(ctx, symbol)
	if err != nil {
		return r.sourceError(ctx, "查询行情", err)
	}
	return r.reply(ctx, q.Format())
}

func (r *request) gold(ctx context.Context) error {
	if r.Market == nil {
		return r.reply(ctx, "⚠️ 行情功能未启用。")
	}
	g, err := r.Market.GoldSpot(ctx)
	if err != nil {
		return r.sourceError(ctx, "查询金价", err)
	}
	return r.reply(ctx, g.Format())
}

func (r *request) summarize(ctx context.Context, url string) error {
	if url == "" {
		return r.reply(ctx, "用法：/summarize https://example.com/article")
	}
	if r.Summarizer == nil {
		return r.reply(ctx, "⚠️ 网页摘要功能未启用。")
	}
	out, err := r.Summarizer.Summarize(ctx, url)
	switch {
	case err == nil:
		return r.reply(ctx, out)
	case errors.Is(err, webpage.ErrInvalidURL):
		return r.reply(ctx, "⚠️ 链接无效，请发送 http(s) 开头的完整网址。")
	case errors.Is(err, webpage.ErrNoContent):
		return r.reply(ctx, "⚠️ 网页没有可读内容（或超时），换个链接试试。")
	default:
		return r.sourceError(ctx, "网页摘要", err)
	}
}
