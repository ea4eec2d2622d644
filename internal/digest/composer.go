package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
	"github.com/gilbert2046/telegram-digest-bot/internal/news"
)

// NoDataMessage is posted when the news digest has nothing to summarize.
const NoDataMessage = "No data source available."

// Digest names accepted by Run.
const (
	KindDaily       = "daily"
	KindAIFinance   = "ai-finance"
	KindParisEvents = "paris-events"
	KindNews        = "news"
)

var displayNames = map[string]string{
	KindDaily:       "Daily",
	KindAIFinance:   "AI/Finance",
	KindParisEvents: "Paris events",
	KindNews:        "News",
}

var watchlist = []string{"NVDA", "AMD", "VST"}

const (
	goldNewsQuery        = "site:finance.yahoo.com gold price XAUUSD today"
	parisWeekendQuery    = "site:quefaire.paris.fr Paris weekend events exhibitions brocante"
	parisTodayQuery      = "site:quefaire.paris.fr Paris today events exhibitions"
	parisDailyEventQuery = "site:quefaire.paris.fr Paris exhibitions events today"
)

type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*SearchResult, error)
}

type Market interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	GoldSpot(ctx context.Context) (Gold, error)
}

type Forecaster interface {
	Paris(ctx context.Context) (*Weather, error)
}

type NewsSource interface {
	Fetch(ctx context.Context, hours, limit int) ([]news.Item, error)
}

// Sources bundles the data collaborators. A digest only touches the ones it
// needs, so unused fields may be nil.
type Sources struct {
	Search  Searcher
	Market  Market
	Weather Forecaster
	News    NewsSource
}

// Composer gathers sources concurrently and asks the model to write each
// digest.
type Composer struct {
	src    Sources
	llm    model.Completer
	now    func() time.Time
	logger *zap.Logger
}

func NewComposer(src Sources, llm model.Completer, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{src: src, llm: llm, now: time.Now, logger: logger.Named("digest")}
}

// Run composes the digest called name.
func (c *Composer) Run(ctx context.Context, name string) (string, error) {
	switch name {
	case KindDaily:
		return c.Daily(ctx)
	case KindAIFinance:
		return c.AIFinance(ctx)
	case KindParisEvents:
		return c.ParisEvents(ctx)
	case KindNews:
		return c.News(ctx)
	default:
		return "", fmt.Errorf("unknown digest %q", name)
	}
}

// FailureMessage is posted to the chat when a digest fails.
func FailureMessage(name string, err error) string {
	display, ok := displayNames[name]
	if !ok {
		display = name
	}
	return fmt.Sprintf("⚠️ %s digest failed: %v", display, err)
}

type financials struct {
	NVDA     Quote         `json:"nvda"`
	AMD      Quote         `json:"amd"`
	VST      Quote         `json:"vst"`
	Gold     Gold          `json:"gold"`
	GoldNews *SearchResult `json:"goldNews"`
}

func (c *Composer) gatherFinancials(ctx context.Context, g *errgroup.Group, out *financials) {
	quotes := []*Quote{&out.NVDA, &out.AMD, &out.VST}
	for i, sym := range watchlist {
		g.Go(func() error {
			q, err := c.src.Market.Quote(ctx, sym)
			if err != nil {
				return fmt.Errorf("quote %s: %w", sym, err)
			}
			*quotes[i] = q
			return nil
		})
	}
	g.Go(func() error {
		gold, err := c.src.Market.GoldSpot(ctx)
		if err != nil {
			return fmt.Errorf("gold spot: %w", err)
		}
		out.Gold = gold
		return nil
	})
	c.search(ctx, g, goldNewsQuery, 4, &out.GoldNews)
}

func (c *Composer) search(ctx context.Context, g *errgroup.Group, query string, maxResults int, out **SearchResult) {
	g.Go(func() error {
		res, err := c.src.Search.Search(ctx, query, maxResults)
		if err != nil {
			return fmt.Errorf("search %q: %w", query, err)
		}
		*out = res
		return nil
	})
}

// Daily is the full morning briefing: markets, news by region, Paris events
// and weather.
func (c *Composer) Daily(ctx context.Context) (string, error) {
	var (
		fin                                  financials
		macro, fr, cn, world, ai, parisEvent *SearchResult
		weather                              *Weather
	)
	g, gctx := errgroup.WithContext(ctx)
	c.gatherFinancials(gctx, g, &fin)
	c.search(gctx, g, "macro economy and geopolitics market impact today", 6, &macro)
	c.search(gctx, g, "France top news today", 6, &fr)
	c.search(gctx, g, "China top news today", 6, &cn)
	c.search(gctx, g, "world top news today", 6, &world)
	c.search(gctx, g, "AI art business renewable energy EV top news today", 6, &ai)
	c.search(gctx, g, parisDailyEventQuery, 6, &parisEvent)
	g.Go(func() error {
		w, err := c.src.Weather.Paris(gctx)
		if err != nil {
			return fmt.Errorf("weather: %w", err)
		}
		weather = w
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	system := strings.Join([]string{
		"You are a world-class news editor.",
		"Write in a style blending The Economist and The New Yorker: sharp, elegant, slightly witty but easy to read.",
		"Use emoji to label each section like a newspaper.",
		"Always mention the release date of sources when citing.",
		"Keep it brief, actionable, and avoid financial advice.",
		"If data is missing, say so.",
		"Crypto is NOT needed.",
		"Gold must include daily change if available, drivers, and Yahoo Finance references.",
	}, "\n")

	prompt := strings.Join([]string{
		"Date (Paris): " + ParisDate(c.now()),
		"",
		section("Financials:", fin),
		section("Macro/Geopolitics:", macro),
		section("France news:", fr),
		section("China news:", cn),
		section("World news:", world),
		section("AI/Art/Business/Renewables/EV:", ai),
		section("Paris events (from mairie/official sources):", parisEvent),
		section("Paris weather (current + weekly):", weather),
		"Output format:",
		"📈 Financials ...",
		"📰 Macro & Geo ...",
		"🇫🇷 France ...",
		"🇨🇳 China ...",
		"🗺️ World ...",
		"💹 AI/Art/Business/Renewables/EV ...",
		"🥇 Gold focus (daily change if available, drivers, risks) ...",
		"🥖 Paris events (include duration + location if available) ...",
		"🌤️ Paris weather (today + week) ...",
	}, "\n")

	return c.complete(ctx, KindDaily, system, prompt, 0.4, 1400)
}

// AIFinance is the short market and AI business update.
func (c *Composer) AIFinance(ctx context.Context) (string, error) {
	var (
		fin               financials
		ai, macro, trends *SearchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	c.gatherFinancials(gctx, g, &fin)
	c.search(gctx, g, "AI business funding product launches today", 6, &ai)
	c.search(gctx, g, "macro economy market impact today", 6, &macro)
	c.search(gctx, g, "trending stocks market news today", 6, &trends)
	if err := g.Wait(); err != nil {
		return "", err
	}

	system := strings.Join([]string{
		"You are a crisp financial analyst.",
		"Write short, actionable headlines and bullets.",
		"No direct investment advice.",
		"Gold focus is required: daily change if available, drivers, Yahoo Finance references.",
	}, "\n")

	prompt := strings.Join([]string{
		section("Financial snapshot:", fin),
		section("AI business news:", ai),
		section("Macro context:", macro),
		section("Trending stocks/news:", trends),
	}, "\n")

	return c.complete(ctx, KindAIFinance, system, prompt, 0.3, 900)
}

// ParisEvents lists what is on in Paris: the weekend on Fridays, today
// otherwise.
func (c *Composer) ParisEvents(ctx context.Context) (string, error) {
	query, focus := parisTodayQuery, "today"
	if IsParisFriday(c.now()) {
		query, focus = parisWeekendQuery, "weekend"
	}
	events, err := c.src.Search.Search(ctx, query, 8)
	if err != nil {
		return "", fmt.Errorf("search %q: %w", query, err)
	}

	system := strings.Join([]string{
		"You are a Paris cultural editor.",
		"List events with dates, duration, and location if available.",
		"Keep it brief and lively.",
	}, "\n")
	prompt := "Focus: " + focus + "\n" + marshal(events)

	return c.complete(ctx, KindParisEvents, system, prompt, 0.4, 900)
}

const newsEditorPrompt = `你是新闻编辑。规则：
- 只能使用下面提供的新闻条目，禁止编造。
- 选出最重要的 5 条（不足 5 条就按现有数量输出）。
- 用中文输出 Telegram digest，每条必须带链接。
- 每条控制在 2 行以内，越精炼越好。

输出格式：
# 🗞️ Daily Digest（过去24小时）
1) **标题**（来源｜日期）
- 为什么重要：...
- 链接：...

新闻条目：
`

type slimItem struct {
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"publishedAt"`
	Link        string     `json:"link"`
}

// News summarizes the last 24 hours of feed items. With nothing to
// summarize it returns NoDataMessage.
func (c *Composer) News(ctx context.Context) (string, error) {
	items, err := c.src.News.Fetch(ctx, 24, 6)
	if err != nil {
		return "", fmt.Errorf("fetch news: %w", err)
	}
	if len(items) == 0 {
		c.logger.Info("no news items found")
		return NoDataMessage, nil
	}

	slim := make([]slimItem, 0, len(items))
	for i, it := range items {
		if i >= 6 {
			break
		}
		slim = append(slim, slimItem{Title: it.Title, Source: it.Source, PublishedAt: it.PublishedAt, Link: it.Link})
	}

	reply, err := c.llm.Complete(ctx, model.Request{
		Messages:    []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: strings.TrimSpace(newsEditorPrompt + marshal(slim))}},
		Temperature: 0.2,
		MaxTokens:   700,
	})
	if err != nil {
		return "", fmt.Errorf("summarize news: %w", err)
	}
	if reply == "" {
		c.logger.Info("no digest produced")
		return NoDataMessage, nil
	}
	return reply, nil
}

func (c *Composer) complete(ctx context.Context, kind, system, prompt string, temperature float64, maxTokens int) (string, error) {
	c.logger.Info("composing digest", zap.String("kind", kind), zap.Int("prompt_chars", len(prompt)))
	reply, err := c.llm.Complete(ctx, model.Request{
		System:      system,
		Messages:    []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("compose %s: %w", kind, err)
	}
	if reply == "" {
		return "", fmt.Errorf("compose %s: model returned no content", kind)
	}
	return reply, nil
}

func section(title string, v any) string {
	return title + "\n" + marshal(v) + "\n"
}

func marshal(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(data)
}
