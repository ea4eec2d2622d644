// Package news collects recent items from RSS and Atom feeds.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gilbert2046/telegram-digest-bot/internal/config"
	"github.com/gilbert2046/telegram-digest-bot/internal/webpage"
)

// Defaults for Fetch.
const (
	DefaultHours = 24
	DefaultLimit = 60
	snippetChars = 240
)

// ErrAllFeedsFailed means not a single feed could be read.
var ErrAllFeedsFailed = errors.New("all feeds failed")

// Item is one news entry. PublishedAt is nil when the feed gave no date.
type Item struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"publishedAt"`
	Snippet     string     `json:"snippet,omitempty"`
}

// Fetcher reads a fixed list of feeds.
type Fetcher struct {
	feeds  []config.Feed
	client *http.Client
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func WithClock(now func() time.Time) Option { return func(f *Fetcher) { f.now = now } }

func WithLogger(l *zap.Logger) Option { return func(f *Fetcher) { f.logger = l } }

func NewFetcher(feeds []config.Feed, opts ...Option) *Fetcher {
	f := &Fetcher{
		feeds:  feeds,
		client: &http.Client{Timeout: 20 * time.Second},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("news")
	return f
}

// Fetch returns items published within the last hours, deduplicated by link
// (title when there is no link), newest first, at most limit of them.
// Undated items are kept and sort last. A failing feed is skipped; the call
// fails only when every feed fails.
func (f *Fetcher) Fetch(ctx context.Context, hours, limit int) ([]Item, error) {
	if hours <= 0 {
		hours = DefaultHours
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	cutoff := f.now().Add(-time.Duration(hours) * time.Hour)

	perFeed := make([][]Item, len(f.feeds))
	failures := make([]error, len(f.feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, feed := range f.feeds {
		g.Go(func() error {
			items, err := f.fetchFeed(gctx, feed, cutoff)
			if err != nil {
				f.logger.Warn("feed failed", zap.String("feed", feed.Name), zap.Error(err))
				failures[i] = err
				return nil
			}
			perFeed[i] = items
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if len(f.feeds) > 0 && failed == len(f.feeds) {
		return nil, fmt.Errorf("%w: %w", ErrAllFeedsFailed, errors.Join(failures...))
	}

	var all []Item
	for _, items := range perFeed {
		all = append(all, items...)
	}
	out := dedupe(all)
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed config.Feed, cutoff time.Time) ([]Item, error) {
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = "telegram-digest-bot/1.0"
	parsed, err := parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", feed.URL, err)
	}

	source := strings.TrimSpace(parsed.Title)
	if source == "" {
		source = feed.URL
	}
	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		published := it.PublishedParsed
		if published == nil {
			published = it.UpdatedParsed
		}
		if published != nil && published.Before(cutoff) {
			continue
		}
		item := Item{
			Title:   strings.TrimSpace(it.Title),
			Link:    strings.TrimSpace(it.Link),
			Source:  source,
			Snippet: snippet(it.Description),
		}
		if published != nil {
			t := published.UTC()
			item.PublishedAt = &t
		}
		items = append(items, item)
	}
	return items, nil
}

func snippet(description string) string {
	if description == "" {
		return ""
	}
	text := description
	if strings.Contains(description, "<") {
		_, text = webpage.ExtractText(description)
	}
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > snippetChars {
		r = r[:snippetChars]
	}
	return string(r)
}

func dedupe(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		key := it.Link
		if key == "" {
			key = it.Title
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func sortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PublishedAt, items[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
