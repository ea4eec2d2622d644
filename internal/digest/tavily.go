package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gilbert2046/telegram-digest-bot/internal/control"
)

const tavilyBaseURL = "https://api.tavily.com"

// SearchResult is a Tavily answer.
type SearchResult struct {
	Query   string      `json:"query"`
	Answer  string      `json:"answer,omitempty"`
	Results []SearchHit `json:"results"`
}

// SearchHit is one page returned by a search.
type SearchHit struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score,omitempty"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Tavily is a web search client.
type Tavily struct {
	apiKey string
	opts   options
}

func NewTavily(apiKey string, opts ...Option) *Tavily {
	o := newOptions(tavilyBaseURL, opts)
	o.logger = o.logger.Named("tavily")
	return &Tavily{apiKey: strings.TrimSpace(apiKey), opts: o}
}

type tavilyRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

// Search runs a basic-depth search. 429 and 503 answers are retried with
// the client's backoff policy.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) (*SearchResult, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("%w: TAVILY_API_KEY", ErrMissingKey)
	}
	if maxResults <= 0 {
		maxResults = 6
	}
	payload, err := json.Marshal(tavilyRequest{
		Query:         query,
		SearchDepth:   "basic",
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily marshal: %w", err)
	}

	var out SearchResult
	onRetry := func(attempt int, wait time.Duration, err error) {
		t.opts.logger.Warn("tavily throttled, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err = control.Retry(ctx, t.opts.policy, t.opts.sleep, transientHTTP, onRetry, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.baseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("tavily build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
		out = SearchResult{}
		return doJSON(t.opts.client, req, "tavily", &out)
	})
	if errors.Is(err, control.ErrRetriesExhausted) {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	if err != nil {
		return nil, err
	}
	if out.Query == "" {
		out.Query = query
	}
	return &out, nil
}

// FormatSearch renders a result for chat.
func FormatSearch(res *SearchResult) string {
	if res == nil || (res.Answer == "" && len(res.Results) == 0) {
		return "没有找到结果。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 %s\n", res.Query)
	if res.Answer != "" {
		fmt.Fprintf(&b, "\n%s\n", res.Answer)
	}
	for i, hit := range res.Results {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "\n%d) %s\n%s", i+1, hit.Title, hit.URL)
	}
	return strings.TrimSpace(b.String())
}
