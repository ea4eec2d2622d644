// Package webpage fetches a web page and reduces it to readable text.
package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// DefaultTimeout bounds a whole fetch, body included.
const DefaultTimeout = 10 * time.Second

// MaxChars caps the extracted text handed to the model.
const MaxChars = 12000

const maxBody = 2 << 20

var (
	// ErrNoContent means the page timed out or had no readable text.
	ErrNoContent = errors.New("no content")
	// ErrInvalidURL rejects anything but absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Page is the readable part of a fetched document.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads pages.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func WithTimeout(d time.Duration) Option { return func(f *Fetcher) { f.timeout = d } }

func WithLogger(l *zap.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// NewFetcher returns a Fetcher with DefaultTimeout.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{client: &http.Client{}, timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("webpage")
	return f
}

// Fetch downloads rawURL and extracts its text. A timeout or an empty page
// yields ErrNoContent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; telegram-digest-bot/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			f.logger.Info("fetch aborted", zap.String("url", u.String()), zap.Error(ctx.Err()))
			return Page{}, fmt.Errorf("fetch %s: %w", u.Host, ErrNoContent)
		}
		return Page{}, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch %s: HTTP %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, fmt.Errorf("read %s: %w", u.Host, ErrNoContent)
		}
		return Page{}, fmt.Errorf("read %s: %w", u.Host, err)
	}

	page := Page{URL: u.String()}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		page.Text = clean(string(body))
	} else {
		page.Title, page.Text = ExtractText(string(body))
	}
	if page.Text == "" {
		return Page{}, fmt.Errorf("%s: %w", u.Host, ErrNoContent)
	}
	page.Text = truncateRunes(page.Text, MaxChars)
	return page, nil
}

// ExtractText returns the document title and its visible text, skipping
// scripts, styles and page chrome.
func ExtractText(htmlContent string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", ""
	}
	var sb strings.Builder
	walk(doc, &sb, &title, 0)
	return strings.TrimSpace(title), clean(sb.String())
}

func walk(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "form":
			return
		case "title":
			if n.FirstChild != nil && *title == "" {
				*title = n.FirstChild.Data
			}
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "li", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, title, depth+1)
	}
}

func clean(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(multiSpacePattern.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
