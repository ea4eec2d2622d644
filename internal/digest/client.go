// Package digest gathers market, search and weather data and composes the
// scheduled digests.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gilbert2046/telegram-digest-bot/internal/control"
)

// ErrMissingKey means a data source has no API key configured.
var ErrMissingKey = errors.New("missing api key")

// HTTPError is a non-2xx answer from a data source.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s error: HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s error: HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed if retried.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

func transientHTTP(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Transient()
}

type options struct {
	client  *http.Client
	baseURL string
	policy  control.RetryPolicy
	sleep   control.SleepFunc
	logger  *zap.Logger
}

// Option configures a data source client.
type Option func(*options)

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// WithBaseURL points the client at another endpoint, e.g. a test server.
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = strings.TrimRight(u, "/") } }

func WithRetryPolicy(p control.RetryPolicy) Option { return func(o *options) { o.policy = p } }

func WithSleep(fn control.SleepFunc) Option { return func(o *options) { o.sleep = fn } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

func newOptions(baseURL string, opts []Option) options {
	o := options{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		policy:  control.DefaultRetryPolicy(),
		sleep:   control.Sleep,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// doJSON sends req and decodes a 2xx body into out.
func doJSON(client *http.Client, req *http.Request, service string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s read body: %w", service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Service: service, StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), 300)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s decode: %w", service, err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func getJSON(ctx context.Context, o options, service, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s build request: %w", service, err)
	}
	return doJSON(o.client, req, service, out)
}
