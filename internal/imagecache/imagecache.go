// Package imagecache remembers the last uploaded image of each conversation
// for a short time so a later instruction can edit it.
package imagecache

import (
	"errors"
	"os"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultTTL is how long an uploaded image stays editable.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNoImage means nothing was uploaded in this conversation.
	ErrNoImage = errors.New("no cached image")
	// ErrImageExpired means the cached image outlived the TTL and was evicted.
	ErrImageExpired = errors.New("cached image expired")
)

// expiredNoticeTTL bounds how long a swept conversation still reports
// ErrImageExpired instead of ErrNoImage.
const expiredNoticeTTL = time.Hour

type entry struct {
	Path       string
	CapturedAt time.Time
}

// Cache holds one image per conversation.
//
// Freshness is judged against the injected clock. Entries nobody asks for
// again are swept by the go-cache janitor after twice the TTL; their files
// are removed and the conversation is remembered as expired so the next
// Take still reports ErrImageExpired.
type Cache struct {
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	items   *gocache.Cache
	expired *gocache.Cache
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New returns a cache whose entries are valid for ttl.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		logger:  zap.NewNop(),
		items:   gocache.New(gocache.NoExpiration, ttl),
		expired: gocache.New(expiredNoticeTTL, expiredNoticeTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("imagecache")
	c.items.OnEvicted(func(key string, v interface{}) {
		c.expired.SetDefault(key, struct{}{})
		if e, ok := v.(entry); ok {
			c.removeFile(e.Path)
		}
	})
	return c
}

// Put stores path for the conversation, replacing any earlier image.
func (c *Cache) Put(conversationID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Entries past their retention are invisible to Get; sweep them first so
	// their files go away.
	c.items.DeleteExpired()
	prev, had := c.items.Get(conversationID)
	c.items.Set(conversationID, entry{Path: path, CapturedAt: c.now()}, 2*c.ttl)
	c.expired.Delete(conversationID)
	if had {
		if old := prev.(entry); old.Path != path {
			c.removeFile(old.Path)
		}
	}
}

// Take returns the cached path while it is fresh. The entry stays in place
// so the same image can be edited repeatedly within the TTL. Expiry is
// reported once; after that the slot reads as empty.
func (c *Cache) Take(conversationID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items.Get(conversationID)
	if !ok {
		c.items.DeleteExpired()
		if _, gone := c.expired.Get(conversationID); gone {
			c.expired.Delete(conversationID)
			return "", ErrImageExpired
		}
		return "", ErrNoImage
	}
	e := v.(entry)
	if c.now().Sub(e.CapturedAt) > c.ttl {
		c.items.Delete(conversationID)
		c.expired.Delete(conversationID)
		return "", ErrImageExpired
	}
	return e.Path, nil
}

// Len reports how many conversations hold a fresh image.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, it := range c.items.Items() {
		if e, ok := it.Object.(entry); ok && now.Sub(e.CapturedAt) <= c.ttl {
			n++
		}
	}
	return n
}
func (c *Cache) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove cached image failed", zap.String("path", path), zap.Error(err))
	}
}
