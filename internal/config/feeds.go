package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Feed is one RSS/Atom source polled by the news digest.
type Feed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DefaultFeeds returns the built-in news sources.
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "Google News AI", URL: "https://news.google.com/rss/search?q=artificial+intelligence&hl=en-US&gl=US&ceid=US:en"},
		{Name: "Google News EU AI regulation", URL: "https://news.google.com/rss/search?q=EU+regulation+AI&hl=en-US&gl=US&ceid=US:en"},
		{Name: "TechCrunch", URL: "https://techcrunch.com/feed/"},
		{Name: "Hacker News", URL: "https://hnrss.org/frontpage"},
	}
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadFeeds reads the feed list from a YAML file. An empty path yields the
// built-in defaults.
//
//	feeds:
//	  - name: TechCrunch
//	    url: https://techcrunch.com/feed/
func LoadFeeds(path string) ([]Feed, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFeeds(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	var f feedsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse feeds file %s: %w", path, err)
	}
	feeds := make([]Feed, 0, len(f.Feeds))
	for i, feed := range f.Feeds {
		feed.URL = strings.TrimSpace(feed.URL)
		if feed.URL == "" {
			return nil, fmt.Errorf("feeds file %s: entry %d has no url", path, i)
		}
		if feed.Name == "" {
			feed.Name = feed.URL
		}
		feeds = append(feeds, feed)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("feeds file %s: no feeds configured", path)
	}
	return feeds, nil
}
