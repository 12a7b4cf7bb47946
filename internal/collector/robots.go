// Package collector fetches external web content for the agent's tools,
// gated by per-origin robots.txt policy.
package collector

import (
	"context"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"

	"github.com/qiwenz/parley/backend/internal/logging"
)

// RobotsCache caches parsed robots.txt policies keyed by origin
// ("scheme://host[:port]"). A present nil entry means the fetch or parse
// failed and the origin is negatively cached as allow-all, so the failure
// is not retried on every call. One cache is shared by every fetch tool.
type RobotsCache struct {
	mu      sync.Mutex
	entries map[string]*robotstxt.RobotsData
}

// NewRobotsCache creates an empty cache.
func NewRobotsCache() *RobotsCache {
	return &RobotsCache{entries: make(map[string]*robotstxt.RobotsData)}
}

// IsAllowed reports whether rawURL may be fetched under the origin's
// robots.txt. Every failure mode resolves to true: a malformed URL, an
// unreachable robots.txt, or an unparseable body must never block an
// otherwise legitimate fetch.
//
// The lock is released before the network fetch, so two concurrent first
// calls for an unseen origin may both fetch; the last writer wins, which
// is harmless given the fail-open semantics.
func (c *RobotsCache) IsAllowed(ctx context.Context, client Getter, rawURL string) bool {
	origin, path, ok := splitOrigin(rawURL)
	if !ok {
		return true
	}

	c.mu.Lock()
	data, cached := c.entries[origin]
	c.mu.Unlock()
	if cached {
		if data == nil {
			return true
		}
		return data.TestAgent(path, UserAgent)
	}

	body, err := client.Get(ctx, origin+"/robots.txt")
	if err != nil {
		logging.Debug().Str("origin", origin).Err(err).Msg("robots.txt fetch failed, caching allow-all")
		c.store(origin, nil)
		return true
	}

	data, err = robotstxt.FromBytes([]byte(body))
	if err != nil {
		logging.Warn().Str("origin", origin).Err(err).Msg("robots.txt parse failed, caching allow-all")
		c.store(origin, nil)
		return true
	}

	c.store(origin, data)
	return data.TestAgent(path, UserAgent)
}

func (c *RobotsCache) store(origin string, data *robotstxt.RobotsData) {
	c.mu.Lock()
	c.entries[origin] = data
	c.mu.Unlock()
}

// size reports cached origins, for tests.
func (c *RobotsCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// splitOrigin normalizes rawURL into its origin plus the path used for
// policy evaluation. Returns ok=false when the URL cannot be normalized.
func splitOrigin(rawURL string) (origin, path string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}

	path = u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return u.Scheme + "://" + u.Host, path, true
}
