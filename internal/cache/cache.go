// Package cache holds rendered feed pages for a bounded time.
//
// Entries are never invalidated by writes. A page is served until its TTL
// runs out or the whole cache is flushed, so readers may see a rendering
// that predates the latest posts by at most the TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"example.com/blogfeed/internal/logger"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var logg = logger.New()

var (
	hits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogfeed_page_cache_hits_total",
		Help: "Feed pages served from the page cache.",
	}, []string{"feed"})
	misses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogfeed_page_cache_misses_total",
		Help: "Feed page lookups that found no live entry.",
	}, []string{"feed"})
	puts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogfeed_page_cache_puts_total",
		Help: "Feed pages stored in the page cache.",
	}, []string{"feed"})
	flushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogfeed_page_cache_flushes_total",
		Help: "Full page cache flushes.",
	})
)

// Key identifies one rendered page. Viewer is empty for feeds that look the
// same to everybody.
type Key struct {
	Feed     string
	Selector string
	Page     int
	Viewer   string
}

type entry struct {
	body    []byte
	expires time.Time
}

// PageCache maps keys to rendered bytes with per-entry expiry.
type PageCache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	ttl     time.Duration
	clock   clockwork.Clock
}

// New returns an empty cache whose Put uses ttl when none is given.
// A nil clock means the wall clock.
func New(ttl time.Duration, clock clockwork.Clock) *PageCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PageCache{
		entries: make(map[Key]entry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the body stored under key while it is still live.
func (c *PageCache) Get(key Key) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(e.expires) {
		misses.WithLabelValues(key.Feed).Inc()
		return nil, false
	}
	hits.WithLabelValues(key.Feed).Inc()
	return e.body, true
}

// Put stores a copy of body under key. ttl <= 0 selects the cache default.
func (c *PageCache) Put(key Key, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := entry{
		body:    append([]byte(nil), body...),
		expires: c.clock.Now().Add(ttl),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	puts.WithLabelValues(key.Feed).Inc()
}

func (c *PageCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[Key]entry)
	c.mu.Unlock()
	flushes.Inc()
	logg.Info("cache", "Page cache flushed")
}

// Len counts stored entries, expired ones included until swept.
func (c *PageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops expired entries and reports how many were removed.
func (c *PageCache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (c *PageCache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := c.Sweep(); n > 0 {
				logg.Debug("cache", "Swept expired feed pages")
			}
		}
	}
}
