package feed

import (
	"context"
	"fmt"
	"time"

	"example.com/blogfeed/internal/cache"
	"example.com/blogfeed/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var logg = logger.New()

var buildSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "blogfeed_feed_build_seconds",
	Help:    "Time to resolve, paginate and render a feed page that was not served from cache.",
	Buckets: prometheus.DefBuckets,
}, []string{"feed"})

// Renderer turns a page into response bytes.
type Renderer func(Meta, Page) ([]byte, error)

// DefaultMaxCachedPage is used when Options.MaxCachedPage is not set.
const DefaultMaxCachedPage = 100

// Options configure a Service.
type Options struct {
	PageSize int
	// Cached lists the kinds whose pages go through the page cache.
	Cached map[string]bool
	// MaxCachedPage is the highest page number kept in the cache. Deeper
	// pages are built on every request, which bounds the cache to
	// MaxCachedPage entries per feed selector and viewer.
	MaxCachedPage int
}

// Service serves rendered feed pages, through the page cache for the kinds
// configured to use it.
type Service struct {
	engine   *Engine
	cache    *cache.PageCache
	render   Renderer
	pageSize int
	maxPage  int
	cached   map[Kind]bool
	flight   singleflight.Group
}

func NewService(engine *Engine, pages *cache.PageCache, render Renderer, opts Options) (*Service, error) {
	if opts.PageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	cached := make(map[Kind]bool, len(opts.Cached))
	for name, on := range opts.Cached {
		k := Kind(name)
		if !k.valid() {
			return nil, fmt.Errorf("%w: %q in cache settings", ErrUnknownFeed, name)
		}
		cached[k] = on
	}
	maxPage := opts.MaxCachedPage
	if maxPage <= 0 {
		maxPage = DefaultMaxCachedPage
	}
	return &Service{
		engine:   engine,
		cache:    pages,
		render:   render,
		pageSize: opts.PageSize,
		maxPage:  maxPage,
		cached:   cached,
	}, nil
}

// PageSize is the number of posts per page.
func (s *Service) PageSize() int { return s.pageSize }

func cacheKey(req Request) cache.Key {
	k := cache.Key{Feed: string(req.Kind), Selector: req.Selector, Page: req.Page}
	if req.Kind.PerViewer() {
		k.Viewer = req.ViewerID
	}
	return k
}

// GetFeedPage returns the rendered page. For cached kinds a live cache entry
// wins over the store, so the result may lag recent writes by up to the
// cache TTL. Concurrent misses for one key build the page once; the build is
// detached from any single caller's cancellation, and each caller stops
// waiting when its own ctx is done.
func (s *Service) GetFeedPage(ctx context.Context, req Request) ([]byte, error) {
	if !req.Kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeed, req.Kind)
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if !req.Kind.PerViewer() {
		req.ViewerID = ""
	}
	if s.cache == nil || !s.cached[req.Kind] || req.Page > s.maxPage {
		return s.build(ctx, req)
	}

	key := cacheKey(req)
	if body, ok := s.cache.Get(key); ok {
		return body, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(fmt.Sprintf("%s|%s|%d|%s", key.Feed, key.Selector, key.Page, key.Viewer), func() (interface{}, error) {
		body, err := s.build(buildCtx, req)
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, body, 0)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logg.Debug("feed", "Coalesced concurrent feed page build")
		}
		return res.Val.([]byte), nil
	}
}

func (s *Service) build(ctx context.Context, req Request) ([]byte, error) {
	start := time.Now()
	defer func() { buildSeconds.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds()) }()

	q, err := s.engine.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	page, err := Paginate(ctx, q, s.pageSize, req.Page)
	if err != nil {
		return nil, fmt.Errorf("paginate %s feed: %w", req.Kind, err)
	}
	body, err := s.render(q.Meta, page)
	if err != nil {
		return nil, fmt.Errorf("render %s feed: %w", req.Kind, err)
	}
	return body, nil
}

// FlushCache drops every cached page.
func (s *Service) FlushCache() {
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
}

