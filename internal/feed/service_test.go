package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"example.com/blogfeed/internal/cache"
	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idRenderer renders a page as its post ids and counts calls.
type idRenderer struct {
	calls atomic.Int32
}

func (r *idRenderer) render(_ Meta, p Page) ([]byte, error) {
	r.calls.Add(1)
	return []byte(strings.Join(postIDs(p.Items), ",")), nil
}

func newService(t *testing.T, f *fixture, clock clockwork.Clock, cached ...string) (*Service, *idRenderer) {
	t.Helper()
	r := &idRenderer{}
	set := map[string]bool{}
	for _, k := range cached {
		set[k] = true
	}
	svc, err := NewService(f.engine, cache.New(20*time.Second, clock), r.render, Options{PageSize: 10, Cached: set})
	require.NoError(t, err)
	return svc, r
}

func get(t *testing.T, svc *Service, req Request) string {
	t.Helper()
	body, err := svc.GetFeedPage(context.Background(), req)
	require.NoError(t, err)
	return string(body)
}

func TestCachedFeedLagsUntilTTL(t *testing.T) {
	f := newFixture(t)
	clock := clockwork.NewFakeClock()
	svc, r := newService(t, f, clock, "global")
	a := f.post(t, "ann", "")

	global := Request{Kind: Global, Page: 1}
	assert.Equal(t, a.ID, get(t, svc, global))

	b := f.post(t, "bob", "")
	assert.Equal(t, a.ID, get(t, svc, global), "cached rendering predates the write")
	assert.EqualValues(t, 1, r.calls.Load())

	clock.Advance(19 * time.Second)
	assert.Equal(t, a.ID, get(t, svc, global))

	clock.Advance(time.Second)
	assert.Equal(t, b.ID+","+a.ID, get(t, svc, global))
	assert.EqualValues(t, 2, r.calls.Load())
}

func TestFlushCacheShowsWritesImmediately(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f, clockwork.NewFakeClock(), "global")
	a := f.post(t, "ann", "")

	global := Request{Kind: Global, Page: 1}
	assert.Equal(t, a.ID, get(t, svc, global))

	b := f.post(t, "bob", "")
	svc.FlushCache()
	assert.Equal(t, b.ID+","+a.ID, get(t, svc, global))
}

func TestUncachedKindsReadThrough(t *testing.T) {
	f := newFixture(t)
	svc, r := newService(t, f, clockwork.NewFakeClock(), "global")
	cats := Request{Kind: Group, Selector: "cats", Page: 1}

	assert.Equal(t, "", get(t, svc, cats))
	p := f.post(t, "ann", "cats")
	assert.Equal(t, p.ID, get(t, svc, cats))
	assert.EqualValues(t, 2, r.calls.Load())
}

func TestPageNumbersAreCachedSeparately(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f, clockwork.NewFakeClock(), "global")
	for i := 0; i < 13; i++ {
		f.post(t, "ann", "")
	}

	first := get(t, svc, Request{Kind: Global, Page: 1})
	second := get(t, svc, Request{Kind: Global, Page: 2})
	assert.Len(t, strings.Split(first, ","), 10)
	assert.Len(t, strings.Split(second, ","), 3)
	assert.Equal(t, first, get(t, svc, Request{Kind: Global, Page: 0}), "page 0 is page 1")
}

func TestFollowingCacheIsPerViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, _ := newService(t, f, clockwork.NewFakeClock(), "following")
	a := f.post(t, "ann", "")
	b := f.post(t, "bob", "")
	require.NoError(t, f.graph.Follow(ctx, f.users["cid"], f.users["ann"]))
	require.NoError(t, f.graph.Follow(ctx, f.users["bob"], f.users["bob"]))
	require.NoError(t, f.graph.Follow(ctx, f.users["ann"], f.users["bob"]))

	assert.Equal(t, a.ID, get(t, svc, Request{Kind: Following, ViewerID: f.users["cid"], Page: 1}))
	assert.Equal(t, b.ID, get(t, svc, Request{Kind: Following, ViewerID: f.users["ann"], Page: 1}))
	assert.Equal(t, "", get(t, svc, Request{Kind: Following, ViewerID: f.users["bob"], Page: 1}))
}

func TestErrorsAreNotCached(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f, clockwork.NewFakeClock(), "group")
	birds := Request{Kind: Group, Selector: "birds", Page: 1}

	_, err := svc.GetFeedPage(context.Background(), birds)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, f.st.CreateGroup(context.Background(), models.Group{ID: "grp-birds", Title: "Birds", Slug: "birds"}))
	assert.Equal(t, "", get(t, svc, birds))
}

func TestUnknownKind(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f, clockwork.NewFakeClock(), "global")
	_, err := svc.GetFeedPage(context.Background(), Request{Kind: "trending", Page: 1})
	assert.ErrorIs(t, err, ErrUnknownFeed)

	_, err = NewService(f.engine, nil, (&idRenderer{}).render, Options{PageSize: 10, Cached: map[string]bool{"trending": true}})
	assert.ErrorIs(t, err, ErrUnknownFeed)

	_, err = NewService(f.engine, nil, (&idRenderer{}).render, Options{})
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestRenderErrorPropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("template broke")
	svc, err := NewService(f.engine, cache.New(time.Minute, clockwork.NewFakeClock()),
		func(Meta, Page) ([]byte, error) { return nil, boom },
		Options{PageSize: 10, Cached: map[string]bool{"global": true}})
	require.NoError(t, err)

	_, err = svc.GetFeedPage(context.Background(), Request{Kind: Global, Page: 1})
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentReadsAgree(t *testing.T) {
	f := newFixture(t)
	svc, r := newService(t, f, clockwork.NewFakeClock(), "global")
	p := f.post(t, "ann", "")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := svc.GetFeedPage(context.Background(), Request{Kind: Global, Page: 1})
			assert.NoError(t, err)
			assert.Equal(t, p.ID, string(body))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, r.calls.Load(), int32(16))
	assert.GreaterOrEqual(t, r.calls.Load(), int32(1))
}

// gatedSource holds every window read until release is closed, giving up
// early only if the read's own ctx ends.
type gatedSource struct {
	*store.MemoryStore
	started chan struct{}
	release chan struct{}
	reads   atomic.Int32
}

func (g *gatedSource) Window(ctx context.Context, filter store.PostFilter, order store.OrderKey, offset, limit int) ([]models.Post, int, error) {
	if g.reads.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	return g.MemoryStore.Window(ctx, filter, order, offset, limit)
}

func TestCancelledCallerDoesNotFailCoalescedCallers(t *testing.T) {
	f := newFixture(t)
	p := f.post(t, "ann", "")
	src := &gatedSource{MemoryStore: f.st, started: make(chan struct{}), release: make(chan struct{})}
	r := &idRenderer{}
	svc, err := NewService(NewEngine(src, f.graph), cache.New(time.Minute, clockwork.NewFakeClock()), r.render,
		Options{PageSize: 10, Cached: map[string]bool{"global": true}})
	require.NoError(t, err)
	global := Request{Kind: Global, Page: 1}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.GetFeedPage(leaderCtx, global)
		leaderErr <- err
	}()
	<-src.started

	type result struct {
		body []byte
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		body, err := svc.GetFeedPage(context.Background(), global)
		follower <- result{body, err}
	}()

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	// Give the follower time to join the flight before the build finishes.
	time.Sleep(50 * time.Millisecond)
	close(src.release)

	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, p.ID, string(got.body))
	assert.EqualValues(t, 1, src.reads.Load(), "the follower joined the leader's build")
	assert.Equal(t, p.ID, get(t, svc, global), "the finished build was cached")
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestDeepPagesBypassCache(t *testing.T) {
	f := newFixture(t)
	pages := cache.New(time.Minute, clockwork.NewFakeClock())
	r := &idRenderer{}
	svc, err := NewService(f.engine, pages, r.render,
		Options{PageSize: 10, Cached: map[string]bool{"global": true}, MaxCachedPage: 3})
	require.NoError(t, err)
	p := f.post(t, "ann", "")

	for _, n := range []int{4, 50, 1 << 30} {
		assert.Equal(t, p.ID, get(t, svc, Request{Kind: Global, Page: n}), "page %d clamps to the last page", n)
	}
	assert.Zero(t, pages.Len())

	get(t, svc, Request{Kind: Global, Page: 3})
	assert.Equal(t, 1, pages.Len())
	assert.EqualValues(t, 4, r.calls.Load())
}
