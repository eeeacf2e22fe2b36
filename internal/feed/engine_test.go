package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"example.com/blogfeed/internal/follow"
	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st     *store.MemoryStore
	graph  *follow.Graph
	engine *Engine
	users  map[string]string
	groups map[string]models.Group
	n      int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	g := follow.New(st)
	f := &fixture{
		st:     st,
		graph:  g,
		engine: NewEngine(st, g),
		users:  map[string]string{},
		groups: map[string]models.Group{},
	}
	for _, name := range []string{"ann", "bob", "cid"} {
		id, err := st.CreateUser(context.Background(), name)
		require.NoError(t, err)
		f.users[name] = id
	}
	for _, slug := range []string{"cats", "dogs"} {
		grp := models.Group{ID: "grp-" + slug, Title: slug, Slug: slug}
		require.NoError(t, st.CreateGroup(context.Background(), grp))
		f.groups[slug] = grp
	}
	return f
}

// post publishes a post by author, one minute after the previous one.
func (f *fixture) post(t *testing.T, author, group string) models.Post {
	t.Helper()
	f.n++
	p := models.Post{
		ID:         fmt.Sprintf("post-%03d", f.n),
		AuthorID:   f.users[author],
		AuthorName: author,
		Text:       fmt.Sprintf("post %d by %s", f.n, author),
		PubDate:    epoch.Add(time.Duration(f.n) * time.Minute),
	}
	if group != "" {
		p.GroupID, p.GroupSlug = f.groups[group].ID, group
	}
	ctx := context.Background()
	require.NoError(t, f.st.AddPost(ctx, p))
	require.NoError(t, f.st.IndexPost(ctx, p.ID))
	return p
}

func postIDs(posts []models.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func page(t *testing.T, e *Engine, req Request, size int) Page {
	t.Helper()
	q, err := e.Resolve(context.Background(), req)
	require.NoError(t, err)
	p, err := Paginate(context.Background(), q, size, req.Page)
	require.NoError(t, err)
	return p
}

func TestGlobalFeedNewestFirst(t *testing.T) {
	f := newFixture(t)
	a := f.post(t, "ann", "")
	b := f.post(t, "bob", "cats")
	c := f.post(t, "cid", "dogs")

	p := page(t, f.engine, Request{Kind: Global, Page: 1}, 10)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, postIDs(p.Items))
}

func TestGlobalFeedPaginatesThirteenPosts(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 13; i++ {
		f.post(t, "ann", "")
	}

	first := page(t, f.engine, Request{Kind: Global, Page: 1}, 10)
	second := page(t, f.engine, Request{Kind: Global, Page: 2}, 10)
	assert.Len(t, first.Items, 10)
	assert.Len(t, second.Items, 3)
	assert.Equal(t, "post-013", first.Items[0].ID)
	assert.Equal(t, "post-001", second.Items[2].ID)
}

func TestGroupFeed(t *testing.T) {
	f := newFixture(t)
	f.post(t, "ann", "dogs")
	cat := f.post(t, "bob", "cats")
	f.post(t, "cid", "")

	q, err := f.engine.GroupFeed(context.Background(), "cats")
	require.NoError(t, err)
	assert.Equal(t, "cats", q.Meta.Group.Slug)

	p := page(t, f.engine, Request{Kind: Group, Selector: "cats", Page: 1}, 10)
	assert.Equal(t, []string{cat.ID}, postIDs(p.Items))

	_, err = f.engine.GroupFeed(context.Background(), "birds")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEmptyGroupFeedHasOnePage(t *testing.T) {
	f := newFixture(t)
	p := page(t, f.engine, Request{Kind: Group, Selector: "dogs", Page: 3}, 10)
	assert.Empty(t, p.Items)
	assert.Equal(t, 1, p.TotalPages)
	assert.Equal(t, 1, p.Number)
}

func TestProfileFeed(t *testing.T) {
	f := newFixture(t)
	a1 := f.post(t, "ann", "")
	f.post(t, "bob", "")
	a2 := f.post(t, "ann", "cats")

	q, err := f.engine.ProfileFeed(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, "ann", q.Meta.Author.Username)

	p := page(t, f.engine, Request{Kind: Profile, Selector: "ann", Page: 1}, 10)
	assert.Equal(t, []string{a2.ID, a1.ID}, postIDs(p.Items))

	_, err = f.engine.ProfileFeed(context.Background(), "zed")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFollowingFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.users["cid"]

	empty := page(t, f.engine, Request{Kind: Following, ViewerID: viewer, Page: 1}, 10)
	assert.Empty(t, empty.Items)

	a := f.post(t, "ann", "")
	f.post(t, "cid", "")
	b := f.post(t, "bob", "cats")

	require.NoError(t, f.graph.Follow(ctx, viewer, f.users["ann"]))
	require.NoError(t, f.graph.Follow(ctx, viewer, f.users["ann"]))
	require.NoError(t, f.graph.Follow(ctx, viewer, f.users["bob"]))

	p := page(t, f.engine, Request{Kind: Following, ViewerID: viewer, Page: 1}, 10)
	assert.Equal(t, []string{b.ID, a.ID}, postIDs(p.Items), "each followed post exactly once")

	require.NoError(t, f.graph.Unfollow(ctx, viewer, f.users["bob"]))
	p = page(t, f.engine, Request{Kind: Following, ViewerID: viewer, Page: 1}, 10)
	assert.Equal(t, []string{a.ID}, postIDs(p.Items))

	_, err := f.engine.FollowingFeed(ctx, "")
	assert.ErrorIs(t, err, ErrViewerRequired)
}

func TestGroupReassignmentMovesPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, "ann", "cats")

	p.GroupID, p.GroupSlug = f.groups["dogs"].ID, "dogs"
	_, err := f.st.UpdatePost(ctx, p)
	require.NoError(t, err)
	require.NoError(t, f.st.IndexPost(ctx, p.ID))

	cats := page(t, f.engine, Request{Kind: Group, Selector: "cats", Page: 1}, 10)
	dogs := page(t, f.engine, Request{Kind: Group, Selector: "dogs", Page: 1}, 10)
	global := page(t, f.engine, Request{Kind: Global, Page: 1}, 10)
	assert.Empty(t, cats.Items)
	assert.Equal(t, []string{p.ID}, postIDs(dogs.Items))
	assert.Equal(t, []string{p.ID}, postIDs(global.Items))
}

func TestResolveUnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Resolve(context.Background(), Request{Kind: "trending"})
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestQueryIsLazy(t *testing.T) {
	st := &store.MockStoreFail{}
	e := NewEngine(st, follow.New(st))

	q, err := e.GlobalFeed(context.Background())
	require.NoError(t, err, "building a query must not touch the store")

	_, _, err = q.Window(context.Background(), 0, 10)
	assert.Error(t, err)
}

// writeBetween adds a post right before the first window read, the way a
// concurrent writer could land between request arrival and the store read.
type writeBetween struct {
	*store.MemoryStore
	write func()
}

func (w *writeBetween) Window(ctx context.Context, filter store.PostFilter, order store.OrderKey, offset, limit int) ([]models.Post, int, error) {
	if write := w.write; write != nil {
		w.write = nil
		write()
	}
	return w.MemoryStore.Window(ctx, filter, order, offset, limit)
}

func TestConcurrentWriteKeepsPageCoherent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.post(t, "ann", "")
	}
	src := &writeBetween{MemoryStore: f.st, write: func() { f.post(t, "bob", "") }}
	e := NewEngine(src, f.graph)

	p := page(t, e, Request{Kind: Global, Page: 1}, 10)
	assert.Equal(t, 11, p.TotalItems)
	assert.Equal(t, 2, p.TotalPages)
	assert.True(t, p.HasNext())
	assert.Equal(t, "post-011", p.Items[0].ID)
	assert.Equal(t, "post-002", p.Items[9].ID)

	rest := page(t, e, Request{Kind: Global, Page: 2}, 10)
	assert.Equal(t, []string{"post-001"}, postIDs(rest.Items), "no post falls between pages")
}
