package feed

import (
	"context"
	"errors"
	"fmt"

	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
)

var (
	ErrUnknownFeed    = errors.New("unknown feed")
	ErrViewerRequired = errors.New("feed requires a signed-in viewer")
)

// Lookup resolves feed selectors and reads posts.
type Lookup interface {
	PostSource
	GetGroupBySlug(ctx context.Context, slug string) (models.Group, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// Followees lists the authors a user follows.
type Followees interface {
	AuthorsFollowedBy(ctx context.Context, user string) ([]string, error)
}

// Engine builds the Query behind each feed kind.
type Engine struct {
	store  Lookup
	follow Followees
}

func NewEngine(st Lookup, follow Followees) *Engine {
	return &Engine{store: st, follow: follow}
}

// Request selects one page of one feed. Selector is the group slug for group
// feeds and the username for profile feeds; ViewerID is the reader.
type Request struct {
	Kind     Kind
	Selector string
	Page     int
	ViewerID string
}

func (e *Engine) query(meta Meta, filter store.PostFilter) *Query {
	return &Query{Meta: meta, Filter: filter, Order: store.ByRecency, src: e.store}
}

// GlobalFeed is every post.
func (e *Engine) GlobalFeed(_ context.Context) (*Query, error) {
	return e.query(Meta{Kind: Global}, store.AllPosts()), nil
}

// GroupFeed is every post currently in the group; store.ErrNotFound for an
// unknown slug.
func (e *Engine) GroupFeed(ctx context.Context, slug string) (*Query, error) {
	g, err := e.store.GetGroupBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", slug, err)
	}
	return e.query(Meta{Kind: Group, Group: &g}, store.GroupPosts(g.ID)), nil
}

// ProfileFeed is every post by one author; store.ErrNotFound for an unknown
// username.
func (e *Engine) ProfileFeed(ctx context.Context, username string) (*Query, error) {
	u, err := e.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}
	return e.query(Meta{Kind: Profile, Author: &u}, store.AuthorPosts(u.ID)), nil
}

// FollowingFeed is every post by an author the viewer follows. Following
// nobody gives an empty feed.
func (e *Engine) FollowingFeed(ctx context.Context, viewerID string) (*Query, error) {
	if viewerID == "" {
		return nil, ErrViewerRequired
	}
	authors, err := e.follow.AuthorsFollowedBy(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return e.query(Meta{Kind: Following}, store.AuthorPosts(authors...)), nil
}

// Resolve dispatches on req.Kind.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Query, error) {
	switch req.Kind {
	case Global:
		return e.GlobalFeed(ctx)
	case Group:
		return e.GroupFeed(ctx, req.Selector)
	case Profile:
		return e.ProfileFeed(ctx, req.Selector)
	case Following:
		return e.FollowingFeed(ctx, req.ViewerID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeed, req.Kind)
	}
}
