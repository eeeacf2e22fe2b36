package feed

import (
	"context"

	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
)

// Kind names a feed.
type Kind string

const (
	Global    Kind = "global"
	Group     Kind = "group"
	Profile   Kind = "profile"
	Following Kind = "following"
)

func (k Kind) valid() bool {
	switch k {
	case Global, Group, Profile, Following:
		return true
	}
	return false
}

// PerViewer reports whether the feed differs between readers.
func (k Kind) PerViewer() bool { return k == Following }

// Sequence is an ordered, finite post collection that can be read in windows.
// Window returns the posts in [offset, offset+limit) and the length of the
// whole sequence, both from one snapshot.
type Sequence interface {
	Window(ctx context.Context, offset, limit int) ([]models.Post, int, error)
}

// Meta describes what a feed is showing, for rendering.
type Meta struct {
	Kind   Kind
	Group  *models.Group
	Author *models.User
}

// PostSource is the part of the store a query reads.
type PostSource interface {
	Window(ctx context.Context, filter store.PostFilter, order store.OrderKey, offset, limit int) ([]models.Post, int, error)
}

// Query is a lazy feed: building one reads no posts. Every Window call goes
// to the store again, so a Query can be reused.
type Query struct {
	Meta   Meta
	Filter store.PostFilter
	Order  store.OrderKey
	src    PostSource
}

func (q *Query) Window(ctx context.Context, offset, limit int) ([]models.Post, int, error) {
	return q.src.Window(ctx, q.Filter, q.Order, offset, limit)
}
