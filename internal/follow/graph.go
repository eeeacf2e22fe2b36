// Package follow answers who follows whom. Edges live in the store; the graph
// adds the rules the store does not enforce.
package follow

import (
	"context"
	"fmt"
	"sort"

	"example.com/blogfeed/internal/logger"
	"example.com/blogfeed/internal/store"
	"github.com/samber/lo"
)

var logg = logger.New()

// Edges is the part of the store the graph reads and writes.
type Edges interface {
	CreateFollow(ctx context.Context, userID, authorID string) error
	DeleteFollow(ctx context.Context, userID, authorID string) error
	IsFollowing(ctx context.Context, userID, authorID string) (bool, error)
	ListFollowees(ctx context.Context, userID string) ([]string, error)
}

var _ Edges = (store.StoreInterface)(nil)

type Graph struct {
	edges Edges
}

func New(edges Edges) *Graph {
	return &Graph{edges: edges}
}

func (g *Graph) IsFollowing(ctx context.Context, user, author string) (bool, error) {
	if user == author {
		return false, nil
	}
	return g.edges.IsFollowing(ctx, user, author)
}

// Follow records that user follows author. Following yourself and following
// twice are both no-ops.
func (g *Graph) Follow(ctx context.Context, user, author string) error {
	if user == author {
		logg.Debug("follow", "Ignored self-follow")
		return nil
	}
	ok, err := g.edges.IsFollowing(ctx, user, author)
	if err != nil {
		return fmt.Errorf("check follow edge: %w", err)
	}
	if ok {
		return nil
	}
	if err := g.edges.CreateFollow(ctx, user, author); err != nil {
		return fmt.Errorf("create follow edge: %w", err)
	}
	return nil
}

// Unfollow removes the edge; store.ErrNotFound when user was not following.
func (g *Graph) Unfollow(ctx context.Context, user, author string) error {
	if err := g.edges.DeleteFollow(ctx, user, author); err != nil {
		return fmt.Errorf("delete follow edge: %w", err)
	}
	return nil
}

// AuthorsFollowedBy returns the distinct authors user follows, sorted.
func (g *Graph) AuthorsFollowedBy(ctx context.Context, user string) ([]string, error) {
	ids, err := g.edges.ListFollowees(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list followees: %w", err)
	}
	ids = lo.Uniq(lo.Without(ids, user))
	sort.Strings(ids)
	return ids, nil
}
