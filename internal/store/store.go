package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	config "example.com/blogfeed/internal/init"
	"example.com/blogfeed/internal/logger"
	"example.com/blogfeed/internal/models"
)

var logg = logger.New()

var (
	// ErrNotFound is returned when a user, group, post or follow edge does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key (group slug) is already taken.
	ErrConflict = errors.New("already exists")
	// ErrUnsupportedOrder is returned by ListPosts for an unknown order key.
	ErrUnsupportedOrder = errors.New("unsupported order")
)

// OrderKey selects the ordering of ListPosts.
type OrderKey int

const (
	// ByRecency orders by publication date descending, then post id descending.
	ByRecency OrderKey = iota
)

// Scope selects which timeline a PostFilter reads.
type Scope int

const (
	ScopeAll Scope = iota
	ScopeGroup
	ScopeAuthors
)

// PostFilter describes a post set. The zero value selects every post.
type PostFilter struct {
	Scope     Scope
	GroupID   string
	AuthorIDs []string
}

func AllPosts() PostFilter { return PostFilter{Scope: ScopeAll} }

func GroupPosts(groupID string) PostFilter {
	return PostFilter{Scope: ScopeGroup, GroupID: groupID}
}

func AuthorPosts(authorIDs ...string) PostFilter {
	return PostFilter{Scope: ScopeAuthors, AuthorIDs: authorIDs}
}

// Buckets returns the timeline buckets whose union is the filtered set.
// An authors filter with no authors has no buckets.
func (f PostFilter) Buckets() []string {
	switch f.Scope {
	case ScopeGroup:
		return []string{groupBucket(f.GroupID)}
	case ScopeAuthors:
		out := make([]string, 0, len(f.AuthorIDs))
		for _, id := range f.AuthorIDs {
			out = append(out, authorBucket(id))
		}
		return out
	default:
		return []string{globalBucket}
	}
}

// StoreInterface is the persistence collaborator of the feed core.
//
// Posts become visible to ListPosts/CountPosts only once IndexPost has
// projected them into their timeline buckets.
type StoreInterface interface {
	CreateUser(ctx context.Context, username string) (string, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	CreateGroup(ctx context.Context, group models.Group) error
	GetGroupBySlug(ctx context.Context, slug string) (models.Group, error)

	AddPost(ctx context.Context, post models.Post) error
	GetPost(ctx context.Context, id string) (models.Post, error)
	// UpdatePost stores new text and group for an existing post and returns
	// the group id it had before.
	UpdatePost(ctx context.Context, post models.Post) (string, error)
	// IndexPost reads the stored post and projects it into the global, author
	// and current group timelines, dropping it from the group timeline it was
	// indexed in before. The read and the timeline writes are one step, so
	// concurrent calls for a post converge on its stored group. Safe to
	// repeat; ErrNotFound for an unknown post.
	IndexPost(ctx context.Context, postID string) error
	CountPosts(ctx context.Context, filter PostFilter) (int, error)
	ListPosts(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, error)
	// Window is ListPosts plus the CountPosts total, both read from the same
	// snapshot.
	Window(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, int, error)

	AddComment(ctx context.Context, comment models.Comment) error
	ListComments(ctx context.Context, postID string) ([]models.Comment, error)

	CreateFollow(ctx context.Context, userID, authorID string) error
	DeleteFollow(ctx context.Context, userID, authorID string) error
	IsFollowing(ctx context.Context, userID, authorID string) (bool, error)
	ListFollowees(ctx context.Context, userID string) ([]string, error)

	Close()
}

// Open returns the store selected by cfg.StoreDriver.
func Open(cfg *config.Config) (StoreInterface, error) {
	switch cfg.StoreDriver {
	case "", "cassandra":
		return New(cfg)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// --- Timelines ---

const globalBucket = "global"

func groupBucket(id string) string  { return "group:" + id }
func authorBucket(id string) string { return "author:" + id }

// postBuckets lists every timeline a post belongs to.
func postBuckets(p models.Post) []string {
	b := []string{globalBucket, authorBucket(p.AuthorID)}
	if p.GroupID != "" {
		b = append(b, groupBucket(p.GroupID))
	}
	return b
}

type timelineEntry struct {
	PubDate time.Time
	PostID  string
}

func (e timelineEntry) same(o timelineEntry) bool {
	return e.PostID == o.PostID && e.PubDate.Equal(o.PubDate)
}

func (e timelineEntry) before(o timelineEntry) bool {
	if !e.PubDate.Equal(o.PubDate) {
		return e.PubDate.After(o.PubDate)
	}
	return e.PostID > o.PostID
}

// mergeTimelines merges already ordered bucket lists and returns the
// [offset, offset+limit) window of the union. Each list only needs its first
// offset+limit entries.
func mergeTimelines(lists [][]timelineEntry, offset, limit int) []timelineEntry {
	var all []timelineEntry
	for _, l := range lists {
		all = append(all, l...)
	}
	if len(lists) > 1 {
		sort.Slice(all, func(i, j int) bool { return all[i].before(all[j]) })
	}
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func normalizeWindow(offset, limit int) (int, int, bool) {
	if offset < 0 {
		offset = 0
	}
	return offset, limit, limit > 0
}
