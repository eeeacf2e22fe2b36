package store

import (
	"context"
	"sort"
	"sync"

	"example.com/blogfeed/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. It backs STORE_DRIVER=memory
// and most tests, and mirrors the timeline semantics of the database drivers.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]models.User
	usernames map[string]string
	groups    map[string]models.Group
	slugs     map[string]string
	posts     map[string]models.Post
	comments  map[string][]models.Comment
	follows   map[string]map[string]struct{}
	timelines map[string][]timelineEntry
	// indexed is the group each post's timeline entries were written for.
	indexed map[string]string
}

// NewMemory initializes an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]models.User),
		usernames: make(map[string]string),
		groups:    make(map[string]models.Group),
		slugs:     make(map[string]string),
		posts:     make(map[string]models.Post),
		comments:  make(map[string][]models.Comment),
		follows:   make(map[string]map[string]struct{}),
		timelines: make(map[string][]timelineEntry),
		indexed:   make(map[string]string),
	}
}

func (m *MemoryStore) Close() {}

// --- Users ---

func (m *MemoryStore) CreateUser(_ context.Context, username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.usernames[username]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.users[id] = models.User{ID: id, Username: username}
	m.usernames[username] = id
	return id, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return m.users[id], nil
}

// --- Groups ---

func (m *MemoryStore) CreateGroup(_ context.Context, g models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.slugs[g.Slug]; taken {
		return ErrConflict
	}
	m.groups[g.ID] = g
	m.slugs[g.Slug] = g.ID
	return nil
}

func (m *MemoryStore) GetGroupBySlug(_ context.Context, slug string) (models.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.slugs[slug]
	if !ok {
		return models.Group{}, ErrNotFound
	}
	return m.groups[id], nil
}

// --- Posts ---

func (m *MemoryStore) AddPost(_ context.Context, post models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[post.ID] = post
	return nil
}

func (m *MemoryStore) GetPost(_ context.Context, id string) (models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return models.Post{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) UpdatePost(_ context.Context, post models.Post) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.posts[post.ID]
	if !ok {
		return "", ErrNotFound
	}
	prev := cur.GroupID
	cur.Text = post.Text
	cur.GroupID = post.GroupID
	cur.GroupSlug = post.GroupSlug
	m.posts[post.ID] = cur
	return prev, nil
}

func (m *MemoryStore) IndexPost(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[postID]
	if !ok {
		return ErrNotFound
	}
	e := timelineEntry{PubDate: post.PubDate, PostID: post.ID}
	for _, b := range postBuckets(post) {
		m.timelines[b] = insertEntry(m.timelines[b], e)
	}
	if prev := m.indexed[post.ID]; prev != "" && prev != post.GroupID {
		b := groupBucket(prev)
		m.timelines[b] = removeEntry(m.timelines[b], e)
	}
	m.indexed[post.ID] = post.GroupID
	return nil
}

func (m *MemoryStore) CountPosts(_ context.Context, filter PostFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(filter), nil
}

func (m *MemoryStore) ListPosts(_ context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, error) {
	if order != ByRecency {
		return nil, ErrUnsupportedOrder
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter, offset, limit), nil
}

func (m *MemoryStore) Window(_ context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, int, error) {
	if order != ByRecency {
		return nil, 0, ErrUnsupportedOrder
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter, offset, limit), m.countLocked(filter), nil
}

func (m *MemoryStore) countLocked(filter PostFilter) int {
	n := 0
	for _, b := range filter.Buckets() {
		n += len(m.timelines[b])
	}
	return n
}

func (m *MemoryStore) listLocked(filter PostFilter, offset, limit int) []models.Post {
	offset, limit, ok := normalizeWindow(offset, limit)
	if !ok {
		return nil
	}
	var lists [][]timelineEntry
	for _, b := range filter.Buckets() {
		l := m.timelines[b]
		if len(l) > offset+limit {
			l = l[:offset+limit]
		}
		lists = append(lists, l)
	}
	window := mergeTimelines(lists, offset, limit)
	out := make([]models.Post, 0, len(window))
	for _, e := range window {
		if p, ok := m.posts[e.PostID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// insertEntry keeps l ordered and free of duplicates.
func insertEntry(l []timelineEntry, e timelineEntry) []timelineEntry {
	i := sort.Search(len(l), func(i int) bool { return !l[i].before(e) })
	if i < len(l) && l[i].same(e) {
		return l
	}
	l = append(l, timelineEntry{})
	copy(l[i+1:], l[i:])
	l[i] = e
	return l
}

func removeEntry(l []timelineEntry, e timelineEntry) []timelineEntry {
	i := sort.Search(len(l), func(i int) bool { return !l[i].before(e) })
	if i < len(l) && l[i].same(e) {
		return append(l[:i], l[i+1:]...)
	}
	return l
}

// --- Comments ---

func (m *MemoryStore) AddComment(_ context.Context, c models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[c.PostID]; !ok {
		return ErrNotFound
	}
	m.comments[c.PostID] = append(m.comments[c.PostID], c)
	return nil
}

func (m *MemoryStore) ListComments(_ context.Context, postID string) ([]models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.Comment(nil), m.comments[postID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// --- Follows ---

func (m *MemoryStore) CreateFollow(_ context.Context, userID, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.follows[userID] == nil {
		m.follows[userID] = make(map[string]struct{})
	}
	m.follows[userID][authorID] = struct{}{}
	return nil
}

func (m *MemoryStore) DeleteFollow(_ context.Context, userID, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.follows[userID][authorID]; !ok {
		return ErrNotFound
	}
	delete(m.follows[userID], authorID)
	return nil
}

func (m *MemoryStore) IsFollowing(_ context.Context, userID, authorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.follows[userID][authorID]
	return ok, nil
}

func (m *MemoryStore) ListFollowees(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.follows[userID]))
	for id := range m.follows[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
