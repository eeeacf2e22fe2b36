package store

import (
	"context"
	"errors"
	"time"

	"example.com/blogfeed/internal/models"
	"github.com/gocql/gocql"
)

// --- User operations ---

// GetUserByUsername returns ErrNotFound for an unknown username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	u := models.User{Username: username}
	err := s.Session.Query(
		`SELECT user_id FROM users_by_username WHERE username = ?`,
		username,
	).WithContext(ctx).Scan(&u.ID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.User{}, ErrNotFound
		}
		logg.Error("store", "Failed to query user by username", err)
		return models.User{}, err
	}
	return u, nil
}

// CreateUser creates a new user if the username does not exist.
// Returns the existing user_id if username already exists.
func (s *Store) CreateUser(ctx context.Context, username string) (string, error) {
	existing, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	id := gocql.TimeUUID().String()

	// Claim the username first; the CAS decides races between processes.
	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO users_by_username (username, user_id)
		VALUES (?, ?) IF NOT EXISTS`,
		username, id,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to create username entry", err)
		return "", err
	}

	if !applied {
		existing, err := s.GetUserByUsername(ctx, username)
		return existing.ID, err
	}

	err = s.Session.Query(`
		INSERT INTO users (user_id, username)
		VALUES (?, ?)`,
		id, username,
	).WithContext(ctx).Exec()
	if err != nil {
		logg.Error("store", "Failed to create user in main table", err)
		return "", err
	}

	logg.Info("store", "User created successfully (username anonymized)")
	return id, nil
}

// --- Group operations ---

func (s *Store) CreateGroup(ctx context.Context, g models.Group) error {
	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO post_groups_by_slug (slug, group_id)
		VALUES (?, ?) IF NOT EXISTS`,
		g.Slug, g.ID,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to claim group slug", err)
		return err
	}
	if !applied {
		return ErrConflict
	}

	if err := s.Session.Query(`
		INSERT INTO post_groups (group_id, title, slug, description)
		VALUES (?, ?, ?, ?)`,
		g.ID, g.Title, g.Slug, g.Description,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to create group", err)
		return err
	}

	logg.Info("store", "Group created: "+g.Slug)
	return nil
}

func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (models.Group, error) {
	var id string
	err := s.Session.Query(
		`SELECT group_id FROM post_groups_by_slug WHERE slug = ?`, slug,
	).WithContext(ctx).Scan(&id)
	if err == nil {
		g := models.Group{ID: id}
		err = s.Session.Query(
			`SELECT title, slug, description FROM post_groups WHERE group_id = ?`, id,
		).WithContext(ctx).Scan(&g.Title, &g.Slug, &g.Description)
		if err == nil {
			return g, nil
		}
	}
	if errors.Is(err, gocql.ErrNotFound) {
		return models.Group{}, ErrNotFound
	}
	logg.Error("store", "Failed to query group by slug", err)
	return models.Group{}, err
}

// --- Post operations ---

const selectPost = `SELECT post_id, author_id, author_name, group_id, group_slug, body, pub_date FROM posts`

func (s *Store) AddPost(ctx context.Context, post models.Post) error {
	if err := s.Session.Query(`
		INSERT INTO posts (post_id, author_id, author_name, group_id, group_slug, body, pub_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.AuthorID, post.AuthorName, post.GroupID, post.GroupSlug, post.Text, post.PubDate,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to add post", err)
		return err
	}

	logg.Info("store", "Post added to posts table (post content anonymized)")
	return nil
}

func (s *Store) GetPost(ctx context.Context, id string) (models.Post, error) {
	var p models.Post
	err := s.Session.Query(selectPost+` WHERE post_id = ?`, id).WithContext(ctx).
		Scan(&p.ID, &p.AuthorID, &p.AuthorName, &p.GroupID, &p.GroupSlug, &p.Text, &p.PubDate)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.Post{}, ErrNotFound
		}
		logg.Error("store", "Failed to get post", err)
		return models.Post{}, err
	}
	return p, nil
}

func (s *Store) UpdatePost(ctx context.Context, post models.Post) (string, error) {
	cur, err := s.GetPost(ctx, post.ID)
	if err != nil {
		return "", err
	}
	if err := s.Session.Query(`
		UPDATE posts SET body = ?, group_id = ?, group_slug = ?
		WHERE post_id = ?`,
		post.Text, post.GroupID, post.GroupSlug, post.ID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to update post", err)
		return "", err
	}
	return cur.GroupID, nil
}

// IndexPost writes the post's timeline rows in one logged batch. Cassandra
// has no read-write transaction, so the group the rows were written for is
// kept on the post row and calls for one post are serialized in process;
// the worker routes each post's events to a single processor.
func (s *Store) IndexPost(ctx context.Context, postID string) error {
	mu := s.indexLock(postID)
	mu.Lock()
	defer mu.Unlock()

	var p models.Post
	var indexed string
	err := s.Session.Query(`SELECT post_id, author_id, author_name, group_id, group_slug, body, pub_date, indexed_group FROM posts WHERE post_id = ?`, postID).
		WithContext(ctx).
		Scan(&p.ID, &p.AuthorID, &p.AuthorName, &p.GroupID, &p.GroupSlug, &p.Text, &p.PubDate, &indexed)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return ErrNotFound
		}
		logg.Error("store", "Failed to read post for indexing", err)
		return err
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, b := range postBuckets(p) {
		batch.Query(`INSERT INTO timeline (bucket, pub_date, post_id) VALUES (?, ?, ?)`, b, p.PubDate, p.ID)
	}
	if indexed != "" && indexed != p.GroupID {
		batch.Query(`DELETE FROM timeline WHERE bucket = ? AND pub_date = ? AND post_id = ?`,
			groupBucket(indexed), p.PubDate, p.ID)
	}
	batch.Query(`UPDATE posts SET indexed_group = ? WHERE post_id = ?`, p.GroupID, p.ID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to index post", err)
		return err
	}
	logg.Debug("store", "Post projected into timelines")
	return nil
}

func (s *Store) CountPosts(ctx context.Context, filter PostFilter) (int, error) {
	total := 0
	for _, b := range filter.Buckets() {
		var n int64
		if err := s.Session.Query(
			`SELECT COUNT(*) FROM timeline WHERE bucket = ?`, b,
		).WithContext(ctx).Scan(&n); err != nil {
			logg.Error("store", "Failed to count timeline", err)
			return 0, err
		}
		total += int(n)
	}
	return total, nil
}

// Window counts and then lists. Cassandra offers no snapshot across the
// bucket partitions, so a write landing between the two reads can make the
// total disagree with the window by that write.
func (s *Store) Window(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, int, error) {
	n, err := s.CountPosts(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	posts, err := s.ListPosts(ctx, filter, order, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return posts, n, nil
}

// ListPosts reads offset+limit rows from every bucket of the filter, merges
// them and loads the posts of the requested window.
func (s *Store) ListPosts(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, error) {
	if order != ByRecency {
		return nil, ErrUnsupportedOrder
	}
	offset, limit, ok := normalizeWindow(offset, limit)
	if !ok {
		return nil, nil
	}

	var lists [][]timelineEntry
	for _, b := range filter.Buckets() {
		l, err := s.readTimeline(ctx, b, offset+limit)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}

	window := mergeTimelines(lists, offset, limit)
	if len(window) == 0 {
		return nil, nil
	}
	ids := make([]string, len(window))
	for i, e := range window {
		ids[i] = e.PostID
	}
	return s.getPosts(ctx, ids)
}

func (s *Store) readTimeline(ctx context.Context, bucket string, n int) ([]timelineEntry, error) {
	iter := s.Session.Query(
		`SELECT pub_date, post_id FROM timeline WHERE bucket = ? LIMIT ?`,
		bucket, n,
	).WithContext(ctx).Iter()

	var res []timelineEntry
	var e timelineEntry
	for iter.Scan(&e.PubDate, &e.PostID) {
		res = append(res, e)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to read timeline", err)
		return nil, err
	}
	return res, nil
}

// getPosts loads posts by id and returns them in the order of ids.
func (s *Store) getPosts(ctx context.Context, ids []string) ([]models.Post, error) {
	iter := s.Session.Query(selectPost+` WHERE post_id IN ?`, ids).WithContext(ctx).Iter()

	byID := make(map[string]models.Post, len(ids))
	var p models.Post
	for iter.Scan(&p.ID, &p.AuthorID, &p.AuthorName, &p.GroupID, &p.GroupSlug, &p.Text, &p.PubDate) {
		byID[p.ID] = p
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to load posts", err)
		return nil, err
	}

	res := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// --- Comment operations ---

func (s *Store) AddComment(ctx context.Context, c models.Comment) error {
	if _, err := s.GetPost(ctx, c.PostID); err != nil {
		return err
	}
	if err := s.Session.Query(`
		INSERT INTO comments_by_post (post_id, created, comment_id, author_id, author_name, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.PostID, c.Created, c.ID, c.AuthorID, c.AuthorName, c.Text,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to add comment", err)
		return err
	}
	return nil
}

func (s *Store) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	iter := s.Session.Query(`
		SELECT comment_id, author_id, author_name, body, created
		FROM comments_by_post WHERE post_id = ?`,
		postID,
	).WithContext(ctx).Iter()

	var res []models.Comment
	var id, aid, name, body string
	var created time.Time
	for iter.Scan(&id, &aid, &name, &body, &created) {
		res = append(res, models.Comment{
			ID:         id,
			PostID:     postID,
			AuthorID:   aid,
			AuthorName: name,
			Text:       body,
			Created:    created,
		})
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list comments", err)
		return nil, err
	}
	return res, nil
}

// --- Follow operations ---

func (s *Store) CreateFollow(ctx context.Context, userID, authorID string) error {
	if err := s.Session.Query(
		`INSERT INTO follows (user_id, author_id) VALUES (?, ?)`, userID, authorID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to create follow relationship", err)
		return err
	}

	logg.Info("store", "Follow relationship created (user IDs anonymized)")
	return nil
}

func (s *Store) DeleteFollow(ctx context.Context, userID, authorID string) error {
	ok, err := s.IsFollowing(ctx, userID, authorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := s.Session.Query(
		`DELETE FROM follows WHERE user_id = ? AND author_id = ?`, userID, authorID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to delete follow relationship", err)
		return err
	}
	return nil
}

func (s *Store) IsFollowing(ctx context.Context, userID, authorID string) (bool, error) {
	var id string
	err := s.Session.Query(
		`SELECT author_id FROM follows WHERE user_id = ? AND author_id = ?`, userID, authorID,
	).WithContext(ctx).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		logg.Error("store", "Failed to check follow relationship", err)
		return false, err
	}
	return true, nil
}

func (s *Store) ListFollowees(ctx context.Context, userID string) ([]string, error) {
	iter := s.Session.Query(
		`SELECT author_id FROM follows WHERE user_id = ?`, userID,
	).WithContext(ctx).Iter()

	var id string
	var res []string
	for iter.Scan(&id) {
		res = append(res, id)
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to get followees", err)
		return nil, err
	}
	return res, nil
}
