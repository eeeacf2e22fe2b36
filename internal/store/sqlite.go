package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"example.com/blogfeed/internal/models"
	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded single-file driver. Timestamps are stored as
// unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite migrates the database at path and opens it.
func NewSQLite(path string) (*SQLiteStore, error) {
	if err := runSQLiteMigrations(path); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect sqlite database: %w", err)
	}

	logg.Info("store", "Opened SQLite database")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		logg.Error("store", "Failed to close SQLite database", err)
		return
	}
	logg.Info("store", "SQLite database closed")
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, username string) (string, error) {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("users").Cols("id", "username").Values(uuid.NewString(), username)
	q, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		logg.Error("store", "Failed to create user", err)
		return "", err
	}

	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "username").From("users").Where(sb.Equal("username", username))
	q, args := sb.Build()

	var u models.User
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&u.ID, &u.Username); err != nil {
		return models.User{}, notFound(err, "Failed to query user by username")
	}
	return u, nil
}

// --- Groups ---

func (s *SQLiteStore) CreateGroup(ctx context.Context, g models.Group) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("post_groups").
		Cols("id", "title", "slug", "description").
		Values(g.ID, g.Title, g.Slug, g.Description)
	q, args := ib.Build()

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		logg.Error("store", "Failed to create group", err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) GetGroupBySlug(ctx context.Context, slug string) (models.Group, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "title", "slug", "description").From("post_groups").Where(sb.Equal("slug", slug))
	q, args := sb.Build()

	var g models.Group
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&g.ID, &g.Title, &g.Slug, &g.Description); err != nil {
		return models.Group{}, notFound(err, "Failed to query group by slug")
	}
	return g, nil
}

// --- Posts ---

var postColumns = []string{"p.id", "p.author_id", "p.author_name", "p.group_id", "p.group_slug", "p.body", "p.pub_date"}

func scanPost(row interface{ Scan(...any) error }) (models.Post, error) {
	var p models.Post
	var pub int64
	if err := row.Scan(&p.ID, &p.AuthorID, &p.AuthorName, &p.GroupID, &p.GroupSlug, &p.Text, &pub); err != nil {
		return models.Post{}, err
	}
	p.PubDate = time.Unix(0, pub).UTC()
	return p, nil
}

func (s *SQLiteStore) AddPost(ctx context.Context, post models.Post) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("posts").
		Cols("id", "author_id", "author_name", "group_id", "group_slug", "body", "pub_date").
		Values(post.ID, post.AuthorID, post.AuthorName, post.GroupID, post.GroupSlug, post.Text, post.PubDate.UnixNano())
	q, args := ib.Build()

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		logg.Error("store", "Failed to add post", err)
		return err
	}
	return nil
}

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (models.Post, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(postColumns...).From(sb.As("posts", "p")).Where(sb.Equal("p.id", id))
	q, args := sb.Build()

	p, err := scanPost(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return models.Post{}, notFound(err, "Failed to get post")
	}
	return p, nil
}

func (s *SQLiteStore) UpdatePost(ctx context.Context, post models.Post) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("group_id").From("posts").Where(sb.Equal("id", post.ID))
	q, args := sb.Build()
	var prev string
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&prev); err != nil {
		return "", notFound(err, "Failed to read post before update")
	}

	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("posts").
		Set(
			ub.Assign("body", post.Text),
			ub.Assign("group_id", post.GroupID),
			ub.Assign("group_slug", post.GroupSlug),
		).
		Where(ub.Equal("id", post.ID))
	q, args = ub.Build()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		logg.Error("store", "Failed to update post", err)
		return "", err
	}
	return prev, tx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) IndexPost(ctx context.Context, postID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(postColumns...).From(sb.As("posts", "p")).Where(sb.Equal("p.id", postID))
	q, args := sb.Build()
	post, err := scanPost(tx.QueryRowContext(ctx, q, args...))
	if err != nil {
		return notFound(err, "Failed to read post for indexing")
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("timeline").Cols("bucket", "pub_date", "post_id")
	for _, b := range postBuckets(post) {
		ib.Values(b, post.PubDate.UnixNano(), post.ID)
	}
	q, args = ib.Build()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		logg.Error("store", "Failed to index post", err)
		return err
	}

	// Drop the post from every group timeline but its current one.
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom("timeline").Where(
		db.Equal("post_id", post.ID),
		db.Like("bucket", groupBucket("%")),
		db.NotEqual("bucket", groupBucket(post.GroupID)),
	)
	q, args = db.Build()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		logg.Error("store", "Failed to drop post from previous group", err)
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountPosts(ctx context.Context, filter PostFilter) (int, error) {
	return countPosts(ctx, s.db, filter)
}

func (s *SQLiteStore) ListPosts(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, error) {
	if order != ByRecency {
		return nil, ErrUnsupportedOrder
	}
	return listPosts(ctx, s.db, filter, offset, limit)
}

// Window runs the count and the list in one transaction.
func (s *SQLiteStore) Window(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, int, error) {
	if order != ByRecency {
		return nil, 0, ErrUnsupportedOrder
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	n, err := countPosts(ctx, tx, filter)
	if err != nil {
		return nil, 0, err
	}
	posts, err := listPosts(ctx, tx, filter, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return posts, n, tx.Commit()
}

func countPosts(ctx context.Context, db querier, filter PostFilter) (int, error) {
	buckets := filter.Buckets()
	if len(buckets) == 0 {
		return 0, nil
	}
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)").From("timeline").Where(sb.In("bucket", sqlbuilder.Flatten(buckets)...))
	q, args := sb.Build()

	var n int
	if err := db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		logg.Error("store", "Failed to count timeline", err)
		return 0, err
	}
	return n, nil
}

func listPosts(ctx context.Context, db querier, filter PostFilter, offset, limit int) ([]models.Post, error) {
	offset, limit, ok := normalizeWindow(offset, limit)
	buckets := filter.Buckets()
	if !ok || len(buckets) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(postColumns...).
		From(sb.As("timeline", "t")).
		Join(sb.As("posts", "p"), "p.id = t.post_id").
		Where(sb.In("t.bucket", sqlbuilder.Flatten(buckets)...)).
		OrderBy("t.pub_date DESC", "t.post_id DESC").
		Limit(limit).
		Offset(offset)
	q, args := sb.Build()

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		logg.Error("store", "Failed to list posts", err)
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var res []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- Comments ---

func (s *SQLiteStore) AddComment(ctx context.Context, c models.Comment) error {
	if _, err := s.GetPost(ctx, c.PostID); err != nil {
		return err
	}
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("comments").
		Cols("id", "post_id", "author_id", "author_name", "body", "created").
		Values(c.ID, c.PostID, c.AuthorID, c.AuthorName, c.Text, c.Created.UnixNano())
	q, args := ib.Build()

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		logg.Error("store", "Failed to add comment", err)
		return err
	}
	return nil
}

func (s *SQLiteStore) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "post_id", "author_id", "author_name", "body", "created").
		From("comments").
		Where(sb.Equal("post_id", postID)).
		OrderBy("created ASC", "id ASC")
	q, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		logg.Error("store", "Failed to list comments", err)
		return nil, err
	}
	defer rows.Close()

	var res []models.Comment
	for rows.Next() {
		var c models.Comment
		var created int64
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorName, &c.Text, &created); err != nil {
			return nil, err
		}
		c.Created = time.Unix(0, created).UTC()
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- Follows ---

func (s *SQLiteStore) CreateFollow(ctx context.Context, userID, authorID string) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("follows").Cols("user_id", "author_id").Values(userID, authorID)
	q, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		logg.Error("store", "Failed to create follow relationship", err)
		return err
	}
	return nil
}

func (s *SQLiteStore) DeleteFollow(ctx context.Context, userID, authorID string) error {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom("follows").Where(db.Equal("user_id", userID), db.Equal("author_id", authorID))
	q, args := db.Build()

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		logg.Error("store", "Failed to delete follow relationship", err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IsFollowing(ctx context.Context, userID, authorID string) (bool, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)").From("follows").Where(sb.Equal("user_id", userID), sb.Equal("author_id", authorID))
	q, args := sb.Build()

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		logg.Error("store", "Failed to check follow relationship", err)
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListFollowees(ctx context.Context, userID string) ([]string, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("author_id").From("follows").Where(sb.Equal("user_id", userID)).OrderBy("author_id")
	q, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		logg.Error("store", "Failed to get followees", err)
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// notFound maps sql.ErrNoRows to ErrNotFound and logs anything else.
func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	logg.Error("store", msg, err)
	return err
}
