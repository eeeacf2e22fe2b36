package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxGroupTitleLength = 200
	MaxSlugLength       = 100
	MaxCommentLength    = 200
	MaxUsernameLength   = 50
)

// ErrInvalid marks input rejected by model validation.
var ErrInvalid = errors.New("invalid input")

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// ValidateUsername accepts 1-50 letters, digits and @.+-_ characters.
func ValidateUsername(name string) error {
	if len(name) == 0 || len(name) > MaxUsernameLength || !usernamePattern.MatchString(name) {
		return fmt.Errorf("%w: username must be 1-%d letters, digits or @.+-_", ErrInvalid, MaxUsernameLength)
	}
	return nil
}

type Group struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// Validate checks title length and slug shape. Slug must already be set.
func (g Group) Validate() error {
	n := utf8.RuneCountInString(strings.TrimSpace(g.Title))
	if n == 0 || n > MaxGroupTitleLength {
		return fmt.Errorf("%w: group title must be 1-%d characters", ErrInvalid, MaxGroupTitleLength)
	}
	if !ValidSlug(g.Slug) {
		return fmt.Errorf("%w: slug must be 1-%d letters, digits, '-' or '_'", ErrInvalid, MaxSlugLength)
	}
	return nil
}

// Post is a single publication. AuthorName and GroupSlug are copied from the
// author and group at write time; both are immutable on their owners.
type Post struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author"`
	GroupID    string    `json:"group_id,omitempty"`
	GroupSlug  string    `json:"group,omitempty"`
	Text       string    `json:"text"`
	PubDate    time.Time `json:"pub_date"`
}

// Before reports whether p sorts ahead of q in a feed: newer first, and the
// greater id first when publication times are equal.
func (p Post) Before(q Post) bool {
	if !p.PubDate.Equal(q.PubDate) {
		return p.PubDate.After(q.PubDate)
	}
	return p.ID > q.ID
}

func (p Post) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("%w: post text must not be empty", ErrInvalid)
	}
	return nil
}

type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author"`
	Text       string    `json:"text"`
	Created    time.Time `json:"created"`
}

func (c Comment) Validate() error {
	n := utf8.RuneCountInString(strings.TrimSpace(c.Text))
	if n == 0 || utf8.RuneCountInString(c.Text) > MaxCommentLength {
		return fmt.Errorf("%w: comment must be 1-%d characters", ErrInvalid, MaxCommentLength)
	}
	return nil
}

type Follow struct {
	UserID   string `json:"user_id"`
	AuthorID string `json:"author_id"`
}

// Post event types carried on the feed topic.
const (
	PostCreated = "post_created"
	PostUpdated = "post_updated"
)

// PostEvent is the message body published for every post write.
// PrevGroupID is set on updates that moved the post out of a group.
type PostEvent struct {
	Type        string `json:"type"`
	Post        Post   `json:"post"`
	PrevGroupID string `json:"prev_group_id,omitempty"`
}
