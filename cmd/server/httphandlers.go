package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	appkafka "example.com/blogfeed/internal/broker"
	"example.com/blogfeed/internal/feed"
	"example.com/blogfeed/internal/middleware"
	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
	"github.com/google/uuid"
)

// maxSlugAttempts bounds the numeric suffixes tried for a derived group slug.
const maxSlugAttempts = 20

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, module string, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		logg.Error(module, "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as 500.
func writeError(w http.ResponseWriter, module string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, feed.ErrUnknownFeed):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "already exists", http.StatusConflict)
	case errors.Is(err, models.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, feed.ErrViewerRequired):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		logg.Error(module, "Request failed", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// now is truncated to milliseconds, the precision every store keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// --- Users ---

// createUserHandler handles POST /users.
// Expects JSON body: {"username": "example"}
// Returns the existing or new user id and a token for it.
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if !decodeBody(w, r, "http/users", &body) {
		return
	}
	if err := models.ValidateUsername(body.Username); err != nil {
		writeError(w, "http/users", err)
		return
	}

	userID, err := s.store.CreateUser(r.Context(), body.Username)
	if err != nil {
		writeError(w, "http/users", err)
		return
	}
	logg.Info("http/users", "User ready with user_id="+userID)

	token, err := middleware.IssueToken(s.settings.JWTSecret, userID, body.Username, s.settings.TokenTTL)
	if err != nil {
		logg.Error("http/users", "Failed to sign token", err)
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"token":   token,
	})
}

// --- Groups ---

// createGroupHandler handles POST /groups.
// Expects JSON body: {"title": "...", "slug": "optional", "description": "..."}
func (s *Server) createGroupHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string `json:"title"`
		Slug        string `json:"slug"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, "http/groups", &body) {
		return
	}

	g := models.Group{
		ID:          newID(),
		Title:       strings.TrimSpace(body.Title),
		Slug:        body.Slug,
		Description: body.Description,
	}

	var err error
	if g.Slug != "" {
		err = s.createGroup(r, g)
	} else {
		err = s.createGroupWithDerivedSlug(r, &g)
	}
	if err != nil {
		writeError(w, "http/groups", err)
		return
	}

	logg.Info("http/groups", "Group created with slug "+g.Slug)
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) createGroup(r *http.Request, g models.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return s.store.CreateGroup(r.Context(), g)
}

// createGroupWithDerivedSlug claims the title's slug, or the first free
// "-2", "-3", ... variant of it.
func (s *Server) createGroupWithDerivedSlug(r *http.Request, g *models.Group) error {
	base := models.SlugFromTitle(g.Title)
	for n := 1; n <= maxSlugAttempts; n++ {
		g.Slug = base
		if n > 1 {
			g.Slug = models.SuffixedSlug(base, n)
		}
		err := s.createGroup(r, *g)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("no free slug for %q: %w", base, store.ErrConflict)
}

// --- Feeds ---

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, req feed.Request) {
	req.Page = feed.ParsePageNumber(r.URL.Query().Get("page"))
	body, err := s.feeds.GetFeedPage(r.Context(), req)
	if err != nil {
		writeError(w, "http/feed", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) globalFeedHandler(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, feed.Request{Kind: feed.Global})
}

func (s *Server) groupFeedHandler(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, feed.Request{Kind: feed.Group, Selector: r.PathValue("slug")})
}

func (s *Server) profileFeedHandler(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, feed.Request{Kind: feed.Profile, Selector: r.PathValue("username")})
}

func (s *Server) followingFeedHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	s.serveFeed(w, r, feed.Request{Kind: feed.Following, ViewerID: userID})
}

func (s *Server) flushCacheHandler(w http.ResponseWriter, r *http.Request) {
	s.feeds.FlushCache()
	logg.Info("http/admin", "Feed page cache flushed by operator")
	w.WriteHeader(http.StatusNoContent)
}

// --- Posts ---

type postBody struct {
	Text  string `json:"text"`
	Group string `json:"group"`
}

// applyBody copies text and group from the request onto p.
func (s *Server) applyBody(r *http.Request, p *models.Post, body postBody) error {
	p.Text = body.Text
	p.GroupID, p.GroupSlug = "", ""
	if body.Group != "" {
		g, err := s.store.GetGroupBySlug(r.Context(), body.Group)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown group %q", models.ErrInvalid, body.Group)
		}
		if err != nil {
			return err
		}
		p.GroupID, p.GroupSlug = g.ID, g.Slug
	}
	return p.Validate()
}

// createPostHandler stores a post and publishes post_created so the
// timelines pick it up.
// Expects JSON body: {"text": "post content", "group": "optional-slug"}
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	var body postBody
	if !decodeBody(w, r, "http/posts", &body) {
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())

	post := models.Post{
		ID:         newID(),
		AuthorID:   userID,
		AuthorName: middleware.UsernameFromContext(r.Context()),
		PubDate:    now(),
	}
	if err := s.applyBody(r, &post, body); err != nil {
		writeError(w, "http/posts", err)
		return
	}

	if err := s.store.AddPost(r.Context(), post); err != nil {
		writeError(w, "http/posts", err)
		return
	}
	if err := s.publish(r.Context(), models.PostEvent{Type: models.PostCreated, Post: post}); err != nil {
		logg.Error("http/posts", "Post stored but not projected", err)
		http.Error(w, "failed to publish post", http.StatusInternalServerError)
		return
	}

	logg.Info("http/posts", "Post created successfully by user_id="+userID)
	writeJSON(w, http.StatusCreated, post)
}

// publish hands ev to the broker. If that fails the post is projected here,
// so a stored post never stays out of its timelines; the worker indexing it
// again later is harmless.
func (s *Server) publish(ctx context.Context, ev models.PostEvent) error {
	err := appkafka.PublishPostEvent(s.kafkaWriter, ev)
	if err == nil {
		return nil
	}
	logg.Error("http/posts", "Failed to write Kafka message, projecting in-process", err)
	if perr := s.projector.Apply(ctx, ev); perr != nil {
		return fmt.Errorf("%w; in-process projection: %w", err, perr)
	}
	return nil
}

// getPostHandler returns a post with its comments, oldest comment first.
func (s *Server) getPostHandler(w http.ResponseWriter, r *http.Request) {
	post, err := s.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "http/posts", err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), post.ID)
	if err != nil {
		writeError(w, "http/posts", err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"post":     post,
		"comments": comments,
	})
}

// updatePostHandler lets the author change text and group, then publishes
// post_updated with the group the post left.
func (s *Server) updatePostHandler(w http.ResponseWriter, r *http.Request) {
	var body postBody
	if !decodeBody(w, r, "http/posts", &body) {
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())

	post, err := s.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "http/posts", err)
		return
	}
	if post.AuthorID != userID {
		logg.Info("http/posts", "Rejected edit of another author's post by user_id="+userID)
		http.Error(w, "only the author can edit a post", http.StatusForbidden)
		return
	}
	if err := s.applyBody(r, &post, body); err != nil {
		writeError(w, "http/posts", err)
		return
	}

	prev, err := s.store.UpdatePost(r.Context(), post)
	if err != nil {
		writeError(w, "http/posts", err)
		return
	}
	ev := models.PostEvent{Type: models.PostUpdated, Post: post, PrevGroupID: prev}
	if err := s.publish(r.Context(), ev); err != nil {
		logg.Error("http/posts", "Post updated but not projected", err)
		http.Error(w, "failed to publish post", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, post)
}

// addCommentHandler handles POST /posts/{id}/comments.
// Expects JSON body: {"text": "comment"}
func (s *Server) addCommentHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, "http/comments", &body) {
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())

	c := models.Comment{
		ID:         newID(),
		PostID:     r.PathValue("id"),
		AuthorID:   userID,
		AuthorName: middleware.UsernameFromContext(r.Context()),
		Text:       body.Text,
		Created:    now(),
	}
	if err := c.Validate(); err != nil {
		writeError(w, "http/comments", err)
		return
	}
	if err := s.store.AddComment(r.Context(), c); err != nil {
		writeError(w, "http/comments", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// --- Follows ---

func (s *Server) followHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	author, err := s.store.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, "http/follow", err)
		return
	}
	if err := s.graph.Follow(r.Context(), userID, author.ID); err != nil {
		writeError(w, "http/follow", err)
		return
	}

	logg.Info("http/follow", "User "+userID+" followed "+author.ID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	author, err := s.store.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, "http/follow", err)
		return
	}
	if err := s.graph.Unfollow(r.Context(), userID, author.ID); err != nil {
		writeError(w, "http/follow", err)
		return
	}

	logg.Info("http/follow", "User "+userID+" unfollowed "+author.ID)
	w.WriteHeader(http.StatusOK)
}
