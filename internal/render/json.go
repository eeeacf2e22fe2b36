// Package render produces the JSON bodies of feed pages.
package render

import (
	"encoding/json"
	"time"

	"example.com/blogfeed/internal/feed"
	"example.com/blogfeed/internal/models"
	"github.com/samber/lo"
)

type postView struct {
	ID      string    `json:"id"`
	Author  string    `json:"author"`
	Group   string    `json:"group,omitempty"`
	Text    string    `json:"text"`
	PubDate time.Time `json:"pub_date"`
}

type groupView struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

type pageView struct {
	Feed        feed.Kind  `json:"feed"`
	Group       *groupView `json:"group,omitempty"`
	Author      string     `json:"author,omitempty"`
	Page        int        `json:"page"`
	TotalPages  int        `json:"total_pages"`
	TotalItems  int        `json:"total_items"`
	HasNext     bool       `json:"has_next"`
	HasPrevious bool       `json:"has_previous"`
	Posts       []postView `json:"posts"`
}

func viewPost(p models.Post, _ int) postView {
	return postView{
		ID:      p.ID,
		Author:  p.AuthorName,
		Group:   p.GroupSlug,
		Text:    p.Text,
		PubDate: p.PubDate,
	}
}

// JSON renders a feed page. It satisfies feed.Renderer.
func JSON(meta feed.Meta, page feed.Page) ([]byte, error) {
	v := pageView{
		Feed:        meta.Kind,
		Page:        page.Number,
		TotalPages:  page.TotalPages,
		TotalItems:  page.TotalItems,
		HasNext:     page.HasNext(),
		HasPrevious: page.HasPrevious(),
		Posts:       lo.Map(page.Items, viewPost),
	}
	if meta.Group != nil {
		v.Group = &groupView{Title: meta.Group.Title, Slug: meta.Group.Slug, Description: meta.Group.Description}
	}
	if meta.Author != nil {
		v.Author = meta.Author.Username
	}
	return json.Marshal(v)
}

var _ feed.Renderer = JSON
