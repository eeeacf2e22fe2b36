package feed

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"example.com/blogfeed/internal/models"
)

var ErrInvalidPageSize = errors.New("page size must be positive")

// Page is one window of a feed. Number is the page actually served, after
// clamping the request into [1, TotalPages].
type Page struct {
	Items      []models.Post
	Number     int
	TotalItems int
	TotalPages int
}

func (p Page) HasNext() bool     { return p.Number < p.TotalPages }
func (p Page) HasPrevious() bool { return p.Number > 1 }

// clampRereads bounds how often Paginate re-reads a window that turned out
// to lie past the end of the sequence before it settles for page 1.
const clampRereads = 2

// Paginate reads page number of seq. An empty sequence still has one (empty)
// page. Items and totals of the returned page come from one Window read; when
// the requested page is past the end, the last page is read again.
func Paginate(ctx context.Context, seq Sequence, size, number int) (Page, error) {
	if size <= 0 {
		return Page{}, ErrInvalidPageSize
	}
	number = max(number, 1)

	for reread := 0; ; reread++ {
		items, n, err := seq.Window(ctx, (number-1)*size, size)
		if err != nil {
			return Page{}, err
		}
		pages := max((n+size-1)/size, 1)
		if number <= pages {
			return Page{Items: items, Number: number, TotalItems: n, TotalPages: pages}, nil
		}
		// The sequence shrank under us again; page 1 always exists.
		if reread == clampRereads {
			number = 1
			continue
		}
		number = pages
	}
}

// ParsePageNumber reads a ?page= value. Anything that is not a number means
// the first page.
func ParsePageNumber(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 1
	}
	return n
}
