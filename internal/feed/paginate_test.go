package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"example.com/blogfeed/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSeq struct {
	posts []models.Post
	err   error
	reads int
	// shrink drops that many posts from the end before each read.
	shrink int
}

func (s *sliceSeq) Window(_ context.Context, offset, limit int) ([]models.Post, int, error) {
	s.reads++
	if s.err != nil {
		return nil, 0, s.err
	}
	s.posts = s.posts[:max(len(s.posts)-s.shrink, 0)]
	if offset >= len(s.posts) {
		return nil, len(s.posts), nil
	}
	return s.posts[offset:min(offset+limit, len(s.posts))], len(s.posts), nil
}

func numbered(n int) *sliceSeq {
	s := &sliceSeq{}
	for i := 0; i < n; i++ {
		s.posts = append(s.posts, models.Post{ID: fmt.Sprintf("p%02d", i)})
	}
	return s
}

func TestPaginateThirteenPosts(t *testing.T) {
	ctx := context.Background()
	seq := numbered(13)

	first, err := Paginate(ctx, seq, 10, 1)
	require.NoError(t, err)
	assert.Len(t, first.Items, 10)
	assert.Equal(t, 2, first.TotalPages)
	assert.Equal(t, 13, first.TotalItems)
	assert.True(t, first.HasNext())
	assert.False(t, first.HasPrevious())

	second, err := Paginate(ctx, seq, 10, 2)
	require.NoError(t, err)
	assert.Len(t, second.Items, 3)
	assert.Equal(t, "p10", second.Items[0].ID)
	assert.False(t, second.HasNext())
	assert.True(t, second.HasPrevious())
}

func TestPaginateClampsPageNumber(t *testing.T) {
	ctx := context.Background()
	seq := numbered(13)

	cases := []struct {
		requested, served int
	}{
		{-4, 1}, {0, 1}, {1, 1}, {2, 2}, {3, 2}, {99, 2},
	}
	for _, c := range cases {
		t.Run(fmt.Sprint(c.requested), func(t *testing.T) {
			p, err := Paginate(ctx, seq, 10, c.requested)
			require.NoError(t, err)
			assert.Equal(t, c.served, p.Number)
			assert.NotEmpty(t, p.Items)
		})
	}
}

func TestPaginateEmpty(t *testing.T) {
	seq := numbered(0)
	p, err := Paginate(context.Background(), seq, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, Page{Number: 1, TotalItems: 0, TotalPages: 1}, p)
	assert.False(t, p.HasNext())
	assert.False(t, p.HasPrevious())
	assert.Equal(t, 2, seq.reads, "past-the-end request is re-read as page 1")
}

func TestPaginateReadsOneWindowPerPage(t *testing.T) {
	seq := numbered(13)
	_, err := Paginate(context.Background(), seq, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, seq.reads)

	_, err = Paginate(context.Background(), seq, 10, 9)
	require.NoError(t, err)
	assert.Equal(t, 3, seq.reads, "clamping re-reads the last page")
}

func TestPaginateShrinkingSequenceSettles(t *testing.T) {
	seq := numbered(100)
	seq.shrink = 30

	p, err := Paginate(context.Background(), seq, 10, 9)
	require.NoError(t, err)
	assert.LessOrEqual(t, p.Number, p.TotalPages)
	assert.Equal(t, len(seq.posts), p.TotalItems)
	if p.TotalItems > 0 {
		assert.NotEmpty(t, p.Items)
	}
}

func TestPaginateTotals(t *testing.T) {
	for n := 0; n <= 25; n++ {
		for _, size := range []int{1, 3, 10} {
			p, err := Paginate(context.Background(), numbered(n), size, 1)
			require.NoError(t, err)
			want := (n + size - 1) / size
			if n == 0 {
				want = 1
			}
			assert.Equal(t, want, p.TotalPages, "n=%d size=%d", n, size)
			assert.LessOrEqual(t, len(p.Items), size)
		}
	}
}

func TestPaginateIsDeterministic(t *testing.T) {
	seq := numbered(7)
	a, err := Paginate(context.Background(), seq, 3, 2)
	require.NoError(t, err)
	b, err := Paginate(context.Background(), seq, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPaginateInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Paginate(context.Background(), numbered(3), size, 1)
		assert.ErrorIs(t, err, ErrInvalidPageSize)
	}
}

func TestPaginatePropagatesErrors(t *testing.T) {
	boom := errors.New("store down")
	_, err := Paginate(context.Background(), &sliceSeq{err: boom}, 10, 1)
	assert.ErrorIs(t, err, boom)
}

func TestParsePageNumber(t *testing.T) {
	assert.Equal(t, 3, ParsePageNumber("3"))
	assert.Equal(t, 1, ParsePageNumber(""))
	assert.Equal(t, 1, ParsePageNumber("last"))
	assert.Equal(t, 2, ParsePageNumber(" 2 "))
	assert.Equal(t, -1, ParsePageNumber("-1"))
}
