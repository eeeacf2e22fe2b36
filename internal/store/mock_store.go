package store

import (
	"context"
	"errors"

	"example.com/blogfeed/internal/models"
)

// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

var errMockFail = errors.New("mock store failed")

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) CreateUser(ctx context.Context, username string) (string, error) {
	return "", errMockFail
}

func (m *MockStoreFail) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return models.User{}, errMockFail
}

func (m *MockStoreFail) CreateGroup(ctx context.Context, group models.Group) error {
	return errMockFail
}

func (m *MockStoreFail) GetGroupBySlug(ctx context.Context, slug string) (models.Group, error) {
	return models.Group{}, errMockFail
}

func (m *MockStoreFail) AddPost(ctx context.Context, post models.Post) error {
	return errMockFail
}

func (m *MockStoreFail) GetPost(ctx context.Context, id string) (models.Post, error) {
	return models.Post{}, errMockFail
}

func (m *MockStoreFail) UpdatePost(ctx context.Context, post models.Post) (string, error) {
	return "", errMockFail
}

func (m *MockStoreFail) IndexPost(ctx context.Context, postID string) error {
	return errMockFail
}

func (m *MockStoreFail) Window(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, int, error) {
	return nil, 0, errMockFail
}

func (m *MockStoreFail) CountPosts(ctx context.Context, filter PostFilter) (int, error) {
	return 0, errMockFail
}

func (m *MockStoreFail) ListPosts(ctx context.Context, filter PostFilter, order OrderKey, offset, limit int) ([]models.Post, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) AddComment(ctx context.Context, comment models.Comment) error {
	return errMockFail
}

func (m *MockStoreFail) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) CreateFollow(ctx context.Context, userID, authorID string) error {
	return errMockFail
}

func (m *MockStoreFail) DeleteFollow(ctx context.Context, userID, authorID string) error {
	return errMockFail
}

func (m *MockStoreFail) IsFollowing(ctx context.Context, userID, authorID string) (bool, error) {
	return false, errMockFail
}

func (m *MockStoreFail) ListFollowees(ctx context.Context, userID string) ([]string, error) {
	return nil, errMockFail
}
