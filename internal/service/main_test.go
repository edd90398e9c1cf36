package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"penpoint/internal/database"
	"penpoint/internal/models"
	"penpoint/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

var (
	author  = &models.Actor{ID: "author-1", Role: models.RoleUser}
	reader  = &models.Actor{ID: "reader-1", Role: models.RoleUser}
	other   = &models.Actor{ID: "reader-2", Role: models.RoleUser}
	admin   = &models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	longish = "This body is comfortably longer than ten characters."
)

// setupStore returns a store over a private in-memory SQLite database.
func setupStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return repository.NewStore(db)
}

func newServices(t *testing.T) (*PostService, *CommentService, repository.Store) {
	t.Helper()
	store := setupStore(t)
	return NewPostService(store), NewCommentService(store), store
}

func publishPost(t *testing.T, svc *PostService, title string) *models.Post {
	t.Helper()
	post, err := svc.CreatePost(context.Background(), author, CreatePostInput{
		Title:   title,
		Content: longish,
		Status:  models.PostStatusPublished,
	})
	require.NoError(t, err)
	return post
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func strPtr(s string) *string { return &s }

// assertCode asserts that err is an AppError carrying code.
func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code, appErr.Message)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// storeStub is a repository.Store whose repositories are hand-written stubs.
type storeStub struct {
	posts    *postRepoStub
	comments *commentRepoStub
}

func (s *storeStub) Posts() repository.PostRepository       { return s.posts }
func (s *storeStub) Comments() repository.CommentRepository { return s.comments }
func (s *storeStub) Atomically(_ context.Context, fn func(repository.Store) error) error {
	return fn(s)
}

// postRepoStub overrides the methods a test needs; the embedded interface
// is nil, so any other call panics.
type postRepoStub struct {
	repository.PostRepository
	getByIDFn        func(context.Context, string) (*models.Post, error)
	createFn         func(context.Context, *models.Post) error
	incrementViewsFn func(context.Context, string) error
	toggleLikeFn     func(context.Context, string, string) (bool, int, error)
	updateFn         func(context.Context, string, map[string]interface{}) error
	lockFn           func(context.Context, string) error
	recountFn        func(context.Context, string) (int, error)
}

func (s *postRepoStub) GetByID(ctx context.Context, id string) (*models.Post, error) {
	return s.getByIDFn(ctx, id)
}
func (s *postRepoStub) Create(ctx context.Context, p *models.Post) error {
	return s.createFn(ctx, p)
}
func (s *postRepoStub) IncrementViews(ctx context.Context, id string) error {
	return s.incrementViewsFn(ctx, id)
}
func (s *postRepoStub) ToggleLike(ctx context.Context, postID, userID string) (bool, int, error) {
	return s.toggleLikeFn(ctx, postID, userID)
}
func (s *postRepoStub) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.updateFn(ctx, id, fields)
}
func (s *postRepoStub) Lock(ctx context.Context, id string) error {
	return s.lockFn(ctx, id)
}
func (s *postRepoStub) RecountComments(ctx context.Context, id string) (int, error) {
	return s.recountFn(ctx, id)
}

type commentRepoStub struct {
	repository.CommentRepository
	getByIDFn    func(context.Context, string) (*models.Comment, error)
	createFn     func(context.Context, *models.Comment) error
	softDeleteFn func(context.Context, string, time.Time) (bool, error)
}

func (s *commentRepoStub) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	return s.getByIDFn(ctx, id)
}
func (s *commentRepoStub) Create(ctx context.Context, c *models.Comment) error {
	return s.createFn(ctx, c)
}
func (s *commentRepoStub) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.softDeleteFn(ctx, id, at)
}
