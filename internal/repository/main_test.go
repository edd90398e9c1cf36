package repository

import (
	"context"
	"testing"
	"time"

	"penpoint/internal/database"
	"penpoint/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a migrated in-memory SQLite database private to the test.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), logger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	return gormDB, mock
}

func seedPost(t *testing.T, repo PostRepository, mutate ...func(*models.Post)) *models.Post {
	t.Helper()
	p := &models.Post{
		Title:         "A post",
		Content:       "<p>some words for the body</p>",
		ContentFormat: models.ContentFormatHTML,
		Status:        models.PostStatusPublished,
		AuthorID:      "author-1",
		Category:      models.DefaultCategory,
		Slug:          "post-" + time.Now().Format("150405.000000000"),
		ReadTime:      1,
	}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func seedComment(t *testing.T, repo CommentRepository, postID string, parentID *string) *models.Comment {
	t.Helper()
	c := &models.Comment{
		Body:            "a comment",
		PostID:          postID,
		AuthorID:        "commenter-1",
		ParentCommentID: parentID,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, models.ErrorCode(err), "unexpected error: %v", err)
}
