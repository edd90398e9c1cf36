// Package repository provides the record stores for posts and comments.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"penpoint/internal/models"

	"gorm.io/gorm"
)

// PostSort orders post listings.
type PostSort string

const (
	SortNewest    PostSort = "newest"
	SortPopular   PostSort = "popular"
	SortMostLiked PostSort = "most_liked"
)

// ParsePostSort maps a query value to a sort, defaulting to newest.
func ParsePostSort(s string) PostSort {
	switch PostSort(s) {
	case SortPopular, SortMostLiked:
		return PostSort(s)
	default:
		return SortNewest
	}
}

// PostFilter narrows a post listing. Zero values mean "any".
type PostFilter struct {
	Statuses []models.PostStatus
	AuthorID string
	Tag      string
	Category string
	Featured *bool
	Sort     PostSort
	Offset   int
	Limit    int
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	GetBySlug(ctx context.Context, slug string) (*models.Post, error)
	List(ctx context.Context, filter PostFilter) ([]*models.Post, int64, error)
	// Update writes only the given columns, keyed by the models.Field* names.
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	// Delete removes the post and its like set. Comments are removed separately.
	Delete(ctx context.Context, id string) error
	IncrementViews(ctx context.Context, id string) error
	// ToggleLike adds userID to the like set when absent and removes it when
	// present, recomputing likes_count in the same unit.
	ToggleLike(ctx context.Context, postID, userID string) (liked bool, likesCount int, err error)
	CountLikes(ctx context.Context, postID string) (int, error)
	// Lock serialises counter writers of the post until the enclosing
	// Atomically unit ends. A missing post yields NotFound.
	Lock(ctx context.Context, postID string) error
	// RecountLikes and RecountComments rewrite one counter from the
	// collection it summarises as a single serialised store operation and
	// return the stored value.
	RecountLikes(ctx context.Context, postID string) (int, error)
	RecountComments(ctx context.Context, postID string) (int, error)
	// IDsAfter returns up to limit post ids greater than afterID in id order.
	IDsAfter(ctx context.Context, afterID string, limit int) ([]string, error)
}

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	// ListTopLevel returns non-deleted top-level comments of a post, newest first.
	ListTopLevel(ctx context.Context, postID string, offset, limit int) ([]*models.Comment, int64, error)
	// ListReplies returns the non-deleted replies of the given parents.
	ListReplies(ctx context.Context, parentIDs []string) ([]*models.Comment, error)
	// CountVisible counts non-deleted comments of a post.
	CountVisible(ctx context.Context, postID string) (int64, error)
	// Update writes the given columns on a live comment. A deleted comment
	// yields ErrCommentDeleted.
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	// SoftDelete flags the comment and replaces its body. It reports false
	// when the comment was already deleted.
	SoftDelete(ctx context.Context, id string, at time.Time) (bool, error)
	// AppendReply links childID at the end of the parent's reply sequence once.
	AppendReply(ctx context.Context, parentID, childID string) error
	// ToggleLike behaves like PostRepository.ToggleLike and refuses deleted comments.
	ToggleLike(ctx context.Context, commentID, userID string) (liked bool, likesCount int, err error)
	CountLikes(ctx context.Context, commentID string) (int, error)
	RecountLikes(ctx context.Context, commentID string) (int, error)
	// IDsByPost returns the ids of the non-deleted comments of a post.
	IDsByPost(ctx context.Context, postID string) ([]string, error)
	// DeleteByPost physically removes every comment of a post and their likes.
	DeleteByPost(ctx context.Context, postID string) (int64, error)
}

// Store groups the repositories of one backend.
type Store interface {
	Posts() PostRepository
	Comments() CommentRepository
	// Atomically runs fn against a store whose writes commit together where
	// the backend supports it. Backends without multi-document
	// transactions run fn directly, so fn must be safe to retry.
	Atomically(ctx context.Context, fn func(Store) error) error
}

// ErrCommentDeleted reports a write against a soft-deleted comment.
var ErrCommentDeleted = models.NewInvalidStateError("comment has been deleted")

// IsDuplicateKey reports unique constraint violations across the SQL drivers.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "E11000")
}

// translateError maps driver errors onto the application taxonomy.
func translateError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	if IsDuplicateKey(err) {
		return duplicateError(resource)
	}
	return fmt.Errorf("%s %s: %w", strings.ToLower(resource), id, err)
}

func duplicateError(resource string) error {
	if resource == "Post" {
		return models.NewValidationError("a post with this slug already exists",
			models.FieldError{Field: "slug", Message: "slug is already taken"})
	}
	return models.NewValidationError(resource + " already exists")
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}
