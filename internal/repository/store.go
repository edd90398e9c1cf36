package repository

import (
	"context"

	"gorm.io/gorm"
)

// gormStore implements Store on a SQL database.
type gormStore struct {
	db       *gorm.DB
	posts    PostRepository
	comments CommentRepository
}

// NewStore returns a Store backed by db (PostgreSQL or SQLite).
func NewStore(db *gorm.DB) Store {
	return &gormStore{
		db:       db,
		posts:    NewPostRepository(db),
		comments: NewCommentRepository(db),
	}
}

func (s *gormStore) Posts() PostRepository       { return s.posts }
func (s *gormStore) Comments() CommentRepository { return s.comments }

// Atomically runs fn inside one database transaction.
func (s *gormStore) Atomically(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
