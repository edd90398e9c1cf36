package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DeletedCommentBody replaces the body of a soft-deleted comment.
const DeletedCommentBody = "[This comment has been deleted]"

const (
	FieldBody      = "body"
	FieldIsEdited  = "is_edited"
	FieldEditedAt  = "edited_at"
	FieldIsDeleted = "is_deleted"
	FieldDeletedAt = "deleted_at"
)

// Comment is a comment on a post. A nil ParentCommentID marks a top-level
// comment; replies point at a top-level comment of the same post.
type Comment struct {
	ID              string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Body            string                      `gorm:"type:text;not null" json:"body"`
	PostID          string                      `gorm:"type:varchar(36);not null;index:idx_comments_post_parent" json:"post_id"`
	AuthorID        string                      `gorm:"type:varchar(36);not null;index" json:"author_id"`
	ParentCommentID *string                     `gorm:"type:varchar(36);index:idx_comments_post_parent" json:"parent_comment_id"`
	Replies         datatypes.JSONSlice[string] `json:"reply_ids"`
	Likes           []CommentLike               `gorm:"foreignKey:CommentID;constraint:OnDelete:CASCADE" json:"likes,omitempty"`
	LikesCount      int                         `gorm:"not null" json:"likes_count"`
	IsEdited        bool                        `gorm:"not null" json:"is_edited"`
	EditedAt        *time.Time                  `json:"edited_at,omitempty"`
	IsDeleted       bool                        `gorm:"not null;index" json:"is_deleted"`
	DeletedAt       *time.Time                  `json:"deleted_at,omitempty"`
	CreatedAt       time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`

	// Thread holds the visible replies of a top-level comment when listed.
	Thread []*Comment `gorm:"-" json:"replies,omitempty"`
}

// BeforeCreate assigns an opaque id when the caller did not supply one.
func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsTopLevel reports whether the comment starts a thread.
func (c *Comment) IsTopLevel() bool {
	return c.ParentCommentID == nil
}

// HasReply reports whether id is linked in the reply sequence.
func (c *Comment) HasReply(id string) bool {
	for _, r := range c.Replies {
		if r == id {
			return true
		}
	}
	return false
}

// CommentLike is one entry of a comment's like set.
type CommentLike struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CommentID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_comment_like_user" json:"-"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_comment_like_user" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
