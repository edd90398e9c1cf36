// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
	PostStatusArchived  PostStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusPublished, PostStatusArchived:
		return true
	}
	return false
}

// ContentFormat describes how a post body is marked up.
type ContentFormat string

const (
	ContentFormatHTML     ContentFormat = "html"
	ContentFormatMarkdown ContentFormat = "markdown"
)

// DefaultCategory is assigned when a post is created without a category.
const DefaultCategory = "Other"

// Column names shared by the SQL and document stores. Patches passed to
// repository Update methods are keyed by these.
const (
	FieldTitle         = "title"
	FieldContent       = "content"
	FieldContentFormat = "content_format"
	FieldStatus        = "status"
	FieldTags          = "tags"
	FieldCategory      = "category"
	FieldCoverImage    = "cover_image"
	FieldExcerpt       = "excerpt"
	FieldExcerptAuto   = "excerpt_auto"
	FieldReadTime      = "read_time"
	FieldPublishedAt   = "published_at"
	FieldFeatured      = "featured"
	FieldViews         = "views"
	FieldLikesCount    = "likes_count"
	FieldCommentsCount = "comments_count"
	FieldUpdatedAt     = "updated_at"
)

// Post represents a blog post.
type Post struct {
	ID            string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title         string                      `gorm:"size:200;not null" json:"title"`
	Content       string                      `gorm:"type:text;not null" json:"content"`
	ContentFormat ContentFormat               `gorm:"size:16;not null" json:"content_format"`
	Status        PostStatus                  `gorm:"size:16;not null;index" json:"status"`
	AuthorID      string                      `gorm:"type:varchar(36);not null;index" json:"author_id"`
	Tags          datatypes.JSONSlice[string] `json:"tags"`
	Category      string                      `gorm:"size:50;not null;index" json:"category"`
	CoverImage    string                      `json:"cover_image,omitempty"`
	Views         int64                       `gorm:"not null" json:"views"`
	Likes         []PostLike                  `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"likes,omitempty"`
	LikesCount    int                         `gorm:"not null;index" json:"likes_count"`
	CommentsCount int                         `gorm:"not null" json:"comments_count"`
	// Slug is assigned on first save and never recomputed.
	Slug    string `gorm:"size:64;not null;uniqueIndex" json:"slug"`
	Excerpt string `gorm:"size:320" json:"excerpt"`
	// ExcerptAuto marks an excerpt generated from content rather than supplied by the author.
	ExcerptAuto bool       `gorm:"not null" json:"-"`
	ReadTime    int        `gorm:"not null" json:"read_time"`
	PublishedAt *time.Time `gorm:"index" json:"published_at,omitempty"`
	Featured    bool       `gorm:"not null;index" json:"featured"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BeforeCreate assigns an opaque id when the caller did not supply one.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// IsPublished reports whether the post is publicly visible.
func (p *Post) IsPublished() bool {
	return p.Status == PostStatusPublished
}

// LikedBy reports whether userID appears in the loaded like set.
func (p *Post) LikedBy(userID string) bool {
	for _, l := range p.Likes {
		if l.UserID == userID {
			return true
		}
	}
	return false
}

// PostLike is one entry of a post's like set.
// The combination of PostID and UserID must be unique.
type PostLike struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	PostID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_post_like_user" json:"-"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_post_like_user" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// LikeResult is returned by like toggles.
type LikeResult struct {
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likes_count"`
}
