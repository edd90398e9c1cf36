package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"penpoint/internal/models"
	"penpoint/internal/observability"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// commentRepository implements CommentRepository on GORM.
type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db, log: observability.NewRepoLogger(db.Dialector.Name(), "comments")}
}

func orderLikes(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.Replies == nil {
		comment.Replies = datatypes.JSONSlice[string]{}
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(comment).Error; err != nil {
		return translateError(err, "Comment", comment.ID)
	}
	r.log.LogMutation(ctx, "create", comment.ID)
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	err := r.db.WithContext(ctx).
		Preload("Likes", orderLikes).
		Where("id = ?", id).
		Take(&comment).Error
	if err != nil {
		return nil, translateError(err, "Comment", id)
	}
	return &comment, nil
}

func (r *commentRepository) ListTopLevel(ctx context.Context, postID string, offset, limit int) ([]*models.Comment, int64, error) {
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Comment{}).
			Where("post_id = ? AND parent_comment_id IS NULL AND is_deleted = ?", postID, false)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count comments: %w", err)
	}

	var comments []*models.Comment
	err := base().
		Preload("Likes", orderLikes).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(normalizeLimit(limit)).
		Find(&comments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}
	return comments, total, nil
}

func (r *commentRepository) ListReplies(ctx context.Context, parentIDs []string) ([]*models.Comment, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var replies []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("Likes", orderLikes).
		Where("parent_comment_id IN ? AND is_deleted = ?", parentIDs, false).
		Order("created_at ASC").
		Find(&replies).Error
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return replies, nil
}

func (r *commentRepository) CountVisible(ctx context.Context, postID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("post_id = ? AND is_deleted = ?", postID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count comments of post %s: %w", postID, err)
	}
	return n, nil
}

func (r *commentRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		cols[k] = v
	}
	cols[models.FieldUpdatedAt] = time.Now()

	res := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND is_deleted = ?", id, false).
		UpdateColumns(cols)
	if res.Error != nil {
		return translateError(res.Error, "Comment", id)
	}
	if res.RowsAffected == 0 {
		return r.explainMiss(ctx, id)
	}
	r.log.LogMutation(ctx, "update", id)
	return nil
}

func (r *commentRepository) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND is_deleted = ?", id, false).
		UpdateColumns(map[string]interface{}{
			models.FieldIsDeleted: true,
			models.FieldDeletedAt: at,
			models.FieldBody:      models.DeletedCommentBody,
			models.FieldUpdatedAt: at,
		})
	if res.Error != nil {
		return false, translateError(res.Error, "Comment", id)
	}
	if res.RowsAffected == 0 {
		err := r.explainMiss(ctx, id)
		if errors.Is(err, ErrCommentDeleted) {
			return false, nil
		}
		return false, err
	}
	r.log.LogMutation(ctx, "soft_delete", id)
	return true, nil
}

// explainMiss distinguishes a missing comment from a deleted one after a
// conditional update matched nothing.
func (r *commentRepository) explainMiss(ctx context.Context, id string) error {
	var c models.Comment
	if err := r.db.WithContext(ctx).Select("id", "is_deleted").Where("id = ?", id).Take(&c).Error; err != nil {
		return translateError(err, "Comment", id)
	}
	if c.IsDeleted {
		return ErrCommentDeleted
	}
	return fmt.Errorf("comment %s: conditional update matched no rows", id)
}

func (r *commentRepository) AppendReply(ctx context.Context, parentID, childID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent models.Comment
		if err := lockRow(tx, &parent, parentID, "id", "replies"); err != nil {
			return err
		}
		if parent.HasReply(childID) {
			return nil
		}
		replies := append(datatypes.JSONSlice[string]{}, parent.Replies...)
		replies = append(replies, childID)
		return tx.Model(&models.Comment{}).Where("id = ?", parentID).
			UpdateColumn("replies", replies).Error
	})
	if err != nil {
		return translateError(err, "Comment", parentID)
	}
	return nil
}

func (r *commentRepository) ToggleLike(ctx context.Context, commentID, userID string) (bool, int, error) {
	var liked bool
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		if err := lockRow(tx, &comment, commentID, "id", "is_deleted"); err != nil {
			return err
		}
		if comment.IsDeleted {
			return ErrCommentDeleted
		}

		var err error
		liked, err = toggleLikeRow(tx, &models.CommentLike{CommentID: commentID, UserID: userID}, "comment_id", commentID, userID)
		if err != nil {
			return err
		}

		count, err = countRows(tx, &models.CommentLike{}, "comment_id", commentID)
		if err != nil {
			return err
		}
		return tx.Model(&models.Comment{}).Where("id = ?", commentID).
			UpdateColumn(models.FieldLikesCount, count).Error
	})
	if err != nil {
		return false, 0, translateError(err, "Comment", commentID)
	}
	return liked, count, nil
}

func (r *commentRepository) CountLikes(ctx context.Context, commentID string) (int, error) {
	n, err := countRows(r.db.WithContext(ctx), &models.CommentLike{}, "comment_id", commentID)
	if err != nil {
		return 0, translateError(err, "Comment", commentID)
	}
	return n, nil
}

// RecountLikes rewrites likes_count from the like rows under the comment's
// row lock, the same lock ToggleLike holds.
func (r *commentRepository) RecountLikes(ctx context.Context, commentID string) (int, error) {
	var n int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		if err := lockRow(tx, &comment, commentID, "id"); err != nil {
			return err
		}
		var err error
		if n, err = countRows(tx, &models.CommentLike{}, "comment_id", commentID); err != nil {
			return err
		}
		return tx.Model(&models.Comment{}).Where("id = ?", commentID).
			UpdateColumn(models.FieldLikesCount, n).Error
	})
	if err != nil {
		return 0, translateError(err, "Comment", commentID)
	}
	return n, nil
}

func (r *commentRepository) DeleteByPost(ctx context.Context, postID string) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&models.Comment{}).Select("id").Where("post_id = ?", postID)
		if err := tx.Where("comment_id IN (?)", ids).Delete(&models.CommentLike{}).Error; err != nil {
			return err
		}
		res := tx.Where("post_id = ?", postID).Delete(&models.Comment{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete comments of post %s: %w", postID, err)
	}
	if removed > 0 {
		r.log.LogMutation(ctx, "delete_by_post", postID)
	}
	return removed, nil
}

func (r *commentRepository) IDsByPost(ctx context.Context, postID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("post_id = ? AND is_deleted = ?", postID, false).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("scan comment ids of post %s: %w", postID, err)
	}
	return ids, nil
}
