package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"penpoint/internal/models"
	"penpoint/internal/observability"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postRepository implements PostRepository on GORM.
type postRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, log: observability.NewRepoLogger(db.Dialector.Name(), "posts")}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if post.Tags == nil {
		post.Tags = datatypes.JSONSlice[string]{}
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		return translateError(err, "Post", post.ID)
	}
	r.log.LogMutation(ctx, "create", post.ID)
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Likes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		Take(&post).Error
	if err != nil {
		return nil, translateError(err, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) GetBySlug(ctx context.Context, slug string) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Likes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("slug = ?", slug).
		Take(&post).Error
	if err != nil {
		return nil, translateError(err, "Post", slug)
	}
	return &post, nil
}

func (r *postRepository) List(ctx context.Context, f PostFilter) ([]*models.Post, int64, error) {
	base := func() *gorm.DB {
		return r.applyFilter(r.db.WithContext(ctx).Model(&models.Post{}), f)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	var posts []*models.Post
	err := applySort(base(), f.Sort).
		Offset(f.Offset).
		Limit(normalizeLimit(f.Limit)).
		Find(&posts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	return posts, total, nil
}

func (r *postRepository) applyFilter(q *gorm.DB, f PostFilter) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.AuthorID != "" {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Featured != nil {
		q = q.Where("featured = ?", *f.Featured)
	}
	if f.Tag != "" {
		q = whereHasTag(q, f.Tag)
	}
	return q
}

// whereHasTag filters on membership in the JSON tags column, which needs
// dialect specific SQL.
func whereHasTag(q *gorm.DB, tag string) *gorm.DB {
	if q.Dialector.Name() == "postgres" {
		raw, _ := json.Marshal([]string{tag})
		return q.Where("posts.tags @> CAST(? AS jsonb)", string(raw))
	}
	return q.Where("EXISTS (SELECT 1 FROM json_each(posts.tags) WHERE json_each.value = ?)", tag)
}

func applySort(q *gorm.DB, sort PostSort) *gorm.DB {
	switch sort {
	case SortPopular:
		return q.Order("views DESC").Order("created_at DESC")
	case SortMostLiked:
		return q.Order("likes_count DESC").Order("created_at DESC")
	default:
		return q.Order("created_at DESC").Order("id DESC")
	}
}

func (r *postRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		if tags, ok := v.([]string); ok && k == models.FieldTags {
			v = datatypes.JSONSlice[string](tags)
		}
		cols[k] = v
	}
	cols[models.FieldUpdatedAt] = time.Now()

	res := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		return translateError(res.Error, "Post", id)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	r.log.LogMutation(ctx, "update", id)
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.PostLike{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Post{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Post", id)
		}
		return nil
	})
	if err != nil {
		return translateError(err, "Post", id)
	}
	r.log.LogMutation(ctx, "delete", id)
	return nil
}

func (r *postRepository) IncrementViews(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumn(models.FieldViews, gorm.Expr("views + ?", 1))
	if res.Error != nil {
		return translateError(res.Error, "Post", id)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	return nil
}

func (r *postRepository) ToggleLike(ctx context.Context, postID, userID string) (bool, int, error) {
	var liked bool
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := lockRow(tx, &post, postID, "id"); err != nil {
			return err
		}

		var err error
		liked, err = toggleLikeRow(tx, &models.PostLike{PostID: postID, UserID: userID}, "post_id", postID, userID)
		if err != nil {
			return err
		}

		count, err = countRows(tx, &models.PostLike{}, "post_id", postID)
		if err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn(models.FieldLikesCount, count).Error
	})
	if err != nil {
		return false, 0, translateError(err, "Post", postID)
	}
	return liked, count, nil
}

func (r *postRepository) CountLikes(ctx context.Context, postID string) (int, error) {
	n, err := countRows(r.db.WithContext(ctx), &models.PostLike{}, "post_id", postID)
	if err != nil {
		return 0, translateError(err, "Post", postID)
	}
	return n, nil
}

// Lock takes the post's row lock for the rest of the surrounding
// transaction. Comment writes take it first so their comment recount
// cannot interleave with another's.
func (r *postRepository) Lock(ctx context.Context, postID string) error {
	var post models.Post
	if err := lockRow(r.db.WithContext(ctx), &post, postID, "id"); err != nil {
		return translateError(err, "Post", postID)
	}
	return nil
}

func (r *postRepository) RecountLikes(ctx context.Context, postID string) (int, error) {
	return r.recount(ctx, postID, models.FieldLikesCount, func(tx *gorm.DB) (int, error) {
		return countRows(tx, &models.PostLike{}, "post_id", postID)
	})
}

func (r *postRepository) RecountComments(ctx context.Context, postID string) (int, error) {
	return r.recount(ctx, postID, models.FieldCommentsCount, func(tx *gorm.DB) (int, error) {
		n, err := NewCommentRepository(tx).CountVisible(ctx, postID)
		return int(n), err
	})
}

// recount locks the post row, counts and writes column in one transaction,
// so it serialises with ToggleLike and with comment writes holding Lock.
// updated_at is left alone.
func (r *postRepository) recount(ctx context.Context, postID, column string, count func(tx *gorm.DB) (int, error)) (int, error) {
	var n int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := lockRow(tx, &post, postID, "id"); err != nil {
			return err
		}
		var err error
		if n, err = count(tx); err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).UpdateColumn(column, n).Error
	})
	if err != nil {
		return 0, translateError(err, "Post", postID)
	}
	return n, nil
}

func (r *postRepository) IDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("scan post ids: %w", err)
	}
	return ids, nil
}

// lockRow loads the given columns of a row, holding a row lock until the
// surrounding transaction ends on drivers that support SELECT ... FOR UPDATE.
// SQLite serialises writers on its own.
func lockRow(tx *gorm.DB, dest interface{}, id string, columns ...string) error {
	q := tx.Select(columns).Where("id = ?", id)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q.Take(dest).Error
}

// toggleLikeRow inserts like unless the (entity, user) row exists, in which
// case that row is removed. It reports whether the entity is now liked.
func toggleLikeRow(tx *gorm.DB, like interface{}, entityColumn, entityID, userID string) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(like)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	err := tx.Where(entityColumn+" = ? AND user_id = ?", entityID, userID).Delete(like).Error
	return false, err
}

func countRows(db *gorm.DB, model interface{}, column, id string) (int, error) {
	var n int64
	if err := db.Model(model).Where(column+" = ?", id).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}
