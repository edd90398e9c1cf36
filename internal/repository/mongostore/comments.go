package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"penpoint/internal/models"
	"penpoint/internal/observability"
	"penpoint/internal/repository"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type commentDoc struct {
	ID              string     `bson:"_id"`
	Body            string     `bson:"body"`
	PostID          string     `bson:"post_id"`
	AuthorID        string     `bson:"author_id"`
	ParentCommentID *string    `bson:"parent_comment_id"`
	Replies         []string   `bson:"replies"`
	Likes           []likeDoc  `bson:"likes"`
	LikesCount      int        `bson:"likes_count"`
	IsEdited        bool       `bson:"is_edited"`
	EditedAt        *time.Time `bson:"edited_at"`
	IsDeleted       bool       `bson:"is_deleted"`
	DeletedAt       *time.Time `bson:"deleted_at"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

func newCommentDoc(c *models.Comment) commentDoc {
	return commentDoc{
		ID:              c.ID,
		Body:            c.Body,
		PostID:          c.PostID,
		AuthorID:        c.AuthorID,
		ParentCommentID: c.ParentCommentID,
		Replies:         append([]string{}, c.Replies...),
		Likes:           []likeDoc{},
		LikesCount:      c.LikesCount,
		IsEdited:        c.IsEdited,
		EditedAt:        c.EditedAt,
		IsDeleted:       c.IsDeleted,
		DeletedAt:       c.DeletedAt,
		CreatedAt:       toMS(c.CreatedAt),
		UpdatedAt:       toMS(c.UpdatedAt),
	}
}

func (d *commentDoc) model() *models.Comment {
	c := &models.Comment{
		ID:              d.ID,
		Body:            d.Body,
		PostID:          d.PostID,
		AuthorID:        d.AuthorID,
		ParentCommentID: d.ParentCommentID,
		Replies:         append([]string{}, d.Replies...),
		LikesCount:      d.LikesCount,
		IsEdited:        d.IsEdited,
		EditedAt:        d.EditedAt,
		IsDeleted:       d.IsDeleted,
		DeletedAt:       d.DeletedAt,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for _, l := range d.Likes {
		c.Likes = append(c.Likes, models.CommentLike{CommentID: d.ID, UserID: l.UserID, CreatedAt: l.CreatedAt.UTC()})
	}
	return c
}

type commentRepository struct {
	coll *mongodriver.Collection
	log  *observability.RepoLogger
}

var notDeleted = bson.E{Key: models.FieldIsDeleted, Value: false}

func byID(id string) bson.E {
	return bson.E{Key: "_id", Value: id}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) (err error) {
	ctx, end := op(ctx, "insert", commentsCollection)
	defer func() { end(err) }()

	now := toMS(time.Now())
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	if comment.UpdatedAt.IsZero() {
		comment.UpdatedAt = now
	}
	if comment.Replies == nil {
		comment.Replies = []string{}
	}
	if _, err := r.coll.InsertOne(ctx, newCommentDoc(comment)); err != nil {
		return translateError(err, "Comment", comment.ID)
	}
	r.log.LogMutation(ctx, "create", comment.ID)
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (comment *models.Comment, err error) {
	ctx, end := op(ctx, "find", commentsCollection)
	defer func() { end(err) }()

	var d commentDoc
	if err := r.coll.FindOne(ctx, bson.D{byID(id)}).Decode(&d); err != nil {
		return nil, translateError(err, "Comment", id)
	}
	return d.model(), nil
}

func (r *commentRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]*models.Comment, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []commentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*models.Comment, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (r *commentRepository) ListTopLevel(ctx context.Context, postID string, offset, limit int) (comments []*models.Comment, total int64, err error) {
	ctx, end := op(ctx, "find", commentsCollection)
	defer func() { end(err) }()

	filter := bson.D{
		{Key: "post_id", Value: postID},
		{Key: "parent_comment_id", Value: nil},
		notDeleted,
	}
	total, err = r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count comments: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(limitOrDefault(limit))
	comments, err = r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}
	return comments, total, nil
}

func (r *commentRepository) ListReplies(ctx context.Context, parentIDs []string) (replies []*models.Comment, err error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	ctx, end := op(ctx, "find", commentsCollection)
	defer func() { end(err) }()

	filter := bson.D{
		{Key: "parent_comment_id", Value: bson.D{{Key: "$in", Value: parentIDs}}},
		notDeleted,
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	replies, err = r.find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return replies, nil
}

func (r *commentRepository) CountVisible(ctx context.Context, postID string) (n int64, err error) {
	ctx, end := op(ctx, "count", commentsCollection)
	defer func() { end(err) }()

	n, err = r.coll.CountDocuments(ctx, bson.D{{Key: "post_id", Value: postID}, notDeleted})
	if err != nil {
		return 0, fmt.Errorf("count comments of post %s: %w", postID, err)
	}
	return n, nil
}

func (r *commentRepository) Update(ctx context.Context, id string, fields map[string]interface{}) (err error) {
	if len(fields) == 0 {
		return nil
	}
	ctx, end := op(ctx, "update", commentsCollection)
	defer func() { end(err) }()

	res, err := r.coll.UpdateOne(ctx, bson.D{byID(id), notDeleted},
		bson.D{{Key: "$set", Value: setFields(fields, toMS(time.Now()))}})
	if err != nil {
		return translateError(err, "Comment", id)
	}
	if res.MatchedCount == 0 {
		return r.explainMiss(ctx, id)
	}
	r.log.LogMutation(ctx, "update", id)
	return nil
}

func (r *commentRepository) SoftDelete(ctx context.Context, id string, at time.Time) (changed bool, err error) {
	ctx, end := op(ctx, "update", commentsCollection)
	defer func() { end(err) }()

	at = toMS(at)
	res, err := r.coll.UpdateOne(ctx, bson.D{byID(id), notDeleted}, bson.D{{Key: "$set", Value: bson.D{
		{Key: models.FieldIsDeleted, Value: true},
		{Key: models.FieldDeletedAt, Value: at},
		{Key: models.FieldBody, Value: models.DeletedCommentBody},
		{Key: models.FieldUpdatedAt, Value: at},
	}}})
	if err != nil {
		return false, translateError(err, "Comment", id)
	}
	if res.MatchedCount == 0 {
		err := r.explainMiss(ctx, id)
		if errors.Is(err, repository.ErrCommentDeleted) {
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
	var d struct {
		IsDeleted bool `bson:"is_deleted"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: models.FieldIsDeleted, Value: 1}})
	if err := r.coll.FindOne(ctx, bson.D{byID(id)}, opts).Decode(&d); err != nil {
		return translateError(err, "Comment", id)
	}
	if d.IsDeleted {
		return repository.ErrCommentDeleted
	}
	return fmt.Errorf("comment %s: conditional update matched no documents", id)
}

// AppendReply pushes childID unless the parent already lists it.
func (r *commentRepository) AppendReply(ctx context.Context, parentID, childID string) (err error) {
	ctx, end := op(ctx, "update", commentsCollection)
	defer func() { end(err) }()

	res, err := r.coll.UpdateOne(ctx,
		bson.D{byID(parentID), {Key: "replies", Value: bson.D{{Key: "$ne", Value: childID}}}},
		bson.D{{Key: "$push", Value: bson.D{{Key: "replies", Value: childID}}}})
	if err != nil {
		return translateError(err, "Comment", parentID)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.D{byID(parentID)})
	if err != nil {
		return translateError(err, "Comment", parentID)
	}
	if n == 0 {
		return models.NewNotFoundError("Comment", parentID)
	}
	return nil
}

func (r *commentRepository) ToggleLike(ctx context.Context, commentID, userID string) (liked bool, count int, err error) {
	ctx, end := op(ctx, "toggle_like", commentsCollection)
	defer func() { end(err) }()

	liked, count, err = toggleLike(ctx, r.coll, bson.D{byID(commentID), notDeleted}, userID)
	if errors.Is(err, errMissed) {
		return false, 0, r.explainMiss(ctx, commentID)
	}
	if err != nil {
		return false, 0, translateError(err, "Comment", commentID)
	}
	return liked, count, nil
}

func (r *commentRepository) CountLikes(ctx context.Context, commentID string) (int, error) {
	return countLikes(ctx, r.coll, commentID, "Comment")
}

func (r *commentRepository) RecountLikes(ctx context.Context, commentID string) (int, error) {
	return recountLikes(ctx, r.coll, commentID, "Comment")
}

func (r *commentRepository) IDsByPost(ctx context.Context, postID string) (ids []string, err error) {
	ctx, end := op(ctx, "find", commentsCollection)
	defer func() { end(err) }()

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	return scanIDs(ctx, r.coll, bson.D{{Key: "post_id", Value: postID}, notDeleted}, opts)
}

// DeleteByPost removes every comment of the post. Comment likes are
// embedded and go with their documents.
func (r *commentRepository) DeleteByPost(ctx context.Context, postID string) (removed int64, err error) {
	ctx, end := op(ctx, "delete", commentsCollection)
	defer func() { end(err) }()

	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "post_id", Value: postID}})
	if err != nil {
		return 0, fmt.Errorf("delete comments of post %s: %w", postID, err)
	}
	if res.DeletedCount > 0 {
		r.log.LogMutation(ctx, "delete_by_post", postID)
	}
	return res.DeletedCount, nil
}
