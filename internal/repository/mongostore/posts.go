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

type likeDoc struct {
	UserID    string    `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type postDoc struct {
	ID            string     `bson:"_id"`
	Title         string     `bson:"title"`
	Content       string     `bson:"content"`
	ContentFormat string     `bson:"content_format"`
	Status        string     `bson:"status"`
	AuthorID      string     `bson:"author_id"`
	Tags          []string   `bson:"tags"`
	Category      string     `bson:"category"`
	CoverImage    string     `bson:"cover_image,omitempty"`
	Views         int64      `bson:"views"`
	Likes         []likeDoc  `bson:"likes"`
	LikesCount    int        `bson:"likes_count"`
	CommentsCount int        `bson:"comments_count"`
	Slug          string     `bson:"slug"`
	Excerpt       string     `bson:"excerpt"`
	ExcerptAuto   bool       `bson:"excerpt_auto"`
	ReadTime      int        `bson:"read_time"`
	PublishedAt   *time.Time `bson:"published_at"`
	Featured      bool       `bson:"featured"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

func newPostDoc(p *models.Post) postDoc {
	d := postDoc{
		ID:            p.ID,
		Title:         p.Title,
		Content:       p.Content,
		ContentFormat: string(p.ContentFormat),
		Status:        string(p.Status),
		AuthorID:      p.AuthorID,
		Tags:          append([]string{}, p.Tags...),
		Category:      p.Category,
		CoverImage:    p.CoverImage,
		Views:         p.Views,
		Likes:         []likeDoc{},
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		Slug:          p.Slug,
		Excerpt:       p.Excerpt,
		ExcerptAuto:   p.ExcerptAuto,
		ReadTime:      p.ReadTime,
		Featured:      p.Featured,
		CreatedAt:     toMS(p.CreatedAt),
		UpdatedAt:     toMS(p.UpdatedAt),
	}
	if p.PublishedAt != nil {
		t := toMS(*p.PublishedAt)
		d.PublishedAt = &t
	}
	for _, l := range p.Likes {
		d.Likes = append(d.Likes, likeDoc{UserID: l.UserID, CreatedAt: toMS(l.CreatedAt)})
	}
	return d
}

func (d *postDoc) model() *models.Post {
	p := &models.Post{
		ID:            d.ID,
		Title:         d.Title,
		Content:       d.Content,
		ContentFormat: models.ContentFormat(d.ContentFormat),
		Status:        models.PostStatus(d.Status),
		AuthorID:      d.AuthorID,
		Tags:          append([]string{}, d.Tags...),
		Category:      d.Category,
		CoverImage:    d.CoverImage,
		Views:         d.Views,
		LikesCount:    d.LikesCount,
		CommentsCount: d.CommentsCount,
		Slug:          d.Slug,
		Excerpt:       d.Excerpt,
		ExcerptAuto:   d.ExcerptAuto,
		ReadTime:      d.ReadTime,
		Featured:      d.Featured,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.PublishedAt != nil {
		t := d.PublishedAt.UTC()
		p.PublishedAt = &t
	}
	for _, l := range d.Likes {
		p.Likes = append(p.Likes, models.PostLike{PostID: d.ID, UserID: l.UserID, CreatedAt: l.CreatedAt.UTC()})
	}
	return p
}

type postRepository struct {
	coll     *mongodriver.Collection
	comments *mongodriver.Collection
	log      *observability.RepoLogger
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) (err error) {
	ctx, end := op(ctx, "insert", postsCollection)
	defer func() { end(err) }()

	now := toMS(time.Now())
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = now
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	if _, err := r.coll.InsertOne(ctx, newPostDoc(post)); err != nil {
		return translateError(err, "Post", post.ID)
	}
	r.log.LogMutation(ctx, "create", post.ID)
	return nil
}

func (r *postRepository) findOne(ctx context.Context, filter bson.D, key string) (post *models.Post, err error) {
	ctx, end := op(ctx, "find", postsCollection)
	defer func() { end(err) }()

	var d postDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		return nil, translateError(err, "Post", key)
	}
	return d.model(), nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}}, id)
}

func (r *postRepository) GetBySlug(ctx context.Context, slug string) (*models.Post, error) {
	return r.findOne(ctx, bson.D{{Key: "slug", Value: slug}}, slug)
}

func postFilter(f repository.PostFilter) bson.D {
	filter := bson.D{}
	if len(f.Statuses) > 0 {
		statuses := make(bson.A, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		filter = append(filter, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: statuses}}})
	}
	if f.AuthorID != "" {
		filter = append(filter, bson.E{Key: "author_id", Value: f.AuthorID})
	}
	if f.Category != "" {
		filter = append(filter, bson.E{Key: "category", Value: f.Category})
	}
	if f.Featured != nil {
		filter = append(filter, bson.E{Key: "featured", Value: *f.Featured})
	}
	if f.Tag != "" {
		filter = append(filter, bson.E{Key: "tags", Value: f.Tag})
	}
	return filter
}

func postSort(sort repository.PostSort) bson.D {
	switch sort {
	case repository.SortPopular:
		return bson.D{{Key: "views", Value: -1}, {Key: "created_at", Value: -1}}
	case repository.SortMostLiked:
		return bson.D{{Key: "likes_count", Value: -1}, {Key: "created_at", Value: -1}}
	default:
		return bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	}
}

func (r *postRepository) List(ctx context.Context, f repository.PostFilter) (posts []*models.Post, total int64, err error) {
	ctx, end := op(ctx, "find", postsCollection)
	defer func() { end(err) }()

	filter := postFilter(f)
	total, err = r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	opts := options.Find().
		SetSort(postSort(f.Sort)).
		SetSkip(int64(f.Offset)).
		SetLimit(limitOrDefault(f.Limit)).
		SetProjection(bson.D{{Key: "likes", Value: 0}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var d postDoc
		if err := cur.Decode(&d); err != nil {
			return nil, 0, fmt.Errorf("decode post: %w", err)
		}
		posts = append(posts, d.model())
	}
	if err := cur.Err(); err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	return posts, total, nil
}

func (r *postRepository) Update(ctx context.Context, id string, fields map[string]interface{}) (err error) {
	if len(fields) == 0 {
		return nil
	}
	ctx, end := op(ctx, "update", postsCollection)
	defer func() { end(err) }()

	res, err := r.coll.UpdateByID(ctx, id, bson.D{{Key: "$set", Value: setFields(fields, toMS(time.Now()))}})
	if err != nil {
		return translateError(err, "Post", id)
	}
	if res.MatchedCount == 0 {
		return models.NewNotFoundError("Post", id)
	}
	r.log.LogMutation(ctx, "update", id)
	return nil
}

// Delete removes the post document; its likes are embedded and go with it.
func (r *postRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := op(ctx, "delete", postsCollection)
	defer func() { end(err) }()

	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return translateError(err, "Post", id)
	}
	if res.DeletedCount == 0 {
		return models.NewNotFoundError("Post", id)
	}
	r.log.LogMutation(ctx, "delete", id)
	return nil
}

func (r *postRepository) IncrementViews(ctx context.Context, id string) (err error) {
	ctx, end := op(ctx, "update", postsCollection)
	defer func() { end(err) }()

	res, err := r.coll.UpdateByID(ctx, id, bson.D{{Key: "$inc", Value: bson.D{{Key: models.FieldViews, Value: 1}}}})
	if err != nil {
		return translateError(err, "Post", id)
	}
	if res.MatchedCount == 0 {
		return models.NewNotFoundError("Post", id)
	}
	return nil
}

func (r *postRepository) ToggleLike(ctx context.Context, postID, userID string) (liked bool, count int, err error) {
	ctx, end := op(ctx, "toggle_like", postsCollection)
	defer func() { end(err) }()

	liked, count, err = toggleLike(ctx, r.coll, bson.D{{Key: "_id", Value: postID}}, userID)
	if errors.Is(err, errMissed) {
		return false, 0, models.NewNotFoundError("Post", postID)
	}
	if err != nil {
		return false, 0, translateError(err, "Post", postID)
	}
	return liked, count, nil
}

func (r *postRepository) CountLikes(ctx context.Context, postID string) (int, error) {
	return countLikes(ctx, r.coll, postID, "Post")
}

// Lock only checks that the post exists: every write to a post document
// is atomic on its own and RecountComments settles concurrent recounts.
func (r *postRepository) Lock(ctx context.Context, postID string) (err error) {
	ctx, end := op(ctx, "count", postsCollection)
	defer func() { end(err) }()

	n, err := r.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: postID}}, options.Count().SetLimit(1))
	if err != nil {
		return translateError(err, "Post", postID)
	}
	if n == 0 {
		return models.NewNotFoundError("Post", postID)
	}
	return nil
}

func (r *postRepository) RecountLikes(ctx context.Context, postID string) (int, error) {
	return recountLikes(ctx, r.coll, postID, "Post")
}

// maxRecountAttempts bounds how often RecountComments rewrites the counter
// while comments keep changing underneath it.
const maxRecountAttempts = 5

// RecountComments counts in the comments collection and writes the result
// to the post. The two steps are separate operations, so the write is
// repeated until a count taken after it agrees with what was written.
func (r *postRepository) RecountComments(ctx context.Context, postID string) (n int, err error) {
	ctx, end := op(ctx, "recount", postsCollection)
	defer func() { end(err) }()

	comments := &commentRepository{coll: r.comments}
	counted, err := comments.CountVisible(ctx, postID)
	if err != nil {
		return 0, err
	}
	for attempt := 0; attempt < maxRecountAttempts; attempt++ {
		set := bson.D{{Key: "$set", Value: bson.D{{Key: models.FieldCommentsCount, Value: counted}}}}
		res, err := r.coll.UpdateByID(ctx, postID, set)
		if err != nil {
			return 0, translateError(err, "Post", postID)
		}
		if res.MatchedCount == 0 {
			return 0, models.NewNotFoundError("Post", postID)
		}
		again, err := comments.CountVisible(ctx, postID)
		if err != nil {
			return 0, err
		}
		if again == counted {
			return int(counted), nil
		}
		counted = again
	}
	return 0, fmt.Errorf("comments count of post %s did not settle after %d attempts", postID, maxRecountAttempts)
}

func (r *postRepository) IDsAfter(ctx context.Context, afterID string, limit int) (ids []string, err error) {
	ctx, end := op(ctx, "find", postsCollection)
	defer func() { end(err) }()

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	return scanIDs(ctx, r.coll, bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: afterID}}}}, opts)
}

type idDoc struct {
	ID string `bson:"_id"`
}

func scanIDs(ctx context.Context, coll *mongodriver.Collection, filter bson.D, opts *options.FindOptions) ([]string, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("scan %s ids: %w", coll.Name(), err)
	}
	var docs []idDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("scan %s ids: %w", coll.Name(), err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

type likesDoc struct {
	Likes []likeDoc `bson:"likes"`
}

func countLikes(ctx context.Context, coll *mongodriver.Collection, id, resource string) (n int, err error) {
	ctx, end := op(ctx, "find", coll.Name())
	defer func() { end(err) }()

	var d likesDoc
	opts := options.FindOne().SetProjection(bson.D{{Key: "likes", Value: 1}})
	if err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}, opts).Decode(&d); err != nil {
		return 0, translateError(err, resource, id)
	}
	return len(d.Likes), nil
}

// recountLikes sets likes_count to the size of the embedded likes array
// in one pipeline update, so a concurrent toggle cannot be overwritten.
func recountLikes(ctx context.Context, coll *mongodriver.Collection, id, resource string) (n int, err error) {
	ctx, end := op(ctx, "recount", coll.Name())
	defer func() { end(err) }()

	pipeline := mongodriver.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: models.FieldLikesCount, Value: bson.D{{Key: "$size", Value: bson.D{
			{Key: "$ifNull", Value: bson.A{"$likes", bson.A{}}},
		}}}}}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: models.FieldLikesCount, Value: 1}})

	var out counterDoc
	if err := coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, pipeline, opts).Decode(&out); err != nil {
		return 0, translateError(err, resource, id)
	}
	return out.LikesCount, nil
}
