// Package mongostore implements the record stores on MongoDB. Likes and
// reply ids are embedded arrays; every mutation is a single-document
// conditional update.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"penpoint/internal/models"
	"penpoint/internal/observability"
	"penpoint/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	postsCollection    = "posts"
	commentsCollection = "comments"
	defaultDBName      = "penpoint"
	system             = "mongodb"
)

// Store is a repository.Store backed by one MongoDB database.
type Store struct {
	client   *mongodriver.Client
	db       *mongodriver.Database
	posts    *mongodriver.Collection
	comments *mongodriver.Collection
}

// New connects, pings the primary and ensures indexes. An empty database
// name falls back to the URI path, then to "penpoint".
func New(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	if database == "" {
		database = databaseFromURI(uri)
	}
	db := cli.Database(database)
	s := &Store{
		client:   cli,
		db:       db,
		posts:    db.Collection(postsCollection),
		comments: db.Collection(commentsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Drop removes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// ensureIndexes creates:
//   - posts: unique slug, status + created_at(desc), author_id, tags
//   - comments: post_id + parent + created_at(desc) for top-level listing,
//     parent + created_at(asc) for replies
func (s *Store) ensureIndexes(ctx context.Context) error {
	postIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetName("slug_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("status_created_desc"),
		},
		{
			Keys:    bson.D{{Key: "author_id", Value: 1}},
			Options: options.Index().SetName("author"),
		},
		{
			Keys:    bson.D{{Key: "tags", Value: 1}},
			Options: options.Index().SetName("tags"),
		},
	}
	if _, err := s.posts.Indexes().CreateMany(ctx, postIndexes); err != nil {
		return fmt.Errorf("mongo ensure post indexes: %w", err)
	}

	commentIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "post_id", Value: 1}, {Key: "parent_comment_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("post_parent_created_desc"),
		},
		{
			Keys:    bson.D{{Key: "parent_comment_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("parent_created_asc"),
		},
	}
	if _, err := s.comments.Indexes().CreateMany(ctx, commentIndexes); err != nil {
		return fmt.Errorf("mongo ensure comment indexes: %w", err)
	}
	return nil
}

func (s *Store) Posts() repository.PostRepository {
	return &postRepository{coll: s.posts, comments: s.comments, log: observability.NewRepoLogger(system, postsCollection)}
}

func (s *Store) Comments() repository.CommentRepository {
	return &commentRepository{coll: s.comments, log: observability.NewRepoLogger(system, commentsCollection)}
}

// Atomically runs fn against the store itself. Every step fn takes is a
// single-document write, so a failed sequence can be re-run; the post
// cascade deletes comments before the post for that reason.
func (s *Store) Atomically(ctx context.Context, fn func(repository.Store) error) error {
	return fn(s)
}

// databaseFromURI extracts the database name from the URI path.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDBName
}

// op starts a span and a latency timer for one collection call.
func op(ctx context.Context, operation, collection string) (context.Context, func(error)) {
	ctx, span := observability.StartStoreSpan(ctx, system, operation, collection)
	done := observability.TrackQuery(system, operation, collection)
	return ctx, func(err error) {
		done()
		endSpan(span, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !models.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
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
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return models.NewNotFoundError(resource, id)
	}
	if mongodriver.IsDuplicateKeyError(err) || repository.IsDuplicateKey(err) {
		if resource == "Post" {
			return models.NewValidationError("a post with this slug already exists",
				models.FieldError{Field: "slug", Message: "slug is already taken"})
		}
		return models.NewValidationError(resource + " already exists")
	}
	return fmt.Errorf("mongo %s %s: %w", strings.ToLower(resource), id, err)
}

// toMS matches the millisecond precision of BSON dates.
func toMS(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func limitOrDefault(limit int) int64 {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return int64(limit)
	}
}

// setFields builds a $set document from a column patch, stamping updated_at.
func setFields(fields map[string]interface{}, now time.Time) bson.M {
	set := bson.M{}
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			v = toMS(t)
		}
		set[k] = v
	}
	set[models.FieldUpdatedAt] = now
	return set
}

// addLikeStages and removeLikeStages return the pipeline updates that add or remove a like entry
// and recompute likes_count from the array in the same write.
func addLikeStages(userID string, at time.Time) mongodriver.Pipeline {
	return mongodriver.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "likes", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$likes", bson.A{}}}},
			bson.A{bson.D{{Key: "user_id", Value: userID}, {Key: "created_at", Value: at}}},
		}}}}}}},
		{{Key: "$set", Value: bson.D{{Key: models.FieldLikesCount, Value: bson.D{{Key: "$size", Value: "$likes"}}}}}},
	}
}

func removeLikeStages(userID string) mongodriver.Pipeline {
	return mongodriver.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "likes", Value: bson.D{{Key: "$filter", Value: bson.D{
			{Key: "input", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$likes", bson.A{}}}}},
			{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this.user_id", userID}}}},
		}}}}}}},
		{{Key: "$set", Value: bson.D{{Key: models.FieldLikesCount, Value: bson.D{{Key: "$size", Value: "$likes"}}}}}},
	}
}

// maxToggleAttempts bounds the add/remove race where another toggle by
// the same user lands between the two conditional writes.
const maxToggleAttempts = 3

type counterDoc struct {
	LikesCount int `bson:"likes_count"`
}

// toggleLike flips userID in the likes array of the document matched by
// base. It returns errMissed when neither the add nor the remove matched.
func toggleLike(ctx context.Context, coll *mongodriver.Collection, base bson.D, userID string) (bool, int, error) {
	after := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: models.FieldLikesCount, Value: 1}})

	for attempt := 0; attempt < maxToggleAttempts; attempt++ {
		var out counterDoc

		addFilter := append(bson.D{{Key: "likes.user_id", Value: bson.D{{Key: "$ne", Value: userID}}}}, base...)
		err := coll.FindOneAndUpdate(ctx, addFilter, addLikeStages(userID, toMS(time.Now())), after).Decode(&out)
		if err == nil {
			return true, out.LikesCount, nil
		}
		if !errors.Is(err, mongodriver.ErrNoDocuments) {
			return false, 0, err
		}

		removeFilter := append(bson.D{{Key: "likes.user_id", Value: userID}}, base...)
		err = coll.FindOneAndUpdate(ctx, removeFilter, removeLikeStages(userID), after).Decode(&out)
		if err == nil {
			return false, out.LikesCount, nil
		}
		if !errors.Is(err, mongodriver.ErrNoDocuments) {
			return false, 0, err
		}

		n, err := coll.CountDocuments(ctx, base)
		if err != nil {
			return false, 0, err
		}
		if n == 0 {
			return false, 0, errMissed
		}
	}
	return false, 0, fmt.Errorf("like toggle did not settle after %d attempts", maxToggleAttempts)
}

var errMissed = errors.New("no document matched")
