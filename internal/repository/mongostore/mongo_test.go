package mongostore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"penpoint/internal/models"
	"penpoint/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

const testTimeout = 10 * time.Second

// TestMain starts one MongoDB container for the package when
// GO_TEST_INTEGRATION is set. Each test gets its own database.
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7.0",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}
	_ = os.Setenv("MONGO_URL", fmt.Sprintf("mongodb://%s:%s", host, port.Port()))

	code := m.Run()
	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

func mustNewStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("set GO_TEST_INTEGRATION=1 to run MongoDB tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	s, err := New(ctx, os.Getenv("MONGO_URL"), "penpoint_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = s.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func seedPost(t *testing.T, s *Store, slug string) *models.Post {
	t.Helper()
	p := &models.Post{
		Title:         "A post",
		Content:       "<p>some words for the body</p>",
		ContentFormat: models.ContentFormatHTML,
		Status:        models.PostStatusPublished,
		AuthorID:      "author-1",
		Category:      models.DefaultCategory,
		Tags:          []string{"go"},
		Slug:          slug,
		ReadTime:      1,
	}
	require.NoError(t, s.Posts().Create(context.Background(), p))
	return p
}

func seedComment(t *testing.T, s *Store, postID string, parentID *string) *models.Comment {
	t.Helper()
	c := &models.Comment{Body: "a comment", PostID: postID, AuthorID: "commenter-1", ParentCommentID: parentID}
	require.NoError(t, s.Comments().Create(context.Background(), c))
	return c
}

func TestDatabaseFromURI(t *testing.T) {
	assert.Equal(t, "blog", databaseFromURI("mongodb://localhost:27017/blog"))
	assert.Equal(t, defaultDBName, databaseFromURI("mongodb://localhost:27017"))
	assert.Equal(t, defaultDBName, databaseFromURI("mongodb://localhost:27017/"))
}

func TestPostFilterAndSort(t *testing.T) {
	featured := true
	filter := postFilter(repository.PostFilter{
		Statuses: []models.PostStatus{models.PostStatusPublished},
		AuthorID: "a1",
		Tag:      "go",
		Featured: &featured,
	})
	m := filter.Map()
	assert.Equal(t, bson.D{{Key: "$in", Value: bson.A{"published"}}}, m["status"])
	assert.Equal(t, "a1", m["author_id"])
	assert.Equal(t, "go", m["tags"])
	assert.Equal(t, true, m["featured"])
	assert.NotContains(t, m, "category")

	assert.Equal(t, "views", postSort(repository.SortPopular)[0].Key)
	assert.Equal(t, "likes_count", postSort(repository.SortMostLiked)[0].Key)
	assert.Equal(t, "created_at", postSort(repository.SortNewest)[0].Key)
}

func TestTranslateError(t *testing.T) {
	err := translateError(mongodriver.ErrNoDocuments, "Post", "p1")
	assert.True(t, models.IsNotFound(err))

	dup := mongodriver.WriteException{WriteErrors: []mongodriver.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
	err = translateError(dup, "Post", "p1")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	assert.NoError(t, translateError(nil, "Post", "p1"))
}

func TestSetFieldsStampsUpdatedAt(t *testing.T) {
	now := toMS(time.Now())
	set := setFields(map[string]interface{}{models.FieldTitle: "t", models.FieldEditedAt: time.Unix(0, 1234567)}, now)
	assert.Equal(t, "t", set[models.FieldTitle])
	assert.Equal(t, now, set[models.FieldUpdatedAt])
	assert.Equal(t, time.Unix(0, 1000000).UTC(), set[models.FieldEditedAt])
}

func TestStore_PostLifecycle(t *testing.T) {
	s := mustNewStore(t)
	ctx := context.Background()
	p := seedPost(t, s, "hello-world")

	got, err := s.Posts().GetBySlug(ctx, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, []string{"go"}, []string(got.Tags))

	dup := &models.Post{Title: "x", Content: "y", Slug: "hello-world", AuthorID: "a"}
	err = s.Posts().Create(ctx, dup)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	require.NoError(t, s.Posts().Update(ctx, p.ID, map[string]interface{}{models.FieldTitle: "Renamed"}))
	got, err = s.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "hello-world", got.Slug)

	require.NoError(t, s.Posts().IncrementViews(ctx, p.ID))
	posts, total, err := s.Posts().List(ctx, repository.PostFilter{Tag: "go"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, posts, 1)
	assert.EqualValues(t, 1, posts[0].Views)

	require.NoError(t, s.Posts().Delete(ctx, p.ID))
	_, err = s.Posts().GetByID(ctx, p.ID)
	assert.True(t, models.IsNotFound(err))
	assert.True(t, models.IsNotFound(s.Posts().Delete(ctx, p.ID)))
}

func TestStore_PostToggleLikeConcurrent(t *testing.T) {
	s := mustNewStore(t)
	ctx := context.Background()
	p := seedPost(t, s, "likes")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Posts().ToggleLike(ctx, p.ID, fmt.Sprintf("user-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.LikesCount)
	assert.Len(t, got.Likes, 10)

	liked, count, err := s.Posts().ToggleLike(ctx, p.ID, "user-0")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 9, count)

	_, _, err = s.Posts().ToggleLike(ctx, "missing", "user-0")
	assert.True(t, models.IsNotFound(err))
}

func TestStore_CommentThread(t *testing.T) {
	s := mustNewStore(t)
	ctx := context.Background()
	p := seedPost(t, s, "thread")
	parent := seedComment(t, s, p.ID, nil)
	reply := seedComment(t, s, p.ID, &parent.ID)

	require.NoError(t, s.Comments().AppendReply(ctx, parent.ID, reply.ID))
	require.NoError(t, s.Comments().AppendReply(ctx, parent.ID, reply.ID))
	got, err := s.Comments().GetByID(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{reply.ID}, []string(got.Replies))

	top, total, err := s.Comments().ListTopLevel(ctx, p.ID, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, top, 1)

	replies, err := s.Comments().ListReplies(ctx, []string{parent.ID})
	require.NoError(t, err)
	require.Len(t, replies, 1)

	changed, err := s.Comments().SoftDelete(ctx, reply.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.Comments().SoftDelete(ctx, reply.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	n, err := s.Comments().CountVisible(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, _, err = s.Comments().ToggleLike(ctx, reply.ID, "u1")
	assert.Equal(t, models.CodeInvalidState, models.ErrorCode(err))
	err = s.Comments().Update(ctx, reply.ID, map[string]interface{}{models.FieldBody: "x"})
	assert.Equal(t, models.CodeInvalidState, models.ErrorCode(err))

	removed, err := s.Comments().DeleteByPost(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
}

func TestStore_RecountCountersConcurrentWithToggles(t *testing.T) {
	s := mustNewStore(t)
	ctx := context.Background()
	p := seedPost(t, s, "recount")
	c := seedComment(t, s, p.ID, nil)
	require.NoError(t, s.Posts().Update(ctx, p.ID, map[string]interface{}{
		models.FieldLikesCount:    7,
		models.FieldCommentsCount: 0,
	}))
	require.NoError(t, s.Posts().Lock(ctx, p.ID))
	assert.True(t, models.IsNotFound(s.Posts().Lock(ctx, "missing")))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Posts().ToggleLike(ctx, p.ID, fmt.Sprintf("user-%d", i))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := s.Posts().RecountLikes(ctx, p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.LikesCount)
	assert.Len(t, got.Likes, 10)

	n, err := s.Posts().RecountComments(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = s.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CommentsCount)

	n, err = s.Comments().RecountLikes(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Posts().RecountLikes(ctx, "missing")
	assert.True(t, models.IsNotFound(err))
	_, err = s.Posts().RecountComments(ctx, "missing")
	assert.True(t, models.IsNotFound(err))
}
