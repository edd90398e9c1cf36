package engagement

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"penpoint/internal/database"
	"penpoint/internal/models"
	"penpoint/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func setupStore(t *testing.T) repository.Store {
	t.Helper()
	return repository.NewStore(setupDB(t))
}

// setPostCounters overwrites counter columns to simulate drift.
func setPostCounters(t *testing.T, store repository.Store, id string, fields map[string]interface{}) {
	t.Helper()
	require.NoError(t, store.Posts().Update(context.Background(), id, fields))
}

func seedPost(t *testing.T, store repository.Store, slug string) *models.Post {
	t.Helper()
	p := &models.Post{
		Title:         "Post " + slug,
		Content:       "<p>content long enough</p>",
		ContentFormat: models.ContentFormatHTML,
		Status:        models.PostStatusPublished,
		AuthorID:      "author",
		Category:      models.DefaultCategory,
		Slug:          slug,
		ReadTime:      1,
	}
	require.NoError(t, store.Posts().Create(context.Background(), p))
	return p
}

func seedComment(t *testing.T, store repository.Store, postID string) *models.Comment {
	t.Helper()
	c := &models.Comment{Body: "hello", PostID: postID, AuthorID: "reader"}
	require.NoError(t, store.Comments().Create(context.Background(), c))
	return c
}

func TestSyncCommentsCount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	p := seedPost(t, store, "counted")
	seedComment(t, store, p.ID)
	seedComment(t, store, p.ID)
	gone := seedComment(t, store, p.ID)
	_, err := store.Comments().SoftDelete(ctx, gone.ID, time.Now())
	require.NoError(t, err)
	setPostCounters(t, store, p.ID, map[string]interface{}{models.FieldCommentsCount: 99})

	before, err := store.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)

	s := NewSynchronizer(store)
	n, err := s.SyncCommentsCount(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.SyncCommentsCount(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	after, err := store.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CommentsCount)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "sync must only touch the counter")
	assert.Equal(t, before.Title, after.Title)
}

func TestSyncCommentsCount_MissingPost(t *testing.T) {
	s := NewSynchronizer(setupStore(t))
	_, err := s.SyncCommentsCount(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestSyncLikesCount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	p := seedPost(t, store, "liked")
	c := seedComment(t, store, p.ID)

	_, _, err := store.Posts().ToggleLike(ctx, p.ID, "u1")
	require.NoError(t, err)
	_, _, err = store.Comments().ToggleLike(ctx, c.ID, "u1")
	require.NoError(t, err)
	setPostCounters(t, store, p.ID, map[string]interface{}{models.FieldLikesCount: 7})
	require.NoError(t, store.Comments().Update(ctx, c.ID, map[string]interface{}{models.FieldLikesCount: 0}))

	s := NewSynchronizer(store)
	n, err := s.SyncLikesCount(ctx, KindPost, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.SyncLikesCount(ctx, KindComment, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gotPost, err := store.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotPost.LikesCount)
	gotComment, err := store.Comments().GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotComment.LikesCount)

	_, err = s.SyncLikesCount(ctx, Kind("user"), "x")
	assert.Error(t, err)
}

// toggleDuringCount arranges for toggle to start the first time a query
// reads table, and gives it a moment to finish before the query's caller
// continues. The returned channel yields the toggle's result.
func toggleDuringCount(t *testing.T, db *gorm.DB, table string, toggle func() error) <-chan error {
	t.Helper()
	var armed atomic.Bool
	armed.Store(true)
	done := make(chan error, 1)
	err := db.Callback().Query().After("gorm:query").Register("test:toggle_during_count", func(tx *gorm.DB) {
		if tx.Statement.Table != table || !armed.CompareAndSwap(true, false) {
			return
		}
		landed := make(chan error, 1)
		go func() { landed <- toggle() }()
		select {
		case err := <-landed:
			done <- err
		case <-time.After(50 * time.Millisecond):
			go func() { done <- <-landed }()
		}
	})
	require.NoError(t, err)
	return done
}

func TestSyncPostLikes_KeepsToggleLandingMidSync(t *testing.T) {
	db := setupDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()
	p := seedPost(t, store, "contended")
	_, _, err := store.Posts().ToggleLike(ctx, p.ID, "u1")
	require.NoError(t, err)

	toggled := toggleDuringCount(t, db, "post_likes", func() error {
		_, _, err := store.Posts().ToggleLike(ctx, p.ID, "u2")
		return err
	})
	_, err = NewSynchronizer(store).SyncPostLikes(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, <-toggled)

	likes, err := store.Posts().CountLikes(ctx, p.ID)
	require.NoError(t, err)
	got, err := store.Posts().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, likes)
	assert.Equal(t, 2, got.LikesCount)
}

func TestSyncCommentLikes_KeepsToggleLandingMidSync(t *testing.T) {
	db := setupDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()
	p := seedPost(t, store, "contended-comment")
	c := seedComment(t, store, p.ID)
	_, _, err := store.Comments().ToggleLike(ctx, c.ID, "u1")
	require.NoError(t, err)

	toggled := toggleDuringCount(t, db, "comment_likes", func() error {
		_, _, err := store.Comments().ToggleLike(ctx, c.ID, "u2")
		return err
	})
	_, err = NewSynchronizer(store).SyncCommentLikes(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, <-toggled)

	likes, err := store.Comments().CountLikes(ctx, c.ID)
	require.NoError(t, err)
	got, err := store.Comments().GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, likes)
	assert.Equal(t, 2, got.LikesCount)
}

func TestReconciler_RunOnceRepairsDrift(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var posts []*models.Post
	for i := 0; i < 5; i++ {
		posts = append(posts, seedPost(t, store, fmt.Sprintf("post-%d", i)))
	}
	c := seedComment(t, store, posts[0].ID)
	seedComment(t, store, posts[1].ID)
	_, _, err := store.Comments().ToggleLike(ctx, c.ID, "u1")
	require.NoError(t, err)

	// posts[1] never had its comment counted; posts[2] carries a phantom like.
	setPostCounters(t, store, posts[0].ID, map[string]interface{}{models.FieldCommentsCount: 1})
	setPostCounters(t, store, posts[2].ID, map[string]interface{}{models.FieldLikesCount: 4})
	require.NoError(t, store.Comments().Update(ctx, c.ID, map[string]interface{}{models.FieldLikesCount: 3}))

	r := NewReconciler(store, 2)
	rep, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Posts)
	assert.Equal(t, 2, rep.Comments)
	assert.Equal(t, 2, rep.PostsRepaired)
	assert.Equal(t, 1, rep.CommentsRepaired)
	assert.Zero(t, rep.Failures)

	got, err := store.Posts().GetByID(ctx, posts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CommentsCount)
	got, err = store.Posts().GetByID(ctx, posts[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LikesCount)
	gotComment, err := store.Comments().GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotComment.LikesCount)

	rep, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.PostsRepaired)
	assert.Zero(t, rep.CommentsRepaired)
}

func TestReconciler_RunOnceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReconciler(setupStore(t), 0).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconciler_StartStop(t *testing.T) {
	r := NewReconciler(setupStore(t), 10)
	assert.Error(t, r.Start("not a schedule"))

	require.NoError(t, r.Start("@every 1h"))
	assert.Error(t, r.Start("@every 1h"))

	select {
	case <-r.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
	<-r.Stop().Done()
}
