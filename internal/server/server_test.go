package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"penpoint/internal/config"
	"penpoint/internal/database"
	"penpoint/internal/engagement"
	"penpoint/internal/middleware"
	"penpoint/internal/models"
	"penpoint/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

const testSecret = "server-test-secret-0123456789abcdefghijklmnop"

type testEnv struct {
	app   *fiber.App
	store repository.Store
}

func setupStore(t *testing.T) (repository.Store, Pinger) {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return repository.NewStore(db), sqlDB.PingContext
}

func setupApp(t *testing.T) *testEnv {
	t.Helper()
	store, ping := setupStore(t)
	cfg := &config.Config{JWTSecret: testSecret, AllowedOrigins: "*", ReconcileBatchSize: 50}
	srv := NewServer(cfg, Deps{Store: store, PingStore: ping})
	return &testEnv{app: srv.App(), store: store}
}

func token(t *testing.T, id, role string) string {
	t.Helper()
	tok, err := middleware.SignToken(testSecret, models.Actor{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request and decodes a JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, tok string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) createPost(t *testing.T, tok string, body map[string]interface{}) models.Post {
	t.Helper()
	var post models.Post
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/posts", tok, body, &post))
	return post
}

func TestHealth(t *testing.T) {
	env := setupApp(t)

	var live map[string]interface{}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", "", nil, &live))
	assert.Equal(t, "up", live["status"])

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", "", nil, &ready))
	assert.Equal(t, "healthy", ready.Checks["store"])
	assert.Equal(t, "unavailable", ready.Checks["redis"])
}

func TestReadiness_StoreDown(t *testing.T) {
	store, _ := setupStore(t)
	srv := NewServer(&config.Config{JWTSecret: testSecret}, Deps{
		Store:     store,
		PingStore: func(context.Context) error { return errors.New("down") },
	})
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPostLifecycle(t *testing.T) {
	env := setupApp(t)
	author := token(t, "author-1", models.RoleUser)
	reader := token(t, "reader-1", models.RoleUser)

	post := env.createPost(t, author, map[string]interface{}{
		"title":   "Hello World!",
		"content": "<p>Enough words to pass validation here.</p>",
		"status":  "published",
		"tags":    []string{"Go"},
	})
	assert.Equal(t, "hello-world", post.Slug)
	assert.Equal(t, []string{"go"}, []string(post.Tags))

	var got models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts/slug/hello-world", "", nil, &got))
	assert.Equal(t, post.ID, got.ID)
	assert.EqualValues(t, 1, got.Views)

	var patched models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/posts/"+post.ID, author,
		map[string]interface{}{"title": "Renamed"}, &patched))
	assert.Equal(t, "Renamed", patched.Title)
	assert.Equal(t, "hello-world", patched.Slug)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, "/api/posts/"+post.ID, reader,
		map[string]interface{}{"title": "Mine now"}, &errResp))
	assert.Equal(t, models.CodeForbidden, errResp.Code)

	var like models.LikeResult
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/posts/"+post.ID+"/like", reader, nil, &like))
	assert.Equal(t, models.LikeResult{Liked: true, LikesCount: 1}, like)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/posts/"+post.ID+"/like", reader, nil, &like))
	assert.Equal(t, models.LikeResult{Liked: false, LikesCount: 0}, like)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/posts/"+post.ID, author, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/posts/"+post.ID, "", nil, &errResp))
	assert.Equal(t, models.CodeNotFound, errResp.Code)
}

func TestCreatePost_Errors(t *testing.T) {
	env := setupApp(t)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/posts", "",
		map[string]interface{}{"title": "x"}, &errResp))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/posts", token(t, "a", models.RoleUser),
		map[string]interface{}{"title": "", "content": "short"}, &errResp))
	assert.Equal(t, models.CodeValidation, errResp.Code)
	fields := map[string]bool{}
	for _, f := range errResp.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["title"])
	assert.True(t, fields["content"])
}

func TestListPosts_Visibility(t *testing.T) {
	env := setupApp(t)
	author := token(t, "author-1", models.RoleUser)
	env.createPost(t, author, map[string]interface{}{"title": "Public", "content": "Visible to everybody.", "status": "published"})
	env.createPost(t, author, map[string]interface{}{"title": "Draft", "content": "Only for the author."})

	var page struct {
		Items   []models.Post `json:"items"`
		Total   int64         `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts", "", nil, &page))
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Public", page.Items[0].Title)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts?author=author-1&limit=1", author, nil, &page))
	assert.EqualValues(t, 2, page.Total)
	assert.True(t, page.HasMore)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/posts?status=draft", "", nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/posts?featured=maybe", "", nil, &errResp))
}

func TestDraftHiddenFromOthers(t *testing.T) {
	env := setupApp(t)
	author := token(t, "author-1", models.RoleUser)
	draft := env.createPost(t, author, map[string]interface{}{"title": "Secret", "content": "Not ready for readers."})

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/posts/"+draft.ID, token(t, "reader", models.RoleUser), nil, nil))
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts/"+draft.ID, author, nil, nil))

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/posts/"+draft.ID+"/comments", token(t, "reader", models.RoleUser),
		map[string]interface{}{"body": "first"}, &errResp))
	assert.Equal(t, models.CodeInvalidState, errResp.Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/posts/"+draft.ID+"/comments", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/posts/"+draft.ID+"/comments", token(t, "reader", models.RoleUser), nil, nil))
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts/"+draft.ID+"/comments", author, nil, nil))
}

func TestRecordView(t *testing.T) {
	env := setupApp(t)
	author := token(t, "author-1", models.RoleUser)
	post := env.createPost(t, author, map[string]interface{}{"title": "Counted", "content": "Views are counted here.", "status": "published"})

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/posts/"+post.ID+"/view", "", nil, nil))
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/posts/"+post.ID+"/view", author, nil, nil))
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/posts/missing/view", "", nil, nil))

	stored, err := env.store.Posts().GetByID(context.Background(), post.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Views)
}

func TestSetFeatured(t *testing.T) {
	env := setupApp(t)
	author := token(t, "author-1", models.RoleUser)
	admin := token(t, "admin-1", models.RoleAdmin)
	post := env.createPost(t, author, map[string]interface{}{"title": "Shiny", "content": "Worth featuring here.", "status": "published"})

	body := map[string]interface{}{"featured": true}
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPut, "/api/posts/"+post.ID+"/featured", author, body, nil))

	var got models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/posts/"+post.ID+"/featured", admin, body, &got))
	assert.True(t, got.Featured)
}

func TestCommentFlow(t *testing.T) {
	env := setupApp(t)
	author := token(t, "author-1", models.RoleUser)
	reader := token(t, "reader-1", models.RoleUser)
	post := env.createPost(t, author, map[string]interface{}{"title": "Discuss", "content": "Let us talk about it.", "status": "published"})
	base := "/api/posts/" + post.ID + "/comments"

	var top, reply models.Comment
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, base, reader, map[string]interface{}{"body": "top"}, &top))
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, base, author,
		map[string]interface{}{"body": "reply", "parent_comment_id": top.ID}, &reply))
	assert.Equal(t, top.ID, *reply.ParentCommentID)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, base, reader,
		map[string]interface{}{"body": "nested", "parent_comment_id": reply.ID}, &errResp))
	assert.Equal(t, models.CodeInvalidParent, errResp.Code)

	var page struct {
		Items []models.Comment `json:"items"`
		Total int64            `json:"total"`
	}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, base, "", nil, &page))
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	require.Len(t, page.Items[0].Thread, 1)
	assert.Equal(t, reply.ID, page.Items[0].Thread[0].ID)

	var edited models.Comment
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/comments/"+top.ID, reader,
		map[string]interface{}{"body": "top, edited"}, &edited))
	assert.True(t, edited.IsEdited)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, "/api/comments/"+top.ID, author,
		map[string]interface{}{"body": "not yours"}, nil))

	var like models.LikeResult
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/comments/"+reply.ID+"/like", reader, nil, &like))
	assert.True(t, like.Liked)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/comments/"+reply.ID, author, nil, nil))
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/comments/"+reply.ID+"/like", reader, nil, &errResp))

	var stored models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts/"+post.ID, author, nil, &stored))
	assert.Equal(t, 1, stored.CommentsCount)

	var deleted models.Comment
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/comments/"+reply.ID, "", nil, &deleted))
	assert.True(t, deleted.IsDeleted)
}

func TestAdminReconcile(t *testing.T) {
	env := setupApp(t)
	author := token(t, "author-1", models.RoleUser)
	post := env.createPost(t, author, map[string]interface{}{"title": "Drifted", "content": "Counter out of sync.", "status": "published"})
	require.NoError(t, env.store.Posts().Update(context.Background(), post.ID, map[string]interface{}{models.FieldLikesCount: 9}))

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/admin/reconcile", author, nil, nil))

	var rep engagement.Report
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/admin/reconcile", token(t, "root", models.RoleAdmin), nil, &rep))
	assert.Equal(t, 1, rep.Posts)
	assert.Equal(t, 1, rep.PostsRepaired)
}

func TestUnknownRoute(t *testing.T) {
	env := setupApp(t)
	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/nothing-here", "", nil, &errResp))
	assert.Equal(t, models.CodeNotFound, errResp.Code)
}
