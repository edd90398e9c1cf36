package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"penpoint/internal/database"
	"penpoint/internal/engagement"
	"penpoint/internal/models"
	"penpoint/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRun_AllPublished(t *testing.T) {
	db := openDB(t)
	store := repository.NewStore(db)
	users := repository.NewUserRepository(db)
	ctx := context.Background()

	plan := Plan{
		Users: 3, PostsPerUser: 2, CommentsPerPost: 2, RepliesPerComment: 1,
		PublishRatio: 1, MarkdownRatio: 0.5, LikeRatio: 1, Seed: 42,
	}
	sum, err := NewSeeder(store, users, Options{SkipBcrypt: true}).Run(ctx, plan)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Users != 3 || sum.Posts != 6 || sum.Published != 6 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Comments != 12 || sum.Replies != 12 {
		t.Fatalf("unexpected comment counts: %+v", sum)
	}
	// Every user likes every post; comment likes are the half-ratio coin flips.
	if sum.Likes < 18 {
		t.Fatalf("expected at least 18 likes, got %d", sum.Likes)
	}

	all, err := users.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 users, got %d", len(all))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(all[0].Password), []byte(DefaultPassword)); err != nil {
		t.Fatalf("password hash mismatch: %v", err)
	}

	posts, total, err := store.Posts().List(ctx, repository.PostFilter{Limit: 100})
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 posts, got %d", total)
	}
	for _, p := range posts {
		if p.CommentsCount != 4 {
			t.Fatalf("post %s: expected comments_count 4, got %d", p.ID, p.CommentsCount)
		}
		if p.LikesCount != 3 {
			t.Fatalf("post %s: expected likes_count 3, got %d", p.ID, p.LikesCount)
		}
		if p.Slug == "" || p.ReadTime < 1 {
			t.Fatalf("post %s: derived fields missing: slug=%q read_time=%d", p.ID, p.Slug, p.ReadTime)
		}
	}

	rep, err := engagement.NewReconciler(store, 50).RunOnce(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rep.PostsRepaired != 0 || rep.CommentsRepaired != 0 {
		t.Fatalf("seeded counters drifted: %+v", rep)
	}
}

func TestRun_DraftsGetNoDiscussion(t *testing.T) {
	db := openDB(t)
	store := repository.NewStore(db)

	plan := Plan{Users: 2, PostsPerUser: 2, CommentsPerPost: 3, RepliesPerComment: 2, LikeRatio: 1, Seed: 7}
	sum, err := NewSeeder(store, nil, Options{}).Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Posts != 4 || sum.Published != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Comments != 0 || sum.Likes != 0 {
		t.Fatalf("drafts should not be discussed: %+v", sum)
	}

	var users int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if users != 0 {
		t.Fatalf("expected no accounts without a user repository, got %d", users)
	}
}

func TestRun_InvalidPlan(t *testing.T) {
	_, err := NewSeeder(repository.NewStore(openDB(t)), nil, Options{}).Run(context.Background(), Plan{})
	if err == nil || !strings.Contains(err.Error(), "users must be positive") {
		t.Fatalf("expected invalid plan error, got %v", err)
	}
}

func TestFactory_Deterministic(t *testing.T) {
	plan := Plan{Users: 1, PublishRatio: 0.5, MarkdownRatio: 0.5, Seed: 99}
	a := NewFactory(plan).Post()
	b := NewFactory(plan).Post()
	if a.Title != b.Title || a.Content != b.Content {
		t.Fatalf("same seed produced different posts: %q vs %q", a.Title, b.Title)
	}
	if a.Title == "" || len(a.Content) < 10 {
		t.Fatalf("generated post too small: %+v", a)
	}
}

func TestFactory_UsersAreUnique(t *testing.T) {
	f := NewFactory(Plan{Seed: 1})
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		u := f.User("hash")
		if seen[u.Username] || seen[u.Email] {
			t.Fatalf("duplicate user generated: %s", u.Username)
		}
		seen[u.Username] = true
		seen[u.Email] = true
	}
}

func TestParsePlan(t *testing.T) {
	raw := []byte(`
users: 4
posts_per_user: 1
comments_per_post: 2
publish_ratio: 0.5
tags: [go, sql]
seed: 3
`)
	p, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}
	if p.Users != 4 || p.CommentsPerPost != 2 || p.PublishRatio != 0.5 || p.Seed != 3 {
		t.Fatalf("unexpected plan: %+v", p)
	}
	if len(p.Tags) != 2 || len(p.Categories) == 0 {
		t.Fatalf("defaults not applied: %+v", p)
	}
}

func TestParsePlan_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key": "users: 1\nfriends: 3\n",
		"bad ratio":   "users: 1\nlike_ratio: 2\n",
		"negative":    "users: 1\nposts_per_user: -1\n",
		"no users":    "posts_per_user: 1\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePlan([]byte(raw)); err == nil {
				t.Fatalf("expected error for %q", raw)
			}
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yml")
	if err := os.WriteFile(path, []byte("users: 2\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan failed: %v", err)
	}
	if p.Users != 2 {
		t.Fatalf("expected 2 users, got %d", p.Users)
	}
	if _, err := LoadPlan(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPreset(t *testing.T) {
	for name := range Presets {
		p, err := Preset(name)
		if err != nil {
			t.Fatalf("preset %s: %v", name, err)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("preset %s invalid: %v", name, err)
		}
	}
	if _, err := Preset("huge"); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}
