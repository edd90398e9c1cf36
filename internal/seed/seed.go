// Package seed fills a store with demo content for development and testing.
// All content goes through the post and comment services, so derived fields
// and engagement counters are produced the same way as for real traffic.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"penpoint/internal/models"
	"penpoint/internal/observability"
	"penpoint/internal/repository"
	"penpoint/internal/service"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "password123"

// Options configuration for the seeder
type Options struct {
	// Password overrides DefaultPassword.
	Password string
	// SkipBcrypt hashes with the minimum cost. Tests only.
	SkipBcrypt bool
}

// Summary counts what a run created.
type Summary struct {
	Users     int
	Posts     int
	Published int
	Comments  int
	Replies   int
	Likes     int
}

// Seeder drives the services to create demo content.
type Seeder struct {
	// users is nil for stores without an account table; authors then get
	// synthetic ids.
	users    repository.UserRepository
	posts    *service.PostService
	comments *service.CommentService
	opts     Options
}

// NewSeeder returns a Seeder writing to store. users may be nil.
func NewSeeder(store repository.Store, users repository.UserRepository, opts Options) *Seeder {
	return &Seeder{
		users:    users,
		posts:    service.NewPostService(store),
		comments: service.NewCommentService(store),
		opts:     opts,
	}
}

// Run generates content according to plan.
func (s *Seeder) Run(ctx context.Context, plan Plan) (*Summary, error) {
	plan = plan.withDefaults()
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	f := NewFactory(plan)
	sum := &Summary{}

	observability.Logger.InfoContext(ctx, "Seeding started",
		slog.Int("users", plan.Users),
		slog.Int("posts_per_user", plan.PostsPerUser),
	)

	actors, err := s.seedUsers(ctx, f, plan.Users)
	if err != nil {
		return sum, err
	}
	sum.Users = len(actors)

	var published []*models.Post
	for _, author := range actors {
		for i := 0; i < plan.PostsPerUser; i++ {
			post, err := s.createPost(ctx, f, author)
			if err != nil {
				return sum, err
			}
			sum.Posts++
			if post.IsPublished() {
				sum.Published++
				published = append(published, post)
			}
		}
	}

	for _, post := range published {
		if err := s.seedDiscussion(ctx, f, plan, actors, post, sum); err != nil {
			return sum, err
		}
	}

	observability.Logger.InfoContext(ctx, "Seeding completed",
		slog.Int("users", sum.Users),
		slog.Int("posts", sum.Posts),
		slog.Int("published", sum.Published),
		slog.Int("comments", sum.Comments),
		slog.Int("replies", sum.Replies),
		slog.Int("likes", sum.Likes),
	)
	return sum, nil
}

func (s *Seeder) seedUsers(ctx context.Context, f *Factory, n int) ([]*models.Actor, error) {
	actors := make([]*models.Actor, 0, n)
	if s.users == nil {
		for i := 0; i < n; i++ {
			actors = append(actors, &models.Actor{ID: uuid.NewString(), Role: models.RoleUser})
		}
		return actors, nil
	}

	password := s.opts.Password
	if password == "" {
		password = DefaultPassword
	}
	cost := bcrypt.DefaultCost
	if s.opts.SkipBcrypt {
		cost = bcrypt.MinCost
	}
	// One hash shared by every account.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	for i := 0; i < n; i++ {
		u := f.User(string(hash))
		if err := s.users.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user %s: %w", u.Username, err)
		}
		actors = append(actors, &models.Actor{ID: u.ID, Role: u.Role})
	}
	return actors, nil
}

// createPost retries with a fresh title when the generated slug is taken.
func (s *Seeder) createPost(ctx context.Context, f *Factory, author *models.Actor) (*models.Post, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		post, err := s.posts.CreatePost(ctx, author, f.Post())
		if err == nil {
			return post, nil
		}
		if models.ErrorCode(err) != models.CodeValidation {
			return nil, fmt.Errorf("create post: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create post: %w", lastErr)
}

func (s *Seeder) seedDiscussion(ctx context.Context, f *Factory, plan Plan, actors []*models.Actor, post *models.Post, sum *Summary) error {
	pick := func() *models.Actor { return actors[f.faker.Number(0, len(actors)-1)] }

	for i := 0; i < plan.CommentsPerPost; i++ {
		top, err := s.comments.CreateComment(ctx, pick(), service.CreateCommentInput{
			PostID: post.ID,
			Body:   f.CommentBody(),
		})
		if err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
		sum.Comments++

		ids := []string{top.ID}
		for j := 0; j < plan.RepliesPerComment; j++ {
			parent := top.ID
			reply, err := s.comments.CreateComment(ctx, pick(), service.CreateCommentInput{
				PostID:   post.ID,
				Body:     f.CommentBody(),
				ParentID: &parent,
			})
			if err != nil {
				return fmt.Errorf("create reply: %w", err)
			}
			sum.Replies++
			ids = append(ids, reply.ID)
		}

		for _, id := range ids {
			for _, a := range actors {
				if !f.chance(plan.LikeRatio / 2) {
					continue
				}
				if _, err := s.comments.ToggleCommentLike(ctx, a, id); err != nil {
					return fmt.Errorf("like comment: %w", err)
				}
				sum.Likes++
			}
		}
	}

	for _, a := range actors {
		if !f.chance(plan.LikeRatio) {
			continue
		}
		if _, err := s.posts.TogglePostLike(ctx, a, post.ID); err != nil {
			return fmt.Errorf("like post: %w", err)
		}
		sum.Likes++
	}
	return nil
}
