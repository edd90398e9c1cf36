package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"penpoint/internal/content"
	"penpoint/internal/models"
	"penpoint/internal/observability"
	"penpoint/internal/repository"
	"penpoint/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type PostService struct {
	store repository.Store
	now   func() time.Time
}

type CreatePostInput struct {
	Title         string               `json:"title"`
	Content       string               `json:"content"`
	ContentFormat models.ContentFormat `json:"content_format"`
	Status        models.PostStatus    `json:"status"`
	Tags          []string             `json:"tags"`
	Category      string               `json:"category"`
	CoverImage    string               `json:"cover_image"`
	Excerpt       string               `json:"excerpt"`
}

// UpdatePostInput is a partial patch; nil fields are left untouched.
// An empty Excerpt switches the post back to a generated excerpt.
type UpdatePostInput struct {
	Title         *string               `json:"title"`
	Content       *string               `json:"content"`
	ContentFormat *models.ContentFormat `json:"content_format"`
	Status        *models.PostStatus    `json:"status"`
	Tags          *[]string             `json:"tags"`
	Category      *string               `json:"category"`
	CoverImage    *string               `json:"cover_image"`
	Excerpt       *string               `json:"excerpt"`
}

type ListPostsInput struct {
	Status   models.PostStatus
	AuthorID string
	Tag      string
	Category string
	Featured *bool
	Sort     string
	Page     int
	PageSize int
}

func NewPostService(store repository.Store) *PostService {
	return &PostService{store: store, now: time.Now}
}

func requireActor(actor *models.Actor) error {
	if actor == nil || actor.ID == "" {
		return models.NewUnauthorizedError("Authentication required")
	}
	return nil
}

func (s *PostService) CreatePost(ctx context.Context, actor *models.Actor, in CreatePostInput) (*models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "PostService.CreatePost")
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	tags := validation.NormalizeTags(in.Tags)
	var errs models.FieldErrors
	validation.PostTitle(&errs, in.Title)
	validation.PostContent(&errs, in.Content)
	validation.PostFormat(&errs, in.ContentFormat)
	validation.CreateStatus(&errs, in.Status)
	validation.CoverImage(&errs, in.CoverImage)
	validation.Excerpt(&errs, in.Excerpt)
	validation.Category(&errs, strings.TrimSpace(in.Category))
	validation.Tags(&errs, tags)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	format := in.ContentFormat
	if format == "" {
		format = models.ContentFormatHTML
	}
	status := in.Status
	if status == "" {
		status = models.PostStatusDraft
	}

	post := &models.Post{
		Title:         strings.TrimSpace(in.Title),
		Content:       in.Content,
		ContentFormat: format,
		Status:        status,
		AuthorID:      actor.ID,
		Tags:          tags,
		Category:      validation.NormalizeCategory(in.Category),
		CoverImage:    in.CoverImage,
	}
	content.Derive(content.Input{
		Title:   post.Title,
		Body:    post.Content,
		Format:  format,
		Status:  status,
		Excerpt: strings.TrimSpace(in.Excerpt),
	}, s.now()).Apply(post)

	if err := s.store.Posts().Create(ctx, post); err != nil {
		span.SetError(err)
		return nil, err
	}
	span.AddAttributes(attribute.String("post.id", post.ID), attribute.String("post.status", string(post.Status)))
	observability.PostEvents.WithLabelValues("create").Inc()
	observability.Logger.InfoContext(ctx, "Post created",
		slog.String("post_id", post.ID),
		slog.String("slug", post.Slug),
		slog.String("status", string(post.Status)),
	)
	return post, nil
}

func (s *PostService) UpdatePost(ctx context.Context, actor *models.Actor, id string, in UpdatePostInput) (*models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "PostService.UpdatePost", attribute.String("post.id", id))
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	post, err := s.store.Posts().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(post.AuthorID) {
		return nil, models.NewForbiddenError("You can only update your own posts")
	}

	fields, err := s.buildPatch(post, in)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return post, nil
	}
	if err := s.store.Posts().Update(ctx, id, fields); err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.PostEvents.WithLabelValues("update").Inc()
	return s.store.Posts().GetByID(ctx, id)
}

// buildPatch validates in and turns it into a column patch, recomputing
// the derived fields the change affects. The slug is never recomputed.
func (s *PostService) buildPatch(post *models.Post, in UpdatePostInput) (map[string]interface{}, error) {
	var errs models.FieldErrors
	fields := map[string]interface{}{}

	if in.Title != nil {
		validation.PostTitle(&errs, *in.Title)
		fields[models.FieldTitle] = strings.TrimSpace(*in.Title)
	}
	body, format := post.Content, post.ContentFormat
	if in.Content != nil {
		validation.PostContent(&errs, *in.Content)
		body = *in.Content
		fields[models.FieldContent] = body
	}
	if in.ContentFormat != nil {
		validation.PostFormat(&errs, *in.ContentFormat)
		format = *in.ContentFormat
		if format == "" {
			format = models.ContentFormatHTML
		}
		fields[models.FieldContentFormat] = format
	}
	if in.Status != nil {
		validation.UpdateStatus(&errs, *in.Status)
		fields[models.FieldStatus] = *in.Status
	}
	if in.Tags != nil {
		tags := validation.NormalizeTags(*in.Tags)
		validation.Tags(&errs, tags)
		fields[models.FieldTags] = tags
	}
	if in.Category != nil {
		validation.Category(&errs, strings.TrimSpace(*in.Category))
		fields[models.FieldCategory] = validation.NormalizeCategory(*in.Category)
	}
	if in.CoverImage != nil {
		validation.CoverImage(&errs, *in.CoverImage)
		fields[models.FieldCoverImage] = *in.CoverImage
	}
	if in.Excerpt != nil {
		validation.Excerpt(&errs, *in.Excerpt)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	bodyChanged := in.Content != nil || in.ContentFormat != nil
	if bodyChanged {
		fields[models.FieldReadTime] = content.ReadTime(body, format)
	}
	switch {
	case in.Excerpt != nil && strings.TrimSpace(*in.Excerpt) != "":
		fields[models.FieldExcerpt] = strings.TrimSpace(*in.Excerpt)
		fields[models.FieldExcerptAuto] = false
	case in.Excerpt != nil:
		fields[models.FieldExcerpt] = content.Excerpt(body, format)
		fields[models.FieldExcerptAuto] = true
	case bodyChanged && post.ExcerptAuto:
		fields[models.FieldExcerpt] = content.Excerpt(body, format)
	}
	if in.Status != nil {
		if at := content.PublishedAt(*in.Status, post.PublishedAt, s.now()); at != post.PublishedAt {
			fields[models.FieldPublishedAt] = at
		}
	}
	return fields, nil
}

// DeletePost removes the post with its comments and likes. Comments go
// first so an interrupted cascade on a non-transactional store can be
// retried without orphaning them.
func (s *PostService) DeletePost(ctx context.Context, actor *models.Actor, id string) error {
	span, ctx := observability.NewSpan(ctx, "PostService.DeletePost", attribute.String("post.id", id))
	defer span.End()

	if err := requireActor(actor); err != nil {
		return err
	}
	post, err := s.store.Posts().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(post.AuthorID) {
		return models.NewForbiddenError("You can only delete your own posts")
	}

	var removed int64
	err = s.store.Atomically(ctx, func(tx repository.Store) error {
		var err error
		if removed, err = tx.Comments().DeleteByPost(ctx, id); err != nil {
			return err
		}
		return tx.Posts().Delete(ctx, id)
	})
	if err != nil {
		span.SetError(err)
		return err
	}
	observability.PostEvents.WithLabelValues("delete").Inc()
	observability.Logger.InfoContext(ctx, "Post deleted",
		slog.String("post_id", id),
		slog.Int64("comments_removed", removed),
	)
	return nil
}

func (s *PostService) TogglePostLike(ctx context.Context, actor *models.Actor, id string) (*models.LikeResult, error) {
	span, ctx := observability.NewSpan(ctx, "PostService.TogglePostLike", attribute.String("post.id", id))
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	liked, count, err := s.store.Posts().ToggleLike(ctx, id, actor.ID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.LikesToggled.WithLabelValues("post", observability.ToggleAction(liked)).Inc()
	return &models.LikeResult{Liked: liked, LikesCount: count}, nil
}

// IncrementView counts one view of a published post by someone other than
// its author. Failures are logged and never returned.
func (s *PostService) IncrementView(ctx context.Context, id string, viewerIsAuthor bool) {
	if viewerIsAuthor {
		observability.ViewIncrements.WithLabelValues("skipped").Inc()
		return
	}
	post, err := s.store.Posts().GetByID(ctx, id)
	if err != nil {
		s.viewFailed(ctx, id, err)
		return
	}
	s.recordView(ctx, post, false)
}

func (s *PostService) recordView(ctx context.Context, post *models.Post, viewerIsAuthor bool) bool {
	if viewerIsAuthor || !post.IsPublished() {
		observability.ViewIncrements.WithLabelValues("skipped").Inc()
		return false
	}
	if err := s.store.Posts().IncrementViews(ctx, post.ID); err != nil {
		s.viewFailed(ctx, post.ID, err)
		return false
	}
	observability.ViewIncrements.WithLabelValues("counted").Inc()
	return true
}

func (s *PostService) viewFailed(ctx context.Context, id string, err error) {
	observability.ViewIncrements.WithLabelValues("error").Inc()
	observability.Logger.WarnContext(ctx, "Failed to increment post views",
		slog.String("post_id", id),
		slog.String("error", err.Error()),
	)
}

// GetPost returns a post and counts the view. Unpublished posts are
// visible to their author and admins only.
func (s *PostService) GetPost(ctx context.Context, actor *models.Actor, id string) (*models.Post, error) {
	post, err := s.store.Posts().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.present(ctx, actor, post)
}

func (s *PostService) GetPostBySlug(ctx context.Context, actor *models.Actor, slug string) (*models.Post, error) {
	post, err := s.store.Posts().GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.present(ctx, actor, post)
}

// canRead reports whether the actor may see the post and what hangs off
// it. Unpublished posts exist only for their author and admins.
func canRead(actor *models.Actor, post *models.Post) bool {
	return post.IsPublished() || actor.CanModify(post.AuthorID)
}

func (s *PostService) present(ctx context.Context, actor *models.Actor, post *models.Post) (*models.Post, error) {
	if !canRead(actor, post) {
		return nil, models.NewNotFoundError("Post", post.ID)
	}
	isAuthor := actor != nil && actor.ID == post.AuthorID
	if s.recordView(ctx, post, isAuthor) {
		post.Views++
	}
	return post, nil
}

// ListPosts pages through posts. Callers other than the author and admins
// only see published posts.
func (s *PostService) ListPosts(ctx context.Context, actor *models.Actor, in ListPostsInput) (*models.Page[*models.Post], error) {
	page, size := normalizePage(in.Page, in.PageSize)

	filter := repository.PostFilter{
		AuthorID: in.AuthorID,
		Tag:      strings.ToLower(strings.TrimSpace(in.Tag)),
		Category: strings.TrimSpace(in.Category),
		Featured: in.Featured,
		Sort:     repository.ParsePostSort(in.Sort),
		Offset:   (page - 1) * size,
		Limit:    size,
	}
	privileged := actor.IsAdmin() || (in.AuthorID != "" && actor != nil && actor.ID == in.AuthorID)
	switch {
	case in.Status != "" && !in.Status.Valid():
		return nil, models.NewValidationError("Invalid status filter",
			models.FieldError{Field: "status", Message: "status must be draft, published or archived"})
	case in.Status != "" && in.Status != models.PostStatusPublished && !privileged:
		return nil, models.NewForbiddenError("Only the author can list unpublished posts")
	case in.Status != "":
		filter.Statuses = []models.PostStatus{in.Status}
	case !privileged:
		filter.Statuses = []models.PostStatus{models.PostStatusPublished}
	}

	posts, total, err := s.store.Posts().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.Page[*models.Post]{Items: posts, Total: total, Page: page, PageSize: size}, nil
}

// SetFeatured flags a post for the front page. Admin only.
func (s *PostService) SetFeatured(ctx context.Context, actor *models.Actor, id string, featured bool) (*models.Post, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, models.NewForbiddenError("Only admins can feature posts")
	}
	if err := s.store.Posts().Update(ctx, id, map[string]interface{}{models.FieldFeatured: featured}); err != nil {
		return nil, err
	}
	observability.PostEvents.WithLabelValues("feature").Inc()
	return s.store.Posts().GetByID(ctx, id)
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	return page, size
}
