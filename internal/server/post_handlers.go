package server

import (
	"strconv"

	"penpoint/internal/middleware"
	"penpoint/internal/models"
	"penpoint/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListPosts handles GET /api/posts
// @Summary List posts
// @Description Pages through posts. Anonymous callers and non-authors only see published posts.
// @Tags posts
// @Produce json
// @Param status query string false "draft, published or archived"
// @Param author query string false "Author id"
// @Param tag query string false "Tag"
// @Param category query string false "Category"
// @Param featured query bool false "Only featured posts"
// @Param sort query string false "newest, popular or most_liked"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(10)
// @Success 200 {object} object{items=[]models.Post,total=int,page=int,page_size=int,has_more=bool}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /posts [get]
func (s *Server) ListPosts(c *fiber.Ctx) error {
	page, size := parsePage(c)
	in := service.ListPostsInput{
		Status:   models.PostStatus(c.Query("status")),
		AuthorID: c.Query("author"),
		Tag:      c.Query("tag"),
		Category: c.Query("category"),
		Sort:     c.Query("sort"),
		Page:     page,
		PageSize: size,
	}
	if raw := c.Query("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			return respondError(c, models.NewValidationError("featured must be true or false"))
		}
		in.Featured = &featured
	}

	result, err := s.postService.ListPosts(c.UserContext(), middleware.ActorFrom(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toPageResponse(result))
}

// CreatePost handles POST /api/posts
// @Summary Create a post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreatePostInput true "Post"
// @Success 201 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var in service.CreatePostInput
	if err := c.BodyParser(&in); err != nil {
		return respondError(c, invalidBody())
	}
	post, err := s.postService.CreatePost(c.UserContext(), middleware.ActorFrom(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPost handles GET /api/posts/:id
// @Summary Get a post
// @Description Returns a post and counts a view unless the caller is its author.
// @Tags posts
// @Produce json
// @Param id path string true "Post id"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [get]
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	post, err := s.postService.GetPost(c.UserContext(), middleware.ActorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// GetPostBySlug handles GET /api/posts/slug/:slug
// @Summary Get a post by slug
// @Tags posts
// @Produce json
// @Param slug path string true "Post slug"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/slug/{slug} [get]
func (s *Server) GetPostBySlug(c *fiber.Ctx) error {
	slug, err := param(c, "slug")
	if err != nil {
		return respondError(c, err)
	}
	post, err := s.postService.GetPostBySlug(c.UserContext(), middleware.ActorFrom(c), slug)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// UpdatePost handles PATCH /api/posts/:id
// @Summary Update a post
// @Description Partial update. Derived fields are recomputed; the slug never changes.
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post id"
// @Param request body service.UpdatePostInput true "Patch"
// @Success 200 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [patch]
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var in service.UpdatePostInput
	if err := c.BodyParser(&in); err != nil {
		return respondError(c, invalidBody())
	}
	post, err := s.postService.UpdatePost(c.UserContext(), middleware.ActorFrom(c), id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
// @Summary Delete a post
// @Description Removes the post together with its comments and likes.
// @Tags posts
// @Security BearerAuth
// @Param id path string true "Post id"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.postService.DeletePost(c.UserContext(), middleware.ActorFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// TogglePostLike handles POST /api/posts/:id/like
// @Summary Like or unlike a post
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post id"
// @Success 200 {object} models.LikeResult
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/like [post]
func (s *Server) TogglePostLike(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	res, err := s.postService.TogglePostLike(c.UserContext(), middleware.ActorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// RecordView handles POST /api/posts/:id/view
// @Summary Count a view
// @Description Best effort. Always answers 204; the author's own views are not counted.
// @Tags posts
// @Param id path string true "Post id"
// @Success 204
// @Router /posts/{id}/view [post]
func (s *Server) RecordView(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	actor := middleware.ActorFrom(c)
	viewerIsAuthor := false
	if actor != nil {
		if post, err := s.store.Posts().GetByID(c.UserContext(), id); err == nil {
			viewerIsAuthor = post.AuthorID == actor.ID
		}
	}
	s.postService.IncrementView(c.UserContext(), id, viewerIsAuthor)
	return c.SendStatus(fiber.StatusNoContent)
}

// SetFeatured handles PUT /api/posts/:id/featured
// @Summary Feature or unfeature a post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post id"
// @Param request body object{featured=bool} true "Flag"
// @Success 200 {object} models.Post
// @Failure 403 {object} models.ErrorResponse
// @Router /posts/{id}/featured [put]
func (s *Server) SetFeatured(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Featured bool `json:"featured"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, invalidBody())
	}
	post, err := s.postService.SetFeatured(c.UserContext(), middleware.ActorFrom(c), id, req.Featured)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}
