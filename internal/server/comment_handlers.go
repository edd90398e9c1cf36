package server

import (
	"penpoint/internal/middleware"
	"penpoint/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListComments handles GET /api/posts/:id/comments
// @Summary List comments of a post
// @Description Top-level comments newest first, each with its replies in reply order.
// @Description Comments of an unpublished post are visible only to its author and admins.
// @Tags comments
// @Produce json
// @Param id path string true "Post id"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(10)
// @Success 200 {object} object{items=[]models.Comment,total=int,page=int,page_size=int,has_more=bool}
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/comments [get]
func (s *Server) ListComments(c *fiber.Ctx) error {
	postID, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	page, size := parsePage(c)
	result, err := s.commentService.ListComments(c.UserContext(), middleware.ActorFrom(c), postID, page, size)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toPageResponse(result))
}

// CreateComment handles POST /api/posts/:id/comments
// @Summary Comment on a post or reply to a comment
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post id"
// @Param request body service.CreateCommentInput true "Comment"
// @Success 201 {object} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "post not published"
// @Failure 422 {object} models.ErrorResponse "invalid parent"
// @Router /posts/{id}/comments [post]
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var in service.CreateCommentInput
	if err := c.BodyParser(&in); err != nil {
		return respondError(c, invalidBody())
	}
	in.PostID = postID
	comment, err := s.commentService.CreateComment(c.UserContext(), middleware.ActorFrom(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// GetComment handles GET /api/comments/:commentId
// @Summary Get a comment
// @Tags comments
// @Produce json
// @Param commentId path string true "Comment id"
// @Success 200 {object} models.Comment
// @Failure 404 {object} models.ErrorResponse
// @Router /comments/{commentId} [get]
func (s *Server) GetComment(c *fiber.Ctx) error {
	id, err := param(c, "commentId")
	if err != nil {
		return respondError(c, err)
	}
	comment, err := s.commentService.GetComment(c.UserContext(), middleware.ActorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comment)
}

// EditComment handles PATCH /api/comments/:commentId
// @Summary Edit a comment
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param commentId path string true "Comment id"
// @Param request body object{body=string} true "New body"
// @Success 200 {object} models.Comment
// @Failure 403 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "comment deleted"
// @Router /comments/{commentId} [patch]
func (s *Server) EditComment(c *fiber.Ctx) error {
	id, err := param(c, "commentId")
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, invalidBody())
	}
	comment, err := s.commentService.EditComment(c.UserContext(), middleware.ActorFrom(c), id, req.Body)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:commentId
// @Summary Delete a comment
// @Description Soft delete. The comment stays in its parent's reply list.
// @Tags comments
// @Security BearerAuth
// @Param commentId path string true "Comment id"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Router /comments/{commentId} [delete]
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	id, err := param(c, "commentId")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.commentService.DeleteComment(c.UserContext(), middleware.ActorFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleCommentLike handles POST /api/comments/:commentId/like
// @Summary Like or unlike a comment
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param commentId path string true "Comment id"
// @Success 200 {object} models.LikeResult
// @Failure 409 {object} models.ErrorResponse "comment deleted"
// @Router /comments/{commentId}/like [post]
func (s *Server) ToggleCommentLike(c *fiber.Ctx) error {
	id, err := param(c, "commentId")
	if err != nil {
		return respondError(c, err)
	}
	res, err := s.commentService.ToggleCommentLike(c.UserContext(), middleware.ActorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
