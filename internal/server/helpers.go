package server

import (
	"errors"
	"log/slog"
	"strings"

	"penpoint/internal/models"
	"penpoint/internal/observability"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

var errAdminOnly = models.NewForbiddenError("Admin access required")

// statusFor maps an AppError code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeInvalidState:
		return fiber.StatusConflict
	case models.CodeInvalidParent:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as an ErrorResponse. Errors that are not an
// AppError are logged and reported as a bare internal error.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) || appErr.Code == models.CodeInternal {
		observability.Logger.ErrorContext(c.UserContext(), "request error",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: "Internal server error",
			Code:  models.CodeInternal,
		})
	}
	return c.Status(statusFor(appErr.Code)).JSON(models.ErrorResponse{
		Error:  appErr.Message,
		Code:   appErr.Code,
		Fields: appErr.Fields,
	})
}

// errorHandler renders errors that escape handlers, including Fiber's own
// 404 and 405, in the API error shape.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := models.CodeInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			code = models.CodeNotFound
		case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
			code = models.CodeValidation
		}
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message, Code: code})
	}
	return respondError(c, err)
}

func invalidBody() error {
	return models.NewValidationError("Invalid request body")
}

// parsePage reads page and limit query parameters.
func parsePage(c *fiber.Ctx) (page, size int) {
	page = c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	size = c.QueryInt("limit", defaultPageSize)
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	return page, size
}

// param returns a trimmed route parameter, or a validation error when empty.
func param(c *fiber.Ctx, name string) (string, error) {
	v := strings.TrimSpace(c.Params(name))
	if v == "" {
		return "", models.NewValidationError("Missing " + name)
	}
	return v, nil
}

// pageResponse is the JSON envelope of a listing.
type pageResponse[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	HasMore  bool  `json:"has_more"`
}

func toPageResponse[T any](p *models.Page[T]) pageResponse[T] {
	items := p.Items
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{
		Items:    items,
		Total:    p.Total,
		Page:     p.Page,
		PageSize: p.PageSize,
		HasMore:  p.HasMore(),
	}
}
