package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"penpoint/internal/models"
)

// MaxCommentLength bounds comment bodies.
const MaxCommentLength = 1000

// CommentBody checks the 1-1000 character bound on comment bodies.
func CommentBody(errs *models.FieldErrors, body string) {
	n := utf8.RuneCountInString(strings.TrimSpace(body))
	switch {
	case n == 0:
		errs.Add("body", "comment body is required")
	case n > MaxCommentLength:
		errs.Add("body", fmt.Sprintf("comment cannot exceed %d characters", MaxCommentLength))
	}
}
