// Package validation holds field checks for user supplied post and comment input.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"penpoint/internal/models"
)

const (
	MaxTitleLength    = 200
	MinContentLength  = 10
	MaxExcerptLength  = 300
	MaxCategoryLength = 50
	MaxTags           = 20
	MaxTagLength      = 30
)

// PostTitle checks the 1-200 character bound on titles.
func PostTitle(errs *models.FieldErrors, title string) {
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	switch {
	case n == 0:
		errs.Add("title", "title is required")
	case n > MaxTitleLength:
		errs.Add("title", fmt.Sprintf("title cannot exceed %d characters", MaxTitleLength))
	}
}

// PostContent checks that the body carries at least MinContentLength characters.
func PostContent(errs *models.FieldErrors, body string) {
	n := utf8.RuneCountInString(strings.TrimSpace(body))
	switch {
	case n == 0:
		errs.Add("content", "content is required")
	case n < MinContentLength:
		errs.Add("content", fmt.Sprintf("content must be at least %d characters", MinContentLength))
	}
}

// PostFormat accepts html, markdown or empty (html).
func PostFormat(errs *models.FieldErrors, format models.ContentFormat) {
	switch format {
	case "", models.ContentFormatHTML, models.ContentFormatMarkdown:
	default:
		errs.Add("content_format", "content_format must be html or markdown")
	}
}

// CreateStatus accepts draft, published or empty. Posts cannot be created archived.
func CreateStatus(errs *models.FieldErrors, status models.PostStatus) {
	switch status {
	case "", models.PostStatusDraft, models.PostStatusPublished:
	default:
		errs.Add("status", "status must be draft or published")
	}
}

// UpdateStatus accepts any known status.
func UpdateStatus(errs *models.FieldErrors, status models.PostStatus) {
	if !status.Valid() {
		errs.Add("status", "status must be draft, published or archived")
	}
}

// CoverImage requires an absolute URL when one is given.
func CoverImage(errs *models.FieldErrors, raw string) {
	if raw == "" {
		return
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add("cover_image", "cover_image must be a valid URL")
	}
}

// Excerpt bounds author supplied excerpts.
func Excerpt(errs *models.FieldErrors, excerpt string) {
	if utf8.RuneCountInString(excerpt) > MaxExcerptLength {
		errs.Add("excerpt", fmt.Sprintf("excerpt cannot exceed %d characters", MaxExcerptLength))
	}
}

// Category bounds the category name.
func Category(errs *models.FieldErrors, category string) {
	if utf8.RuneCountInString(category) > MaxCategoryLength {
		errs.Add("category", fmt.Sprintf("category cannot exceed %d characters", MaxCategoryLength))
	}
}

// Tags checks tag count and length after normalisation.
func Tags(errs *models.FieldErrors, tags []string) {
	if len(tags) > MaxTags {
		errs.Add("tags", fmt.Sprintf("a post can carry at most %d tags", MaxTags))
		return
	}
	for _, t := range tags {
		if utf8.RuneCountInString(t) > MaxTagLength {
			errs.Add("tags", fmt.Sprintf("tag %q exceeds %d characters", t, MaxTagLength))
			return
		}
	}
}

// NormalizeTags lower-cases, trims and de-duplicates tags, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NormalizeCategory trims the category and substitutes the default when empty.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return models.DefaultCategory
	}
	return category
}
