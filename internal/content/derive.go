// Package content computes the derived fields of a post from its title,
// body and status.
package content

import (
	"bytes"
	"math"
	"regexp"
	"strings"
	"time"

	"penpoint/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
)

const (
	// MaxSlugLength bounds generated slugs.
	MaxSlugLength = 50
	// WordsPerMinute is the reading speed used for ReadTime.
	WordsPerMinute = 200
	// ExcerptLength is the number of characters kept in a generated excerpt.
	ExcerptLength = 150
	ellipsis      = "..."
)

var (
	slugStrip      = regexp.MustCompile(`[^a-z0-9\s]`)
	slugWhitespace = regexp.MustCompile(`\s+`)
	markdown       = goldmark.New()
)

// Slug derives a URL slug from a post title. "Hello World!" becomes
// "hello-world". Titles with no usable characters fall back to a random
// "post-xxxxxxxx" slug.
func Slug(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = slugWhitespace.ReplaceAllString(s, "-")
	if len(s) > MaxSlugLength {
		s = strings.TrimRight(s[:MaxSlugLength], "-")
	}
	if s == "" {
		return FallbackSlug()
	}
	return s
}

// FallbackSlug returns a random slug of the form post-xxxxxxxx.
func FallbackSlug() string {
	return "post-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// PlainText strips markup from a post body. Markdown is rendered to HTML
// first so both formats reduce to the same visible text.
func PlainText(body string, format models.ContentFormat) string {
	html := body
	if format == models.ContentFormatMarkdown {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(body), &buf); err == nil {
			html = buf.String()
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	// Block elements are not separated by whitespace in Text(); pad them so
	// adjacent paragraphs do not fuse into one word.
	doc.Find("p, div, br, li, h1, h2, h3, h4, h5, h6, blockquote, pre, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.TrimSpace(doc.Text())
}

// ReadTime returns the estimated reading time in whole minutes, at least 1.
func ReadTime(body string, format models.ContentFormat) int {
	words := len(strings.Fields(PlainText(body, format)))
	minutes := int(math.Ceil(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Excerpt returns the first ExcerptLength characters of the visible text
// followed by an ellipsis.
func Excerpt(body string, format models.ContentFormat) string {
	text := strings.Join(strings.Fields(PlainText(body, format)), " ")
	runes := []rune(text)
	if len(runes) > ExcerptLength {
		runes = runes[:ExcerptLength]
	}
	return string(runes) + ellipsis
}

// PublishedAt returns now when status is published and no publication time
// has been recorded yet; otherwise existing is returned unchanged.
func PublishedAt(status models.PostStatus, existing *time.Time, now time.Time) *time.Time {
	if status == models.PostStatusPublished && existing == nil {
		t := now
		return &t
	}
	return existing
}

// Fields is the set of derived values for a post.
type Fields struct {
	Slug        string
	Excerpt     string
	ExcerptAuto bool
	ReadTime    int
	PublishedAt *time.Time
}

// Input carries what Derive needs from a post being created.
type Input struct {
	Title       string
	Body        string
	Format      models.ContentFormat
	Status      models.PostStatus
	Excerpt     string
	PublishedAt *time.Time
}

// Derive computes all derived fields for a new post. A supplied excerpt is
// kept as-is.
func Derive(in Input, now time.Time) Fields {
	f := Fields{
		Slug:        Slug(in.Title),
		Excerpt:     in.Excerpt,
		ReadTime:    ReadTime(in.Body, in.Format),
		PublishedAt: PublishedAt(in.Status, in.PublishedAt, now),
	}
	if strings.TrimSpace(f.Excerpt) == "" {
		f.Excerpt = Excerpt(in.Body, in.Format)
		f.ExcerptAuto = true
	}
	return f
}

// Apply copies derived fields onto a post that has not been saved yet.
func (f Fields) Apply(p *models.Post) {
	if p.Slug == "" {
		p.Slug = f.Slug
	}
	p.Excerpt = f.Excerpt
	p.ExcerptAuto = f.ExcerptAuto
	p.ReadTime = f.ReadTime
	p.PublishedAt = f.PublishedAt
}
