package seed

import (
	"fmt"
	"strings"

	"penpoint/internal/models"
	"penpoint/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

// Factory builds demo users, posts and comments from a seeded faker.
type Factory struct {
	faker *gofakeit.Faker
	plan  Plan
	n     int
}

// NewFactory returns a Factory for plan. A zero plan.Seed gives random output.
func NewFactory(plan Plan) *Factory {
	return &Factory{faker: gofakeit.New(plan.Seed), plan: plan.withDefaults()}
}

func (f *Factory) next() int {
	f.n++
	return f.n
}

// chance reports true with probability p.
func (f *Factory) chance(p float64) bool {
	return f.faker.Float64() < p
}

// User returns an unsaved account with a unique username and email.
func (f *Factory) User(passwordHash string) *models.User {
	i := f.next()
	first := strings.ToLower(f.faker.FirstName())
	last := strings.ToLower(f.faker.LastName())
	return &models.User{
		Username: fmt.Sprintf("%s.%s%d", first, last, i),
		Email:    fmt.Sprintf("%s.%s%d@example.com", first, last, i),
		Password: passwordHash,
		Role:     models.RoleUser,
	}
}

// Post returns input for a new post. The body is HTML or markdown depending
// on the plan's markdown ratio.
func (f *Factory) Post() service.CreatePostInput {
	in := service.CreatePostInput{
		Title:    strings.TrimSuffix(f.faker.Sentence(f.faker.Number(3, 8)), "."),
		Status:   models.PostStatusDraft,
		Category: f.faker.RandomString(f.plan.Categories),
		Tags:     f.tags(),
	}
	if f.chance(f.plan.PublishRatio) {
		in.Status = models.PostStatusPublished
	}
	if f.chance(f.plan.MarkdownRatio) {
		in.ContentFormat = models.ContentFormatMarkdown
		in.Content = f.markdownBody()
	} else {
		in.ContentFormat = models.ContentFormatHTML
		in.Content = f.htmlBody()
	}
	if f.chance(0.3) {
		in.CoverImage = fmt.Sprintf("https://picsum.photos/seed/%s/1200/630", f.faker.UUID())
	}
	return in
}

func (f *Factory) tags() []string {
	n := f.faker.Number(0, 3)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, f.faker.RandomString(f.plan.Tags))
	}
	return out
}

func (f *Factory) paragraphs() []string {
	n := f.faker.Number(3, 8)
	out := make([]string, n)
	for i := range out {
		out[i] = f.faker.Paragraph(1, f.faker.Number(3, 7), 14, " ")
	}
	return out
}

func (f *Factory) htmlBody() string {
	var b strings.Builder
	for i, p := range f.paragraphs() {
		if i > 0 && i%3 == 0 {
			fmt.Fprintf(&b, "<h2>%s</h2>\n", f.faker.HipsterSentence(3))
		}
		fmt.Fprintf(&b, "<p>%s</p>\n", p)
	}
	return b.String()
}

func (f *Factory) markdownBody() string {
	var b strings.Builder
	for i, p := range f.paragraphs() {
		if i > 0 && i%3 == 0 {
			fmt.Fprintf(&b, "## %s\n\n", f.faker.HipsterSentence(3))
		}
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	if f.chance(0.5) {
		b.WriteString("```go\nfmt.Println(\"hello\")\n```\n")
	}
	return b.String()
}

// CommentBody returns a comment of one to three sentences.
func (f *Factory) CommentBody() string {
	return f.faker.Paragraph(1, f.faker.Number(1, 3), 12, " ")
}
