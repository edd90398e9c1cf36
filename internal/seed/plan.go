package seed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Plan describes how much demo content to generate.
type Plan struct {
	Users             int      `yaml:"users"`
	PostsPerUser      int      `yaml:"posts_per_user"`
	CommentsPerPost   int      `yaml:"comments_per_post"`
	RepliesPerComment int      `yaml:"replies_per_comment"`
	PublishRatio      float64  `yaml:"publish_ratio"`
	MarkdownRatio     float64  `yaml:"markdown_ratio"`
	LikeRatio         float64  `yaml:"like_ratio"`
	Tags              []string `yaml:"tags"`
	Categories        []string `yaml:"categories"`
	// Seed makes generated content reproducible. Zero picks a random seed.
	Seed int64 `yaml:"seed"`
}

var defaultTags = []string{"go", "databases", "web", "devops", "testing", "career", "design", "performance"}

var defaultCategories = []string{"Engineering", "Tutorials", "Opinion", "News"}

// Presets are the named plans accepted by the seed command.
var Presets = map[string]Plan{
	"small": {
		Users: 5, PostsPerUser: 2, CommentsPerPost: 2, RepliesPerComment: 1,
		PublishRatio: 0.8, MarkdownRatio: 0.5, LikeRatio: 0.3,
	},
	"default": {
		Users: 25, PostsPerUser: 4, CommentsPerPost: 5, RepliesPerComment: 2,
		PublishRatio: 0.8, MarkdownRatio: 0.5, LikeRatio: 0.25,
	},
	"large": {
		Users: 200, PostsPerUser: 10, CommentsPerPost: 10, RepliesPerComment: 3,
		PublishRatio: 0.9, MarkdownRatio: 0.5, LikeRatio: 0.1,
	},
}

// Preset returns the named plan with defaults applied.
func Preset(name string) (Plan, error) {
	p, ok := Presets[name]
	if !ok {
		names := make([]string, 0, len(Presets))
		for n := range Presets {
			names = append(names, n)
		}
		sort.Strings(names)
		return Plan{}, fmt.Errorf("unknown preset %q (available: %v)", name, names)
	}
	return p.withDefaults(), nil
}

// LoadPlan reads a YAML plan file.
func LoadPlan(path string) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(raw)
}

// ParsePlan decodes and validates a YAML plan. Unknown keys are rejected.
func ParsePlan(raw []byte) (Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (p Plan) withDefaults() Plan {
	if len(p.Tags) == 0 {
		p.Tags = defaultTags
	}
	if len(p.Categories) == 0 {
		p.Categories = defaultCategories
	}
	return p
}

// Validate rejects negative counts and ratios outside [0, 1].
func (p Plan) Validate() error {
	var errs []error
	if p.Users <= 0 {
		errs = append(errs, errors.New("users must be positive"))
	}
	for name, n := range map[string]int{
		"posts_per_user":      p.PostsPerUser,
		"comments_per_post":   p.CommentsPerPost,
		"replies_per_comment": p.RepliesPerComment,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", name))
		}
	}
	for name, r := range map[string]float64{
		"publish_ratio":  p.PublishRatio,
		"markdown_ratio": p.MarkdownRatio,
		"like_ratio":     p.LikeRatio,
	} {
		if r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1", name))
		}
	}
	return errors.Join(errs...)
}
