// Package engagement keeps the denormalised like and comment counters in
// line with the collections they summarise.
package engagement

import (
	"context"
	"fmt"

	"penpoint/internal/observability"
	"penpoint/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Kind names the entity whose like counter is synchronised.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

// Counter labels used in metrics.
const (
	CounterPostLikes     = "post_likes"
	CounterCommentLikes  = "comment_likes"
	CounterPostComments  = "post_comments"
	resultOK, resultFail = "ok", "error"
)

// Synchronizer recomputes counters from the authoritative collections.
// Every sync is idempotent and writes only the counter field, as one
// store operation serialised with the writes that change the collection.
type Synchronizer struct {
	store repository.Store
}

func NewSynchronizer(store repository.Store) *Synchronizer {
	return &Synchronizer{store: store}
}

// SyncCommentsCount counts the non-deleted comments of a post and stores
// the result in comments_count. Inside an Atomically unit the caller
// should hold the post's Lock before writing the comment.
func (s *Synchronizer) SyncCommentsCount(ctx context.Context, postID string) (int, error) {
	span, ctx := observability.NewSpan(ctx, "engagement.SyncCommentsCount", attribute.String("post.id", postID))
	defer span.End()

	n, err := s.store.Posts().RecountComments(ctx, postID)
	return n, s.record(span, CounterPostComments, postID, err)
}

// SyncLikesCount recounts the like set of a post or comment.
func (s *Synchronizer) SyncLikesCount(ctx context.Context, kind Kind, id string) (int, error) {
	switch kind {
	case KindPost:
		return s.SyncPostLikes(ctx, id)
	case KindComment:
		return s.SyncCommentLikes(ctx, id)
	default:
		return 0, fmt.Errorf("unknown like kind %q", kind)
	}
}

func (s *Synchronizer) SyncPostLikes(ctx context.Context, postID string) (int, error) {
	span, ctx := observability.NewSpan(ctx, "engagement.SyncPostLikes", attribute.String("post.id", postID))
	defer span.End()

	n, err := s.store.Posts().RecountLikes(ctx, postID)
	return n, s.record(span, CounterPostLikes, postID, err)
}

func (s *Synchronizer) SyncCommentLikes(ctx context.Context, commentID string) (int, error) {
	span, ctx := observability.NewSpan(ctx, "engagement.SyncCommentLikes", attribute.String("comment.id", commentID))
	defer span.End()

	n, err := s.store.Comments().RecountLikes(ctx, commentID)
	return n, s.record(span, CounterCommentLikes, commentID, err)
}

func (s *Synchronizer) record(span *observability.Span, counter, id string, err error) error {
	if err != nil {
		observability.CounterSyncs.WithLabelValues(counter, resultFail).Inc()
		span.SetError(err)
		return fmt.Errorf("sync %s of %s: %w", counter, id, err)
	}
	observability.CounterSyncs.WithLabelValues(counter, resultOK).Inc()
	return nil
}
