package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"penpoint/internal/engagement"
	"penpoint/internal/models"
	"penpoint/internal/observability"
	"penpoint/internal/repository"
	"penpoint/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

type CommentService struct {
	store repository.Store
	now   func() time.Time
}

type CreateCommentInput struct {
	PostID   string  `json:"-"`
	Body     string  `json:"body"`
	ParentID *string `json:"parent_comment_id"`
}

func NewCommentService(store repository.Store) *CommentService {
	return &CommentService{store: store, now: time.Now}
}

// ListComments returns a page of live top-level comments, newest first,
// each carrying its live replies in reply-sequence order. Comments of a
// post the actor cannot read are reported as NOT_FOUND.
func (s *CommentService) ListComments(ctx context.Context, actor *models.Actor, postID string, page, pageSize int) (*models.Page[*models.Comment], error) {
	if _, err := s.readablePost(ctx, actor, postID); err != nil {
		return nil, err
	}
	page, size := normalizePage(page, pageSize)

	top, total, err := s.store.Comments().ListTopLevel(ctx, postID, (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	if len(top) > 0 {
		ids := make([]string, 0, len(top))
		for _, c := range top {
			ids = append(ids, c.ID)
		}
		replies, err := s.store.Comments().ListReplies(ctx, ids)
		if err != nil {
			return nil, err
		}
		attachThreads(top, replies)
	}
	return &models.Page[*models.Comment]{Items: top, Total: total, Page: page, PageSize: size}, nil
}

// attachThreads groups replies under their parents following each
// parent's reply sequence. Replies missing from the sequence keep their
// creation order after the linked ones.
func attachThreads(top, replies []*models.Comment) {
	byParent := make(map[string][]*models.Comment, len(top))
	for _, r := range replies {
		if r.ParentCommentID != nil {
			byParent[*r.ParentCommentID] = append(byParent[*r.ParentCommentID], r)
		}
	}
	for _, parent := range top {
		children := byParent[parent.ID]
		if len(children) == 0 {
			continue
		}
		byID := make(map[string]*models.Comment, len(children))
		for _, c := range children {
			byID[c.ID] = c
		}
		thread := make([]*models.Comment, 0, len(children))
		for _, id := range parent.Replies {
			if c, ok := byID[id]; ok {
				thread = append(thread, c)
				delete(byID, id)
			}
		}
		for _, c := range children {
			if _, left := byID[c.ID]; left {
				thread = append(thread, c)
			}
		}
		parent.Thread = thread
	}
}

func (s *CommentService) CreateComment(ctx context.Context, actor *models.Actor, in CreateCommentInput) (*models.Comment, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.CreateComment", attribute.String("post.id", in.PostID))
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var errs models.FieldErrors
	validation.CommentBody(&errs, in.Body)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	post, err := s.store.Posts().GetByID(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if !post.IsPublished() {
		return nil, models.NewInvalidStateError("Comments are only allowed on published posts")
	}

	var parentID *string
	if in.ParentID != nil && strings.TrimSpace(*in.ParentID) != "" {
		id := strings.TrimSpace(*in.ParentID)
		if err := s.checkParent(ctx, post.ID, id); err != nil {
			return nil, err
		}
		parentID = &id
	}

	comment := &models.Comment{
		Body:            strings.TrimSpace(in.Body),
		PostID:          post.ID,
		AuthorID:        actor.ID,
		ParentCommentID: parentID,
	}
	err = s.store.Atomically(ctx, func(tx repository.Store) error {
		if err := tx.Posts().Lock(ctx, post.ID); err != nil {
			return err
		}
		if err := tx.Comments().Create(ctx, comment); err != nil {
			return err
		}
		if parentID != nil {
			if err := tx.Comments().AppendReply(ctx, *parentID, comment.ID); err != nil {
				return err
			}
		}
		_, err := engagement.NewSynchronizer(tx).SyncCommentsCount(ctx, post.ID)
		return err
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	action := "create"
	if parentID != nil {
		action = "reply"
	}
	observability.CommentEvents.WithLabelValues(action).Inc()
	observability.Logger.InfoContext(ctx, "Comment created",
		slog.String("comment_id", comment.ID),
		slog.String("post_id", post.ID),
		slog.Bool("reply", parentID != nil),
	)
	return comment, nil
}

// checkParent enforces the two-level thread: the parent must be a live
// top-level comment on the same post.
func (s *CommentService) checkParent(ctx context.Context, postID, parentID string) error {
	parent, err := s.store.Comments().GetByID(ctx, parentID)
	if models.IsNotFound(err) {
		return models.NewInvalidParentError("Parent comment does not exist")
	}
	if err != nil {
		return err
	}
	switch {
	case parent.PostID != postID:
		return models.NewInvalidParentError("Parent comment belongs to another post")
	case !parent.IsTopLevel():
		return models.NewInvalidParentError("Replies can only be made to top-level comments")
	case parent.IsDeleted:
		return models.NewInvalidParentError("Cannot reply to a deleted comment")
	}
	return nil
}

func (s *CommentService) EditComment(ctx context.Context, actor *models.Actor, id, body string) (*models.Comment, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.EditComment", attribute.String("comment.id", id))
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var errs models.FieldErrors
	validation.CommentBody(&errs, body)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	comment, err := s.store.Comments().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != actor.ID {
		return nil, models.NewForbiddenError("You can only edit your own comments")
	}
	if comment.IsDeleted {
		return nil, repository.ErrCommentDeleted
	}

	now := s.now()
	err = s.store.Comments().Update(ctx, id, map[string]interface{}{
		models.FieldBody:     strings.TrimSpace(body),
		models.FieldIsEdited: true,
		models.FieldEditedAt: now,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.CommentEvents.WithLabelValues("edit").Inc()
	return s.store.Comments().GetByID(ctx, id)
}

// DeleteComment soft-deletes a comment. Its id stays in the parent's reply
// sequence. Deleting an already deleted comment succeeds without changes.
func (s *CommentService) DeleteComment(ctx context.Context, actor *models.Actor, id string) error {
	span, ctx := observability.NewSpan(ctx, "CommentService.DeleteComment", attribute.String("comment.id", id))
	defer span.End()

	if err := requireActor(actor); err != nil {
		return err
	}
	comment, err := s.store.Comments().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(comment.AuthorID) {
		return models.NewForbiddenError("You can only delete your own comments")
	}
	if comment.IsDeleted {
		return nil
	}

	err = s.store.Atomically(ctx, func(tx repository.Store) error {
		if err := tx.Posts().Lock(ctx, comment.PostID); err != nil {
			return err
		}
		changed, err := tx.Comments().SoftDelete(ctx, id, s.now())
		if err != nil || !changed {
			return err
		}
		_, err = engagement.NewSynchronizer(tx).SyncCommentsCount(ctx, comment.PostID)
		return err
	})
	if err != nil {
		span.SetError(err)
		return err
	}
	observability.CommentEvents.WithLabelValues("delete").Inc()
	observability.Logger.InfoContext(ctx, "Comment deleted",
		slog.String("comment_id", id),
		slog.String("post_id", comment.PostID),
	)
	return nil
}

func (s *CommentService) ToggleCommentLike(ctx context.Context, actor *models.Actor, id string) (*models.LikeResult, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.ToggleCommentLike", attribute.String("comment.id", id))
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	liked, count, err := s.store.Comments().ToggleLike(ctx, id, actor.ID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.LikesToggled.WithLabelValues("comment", observability.ToggleAction(liked)).Inc()
	return &models.LikeResult{Liked: liked, LikesCount: count}, nil
}

func (s *CommentService) GetComment(ctx context.Context, actor *models.Actor, id string) (*models.Comment, error) {
	comment, err := s.store.Comments().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.readablePost(ctx, actor, comment.PostID); err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewNotFoundError("Comment", id)
		}
		return nil, err
	}
	return comment, nil
}

func (s *CommentService) readablePost(ctx context.Context, actor *models.Actor, postID string) (*models.Post, error) {
	post, err := s.store.Posts().GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !canRead(actor, post) {
		return nil, models.NewNotFoundError("Post", postID)
	}
	return post, nil
}
