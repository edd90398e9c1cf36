package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"penpoint/internal/observability"
	"penpoint/internal/repository"

	"github.com/robfig/cron/v3"
)

// DefaultBatchSize is the number of post ids fetched per page while walking.
const DefaultBatchSize = 200

// Report summarises one reconciler pass.
type Report struct {
	Posts            int           `json:"posts"`
	Comments         int           `json:"comments"`
	PostsRepaired    int           `json:"posts_repaired"`
	CommentsRepaired int           `json:"comments_repaired"`
	Failures         int           `json:"failures"`
	Duration         time.Duration `json:"duration"`
}

// Reconciler walks every post and re-syncs its counters and the like
// counters of its live comments, repairing drift left by partial failures.
type Reconciler struct {
	store     repository.Store
	syncer    *Synchronizer
	batchSize int

	mu   sync.Mutex
	cron *cron.Cron
}

func NewReconciler(store repository.Store, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reconciler{store: store, syncer: NewSynchronizer(store), batchSize: batchSize}
}

// Start schedules RunOnce on a cron spec such as "@every 15m". Overlapping
// runs are skipped.
func (r *Reconciler) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			observability.Logger.Error("Counter reconciliation failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c
	observability.Logger.Info("Counter reconciler scheduled", slog.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and returns a context done when a running pass ends.
func (r *Reconciler) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := r.cron.Stop()
	r.cron = nil
	return ctx
}

// RunOnce performs one full pass. Per-entity failures are logged and
// counted; only a failure to page through posts aborts the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		observability.ReconcileDuration.Observe(rep.Duration.Seconds())
	}()

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			observability.ReconcileRuns.WithLabelValues("error").Inc()
			return rep, err
		}
		ids, err := r.store.Posts().IDsAfter(ctx, after, r.batchSize)
		if err != nil {
			observability.ReconcileRuns.WithLabelValues("error").Inc()
			return rep, fmt.Errorf("page posts after %q: %w", after, err)
		}
		for _, id := range ids {
			r.reconcilePost(ctx, id, &rep)
		}
		if len(ids) < r.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	result := "ok"
	if rep.Failures > 0 {
		result = "partial"
	}
	observability.ReconcileRuns.WithLabelValues(result).Inc()
	observability.Logger.InfoContext(ctx, "Counter reconciliation finished",
		slog.Int("posts", rep.Posts),
		slog.Int("comments", rep.Comments),
		slog.Int("posts_repaired", rep.PostsRepaired),
		slog.Int("comments_repaired", rep.CommentsRepaired),
		slog.Int("failures", rep.Failures),
	)
	return rep, nil
}

func (r *Reconciler) reconcilePost(ctx context.Context, postID string, rep *Report) {
	post, err := r.store.Posts().GetByID(ctx, postID)
	if err != nil {
		r.fail(ctx, rep, "post", postID, err)
		return
	}
	rep.Posts++

	repaired := false
	likes, err := r.syncer.SyncPostLikes(ctx, postID)
	if err != nil {
		r.fail(ctx, rep, "post", postID, err)
	} else if likes != post.LikesCount {
		observability.CounterDrift.WithLabelValues(CounterPostLikes).Inc()
		repaired = true
	}

	comments, err := r.syncer.SyncCommentsCount(ctx, postID)
	if err != nil {
		r.fail(ctx, rep, "post", postID, err)
	} else if comments != post.CommentsCount {
		observability.CounterDrift.WithLabelValues(CounterPostComments).Inc()
		repaired = true
	}
	if repaired {
		rep.PostsRepaired++
	}

	ids, err := r.store.Comments().IDsByPost(ctx, postID)
	if err != nil {
		r.fail(ctx, rep, "post", postID, err)
		return
	}
	for _, id := range ids {
		r.reconcileComment(ctx, id, rep)
	}
}

func (r *Reconciler) reconcileComment(ctx context.Context, commentID string, rep *Report) {
	comment, err := r.store.Comments().GetByID(ctx, commentID)
	if err != nil {
		r.fail(ctx, rep, "comment", commentID, err)
		return
	}
	rep.Comments++

	likes, err := r.syncer.SyncCommentLikes(ctx, commentID)
	if err != nil {
		r.fail(ctx, rep, "comment", commentID, err)
		return
	}
	if likes != comment.LikesCount {
		observability.CounterDrift.WithLabelValues(CounterCommentLikes).Inc()
		rep.CommentsRepaired++
	}
}

func (r *Reconciler) fail(ctx context.Context, rep *Report, kind, id string, err error) {
	rep.Failures++
	observability.Logger.WarnContext(ctx, "Counter reconciliation step failed",
		slog.String("kind", kind),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
}

// cronLogger routes robfig/cron logs through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	observability.Logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	observability.Logger.Error("cron: "+msg, args...)
}
