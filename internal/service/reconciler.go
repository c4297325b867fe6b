package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/postlane/publish-engine/internal/backend"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/observability"
	"github.com/postlane/publish-engine/internal/ratelimit"
	"github.com/postlane/publish-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	// Upper bound on remote lookups per reconciliation run.
	reconcileBatchLimit = 50

	// Pause between consecutive remote lookups.
	reconcilePause = 100 * time.Millisecond

	// Posts synced more recently than this are left alone.
	reconcileSyncCutoff = 30 * time.Minute
)

// Reconciler converges local post state with the backend of record. It covers
// the gap where a send was accepted but the synchronous response, or a later
// confirmation, was lost.
type Reconciler struct {
	posts   repository.PostRepository
	logs    repository.LogRepository
	source  backend.StatusSource
	limiter ratelimit.RateLimiter
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	sleep   func(time.Duration)
}

func NewReconciler(
	posts repository.PostRepository,
	logs repository.LogRepository,
	source backend.StatusSource,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Reconciler, error) {
	if posts == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("log repository is required")
	}
	if source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		posts:   posts,
		logs:    logs,
		source:  source,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *Reconciler) RunReconciliation(ctx context.Context) (RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := r.now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveRunDuration("reconcile", r.now().Sub(start))
		}
	}()

	syncedBefore := r.now().Add(-reconcileSyncCutoff)
	batch, err := r.posts.GetForReconciliation(ctx, syncedBefore, reconcileBatchLimit)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to fetch posts for reconciliation: %w", err)
	}

	collector := &summaryCollector{}
	for i := range batch {
		if i > 0 {
			r.sleep(reconcilePause)
		}
		if ctx.Err() != nil {
			break
		}

		post := batch[i]
		stop := r.reconcileOne(ctx, &post, collector)
		if stop {
			r.logger.Warn("backend rate limited, stopping reconciliation early",
				zap.Int("remaining", len(batch)-i-1))
			break
		}
	}

	return collector.result(), nil
}

// reconcileOne syncs a single post and reports whether the run should stop
// because the backend rate limited us.
func (r *Reconciler) reconcileOne(ctx context.Context, post *domain.Post, collector *summaryCollector) bool {
	if post.BackendPostID == nil || *post.BackendPostID == "" {
		collector.addSkipped()
		return false
	}

	if err := r.limiter.Wait(ctx, strings.ToLower(post.Backend.String())); err != nil {
		r.logger.Error("rate limiter wait failed", zap.String("postId", post.ID), zap.Error(err))
		collector.addFailed()
		return false
	}

	remote, err := r.source.GetPost(ctx, *post.BackendPostID)
	if err != nil {
		if backend.IsRateLimited(err) {
			collector.addSkipped()
			return true
		}
		// Lookup failures are isolated per post; the next run retries.
		r.logger.Error("remote lookup failed",
			zap.String("postId", post.ID),
			zap.String("backendPostId", *post.BackendPostID),
			zap.Error(err),
		)
		collector.addFailed()
		return false
	}

	now := r.now()

	switch remote.Status {
	case backend.RemotePublished:
		update := repository.PostedUpdate{
			RemoteStatus: &remote.Status,
			LastSyncAt:   &now,
			// The remote state is the authoritative confirmation, so a
			// published story no longer needs the tag check.
			VerificationVerified: post.IsStory(),
		}
		publishedAt := remote.PublishedAt
		if publishedAt == nil {
			publishedAt = &now
		}
		update.PublishedAt = publishedAt
		if remote.Permalink != "" {
			update.PublishedURL = &remote.Permalink
		}
		if remote.PlatformPostID != "" {
			update.PlatformPostID = &remote.PlatformPostID
		}

		if err := r.posts.MarkPosted(ctx, post.ID, update); err != nil {
			r.logger.Error("failed to mark reconciled post as posted", zap.String("postId", post.ID), zap.Error(err))
			collector.addFailed()
			return false
		}
		r.appendLog(ctx, post.ID, domain.LogSent, "publication confirmed by reconciliation", map[string]any{
			"remoteStatus": remote.Status,
		})
		if r.metrics != nil {
			r.metrics.IncReconciliationSynced("posted")
		}
		collector.addSucceeded()

	case backend.RemoteFailed, backend.RemotePartial:
		message := remote.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("backend reported status %s", remote.Status)
		}
		if err := r.posts.MarkFailed(ctx, post.ID, message); err != nil {
			r.logger.Error("failed to mark reconciled post as failed", zap.String("postId", post.ID), zap.Error(err))
			collector.addFailed()
			return false
		}
		if err := r.posts.RecordSync(ctx, post.ID, remote.Status, now); err != nil {
			r.logger.Error("failed to record sync", zap.String("postId", post.ID), zap.Error(err))
		}
		r.appendLog(ctx, post.ID, domain.LogFailed, message, map[string]any{
			"remoteStatus": remote.Status,
		})
		if r.metrics != nil {
			r.metrics.IncReconciliationSynced("failed")
		}
		collector.addSucceeded()

	default:
		// Still in flight remotely; record the observation and move on.
		if err := r.posts.RecordSync(ctx, post.ID, remote.Status, now); err != nil {
			r.logger.Error("failed to record sync", zap.String("postId", post.ID), zap.Error(err))
			collector.addFailed()
			return false
		}
		if r.metrics != nil {
			r.metrics.IncReconciliationSynced("pending")
		}
		collector.addSkipped()
	}

	return false
}

func (r *Reconciler) appendLog(ctx context.Context, postID string, kind domain.LogKind, message string, metadata map[string]any) {
	entry := &domain.PostLog{
		ID:       uuid.NewString(),
		PostID:   postID,
		Kind:     kind,
		Message:  message,
		Metadata: metadata,
	}
	if err := r.logs.Create(ctx, entry); err != nil {
		r.logger.Error("failed to append reconciliation log",
			zap.String("postId", postID),
			zap.Error(err),
		)
	}
}
