package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/postlane/publish-engine/internal/backend"
	"github.com/postlane/publish-engine/internal/credit"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/observability"
	"github.com/postlane/publish-engine/internal/ratelimit"
	"github.com/postlane/publish-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Due window around "now" for regular dispatch.
	dueWindowPast   = time.Minute
	dueWindowFuture = time.Minute

	// Catch-up bounds for posts missed during downtime.
	catchUpWindow = 6 * time.Hour
	catchUpLimit  = 5

	retryDelay = 5 * time.Minute

	minDispatchConcurrency = 1
)

type dispatchStatus int

const (
	dispatchSkipped dispatchStatus = iota
	dispatchSent
	dispatchFailed
)

type dispatchResult struct {
	status      dispatchStatus
	rateLimited bool
	errMessage  string
}

// Dispatcher selects due posts, claims them one at a time, and routes each to
// its project's configured backend. It owns the shared per-post dispatch path
// the retry runner re-enters.
type Dispatcher struct {
	posts       repository.PostRepository
	retries     repository.RetryRepository
	logs        repository.LogRepository
	backends    map[domain.BackendKind]backend.Backend
	gate        credit.Gate
	limiter     ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewDispatcher(
	posts repository.PostRepository,
	retries repository.RetryRepository,
	logs repository.LogRepository,
	backends []backend.Backend,
	gate credit.Gate,
	limiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if posts == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("log repository is required")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("credit gate is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minDispatchConcurrency {
		concurrency = minDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := make(map[domain.BackendKind]backend.Backend, len(backends))
	for _, b := range backends {
		registry[b.Kind()] = b
	}

	return &Dispatcher{
		posts:       posts,
		retries:     retries,
		logs:        logs,
		backends:    registry,
		gate:        gate,
		limiter:     limiter,
		logger:      logger,
		metrics:     nil,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// RunDueDispatch processes posts inside the due window plus a bounded batch
// of overdue posts, oldest first. Safe to invoke concurrently with itself and
// the other runners: the per-post claim suppresses duplicate sends.
func (d *Dispatcher) RunDueDispatch(ctx context.Context) (RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := d.now()
	defer func() {
		if d.metrics != nil {
			d.metrics.ObserveRunDuration("dispatch", d.now().Sub(start))
		}
	}()

	now := d.now()

	due, err := d.posts.GetDue(ctx, now.Add(-dueWindowPast), now.Add(dueWindowFuture))
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to fetch due posts: %w", err)
	}

	overdue, err := d.posts.GetOverdue(ctx, now.Add(-catchUpWindow), now.Add(-dueWindowPast), catchUpLimit)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to fetch overdue posts: %w", err)
	}

	seen := make(map[string]bool, len(due)+len(overdue))
	batch := make([]domain.Post, 0, len(due)+len(overdue))
	for _, p := range append(due, overdue...) {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		batch = append(batch, p)
	}

	collector := &summaryCollector{}
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	// A rate-limited backend aborts the rest of the batch; the remaining
	// posts stay untouched for the next invocation.
	var rateLimited atomic.Bool
	for i := range batch {
		post := batch[i]
		g.Go(func() error {
			if rateLimited.Load() {
				return nil
			}
			result := d.dispatch(groupCtx, post.ID, 1)
			if result.rateLimited {
				rateLimited.Store(true)
			}
			switch result.status {
			case dispatchSent:
				collector.addSucceeded()
			case dispatchSkipped:
				collector.addSkipped()
			default:
				collector.addFailed()
			}
			return nil
		})
	}

	_ = g.Wait()
	summary := collector.result()
	if rateLimited.Load() && summary.Processed < len(batch) {
		d.logger.Warn("backend rate limited, leaving remaining posts for the next run",
			zap.Int("remaining", len(batch)-summary.Processed),
		)
	}
	return summary, nil
}

// dispatch runs the full per-post send path. nextAttempt is the retry row
// scheduled if this attempt fails with a retryable error; the initial
// dispatch passes 1, a retry of attempt N passes N+1.
func (d *Dispatcher) dispatch(ctx context.Context, postID string, nextAttempt int) dispatchResult {
	now := d.now()

	claimed, err := d.posts.ClaimForPosting(ctx, postID, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.logger.Warn("post not found during claim, skipping", zap.String("postId", postID))
			return dispatchResult{status: dispatchSkipped}
		}
		d.logger.Error("failed to claim post", zap.String("postId", postID), zap.Error(err))
		return dispatchResult{status: dispatchFailed, errMessage: err.Error()}
	}

	// Nil means another path already owns or resolved this post.
	if claimed == nil {
		return dispatchResult{status: dispatchSkipped}
	}

	b, ok := d.backends[claimed.Backend]
	if !ok {
		message := fmt.Sprintf("no backend registered for kind %s", claimed.Backend)
		d.recordFailure(ctx, claimed, message, nil)
		return dispatchResult{status: dispatchFailed, errMessage: message}
	}

	backendName := strings.ToLower(claimed.Backend.String())
	if err := d.limiter.Wait(ctx, backendName); err != nil {
		message := fmt.Sprintf("rate limiter wait failed: %v", err)
		d.recordFailure(ctx, claimed, message, nil)
		d.scheduleRetry(ctx, claimed, nextAttempt, message)
		return dispatchResult{status: dispatchFailed, errMessage: message}
	}

	sendStart := d.now()
	result, sendErr := b.Send(ctx, *claimed)
	if d.metrics != nil {
		d.metrics.ObserveSendDuration(backendName, d.now().Sub(sendStart))
	}

	if sendErr != nil {
		return d.handleSendFailure(ctx, claimed, sendErr, nextAttempt)
	}

	// Billing happens strictly after the backend accepted work and before the
	// post is finalized, so credits reflect only submitted sends.
	if gateErr := d.gate.Authorize(ctx, claimed.UserID, credit.FeaturePublish); gateErr != nil {
		return d.handleGateFailure(ctx, claimed, gateErr, nextAttempt)
	}

	return d.recordSendSuccess(ctx, claimed, result)
}

func (d *Dispatcher) handleSendFailure(ctx context.Context, post *domain.Post, sendErr error, nextAttempt int) dispatchResult {
	message := sendErr.Error()

	rateLimited := backend.IsRateLimited(sendErr)
	d.recordFailure(ctx, post, message, map[string]any{"attempt": nextAttempt})

	if backend.IsTransient(sendErr) {
		d.scheduleRetry(ctx, post, nextAttempt, message)
	}

	return dispatchResult{
		status:      dispatchFailed,
		rateLimited: rateLimited,
		errMessage:  message,
	}
}

func (d *Dispatcher) handleGateFailure(ctx context.Context, post *domain.Post, gateErr error, nextAttempt int) dispatchResult {
	message := gateErr.Error()
	d.recordFailure(ctx, post, message, map[string]any{"stage": "credit_gate"})

	// Insufficient credits is terminal: retrying cannot succeed until the
	// user tops up, which re-enters through a fresh post.
	if !errors.Is(gateErr, domain.ErrInsufficientCredits) {
		d.scheduleRetry(ctx, post, nextAttempt, message)
	}

	return dispatchResult{status: dispatchFailed, errMessage: message}
}

func (d *Dispatcher) recordSendSuccess(ctx context.Context, post *domain.Post, result *backend.SendResult) dispatchResult {
	now := d.now()
	backendName := strings.ToLower(post.Backend.String())

	if result == nil {
		result = &backend.SendResult{RemoteStatus: backend.RemotePending}
	}

	switch {
	case result.Published():
		publishedAt := result.PublishedAt
		if publishedAt == nil {
			publishedAt = &now
		}
		update := repository.PostedUpdate{
			RemoteStatus: &result.RemoteStatus,
			PublishedAt:  publishedAt,
			LastSyncAt:   &now,
			// A story confirmed published synchronously does not need the
			// out-of-band tag check.
			VerificationVerified: post.IsStory(),
		}
		if result.BackendPostID != "" {
			update.BackendPostID = &result.BackendPostID
		}
		if result.Permalink != "" {
			update.PublishedURL = &result.Permalink
		}
		if result.PlatformPostID != "" {
			update.PlatformPostID = &result.PlatformPostID
		}

		if err := d.posts.MarkPosted(ctx, post.ID, update); err != nil {
			d.logger.Error("failed to mark post as posted", zap.String("postId", post.ID), zap.Error(err))
			return dispatchResult{status: dispatchFailed, errMessage: err.Error()}
		}

	case result.BackendPostID != "":
		// Backend accepted the post but publication is still in flight; the
		// reconciler resolves final status from remote state.
		if err := d.posts.RecordAccepted(ctx, post.ID, &result.BackendPostID, result.RemoteStatus); err != nil {
			d.logger.Error("failed to record accepted post", zap.String("postId", post.ID), zap.Error(err))
			return dispatchResult{status: dispatchFailed, errMessage: err.Error()}
		}

	default:
		// Accept-only webhook: confirmation arrives out of band, the stuck
		// sweep bounds the wait.
		if err := d.posts.RecordAccepted(ctx, post.ID, nil, result.RemoteStatus); err != nil {
			d.logger.Error("failed to record accepted post", zap.String("postId", post.ID), zap.Error(err))
			return dispatchResult{status: dispatchFailed, errMessage: err.Error()}
		}
	}

	d.appendLog(ctx, post.ID, domain.LogSent, "post handed to backend", map[string]any{
		"backend":      backendName,
		"remoteStatus": result.RemoteStatus,
	})
	if d.metrics != nil {
		d.metrics.IncPostSent(backendName)
	}

	return dispatchResult{status: dispatchSent}
}

func (d *Dispatcher) recordFailure(ctx context.Context, post *domain.Post, message string, metadata map[string]any) {
	if err := d.posts.MarkFailed(ctx, post.ID, message); err != nil {
		d.logger.Error("failed to mark post as failed",
			zap.String("postId", post.ID),
			zap.Error(err),
		)
	}

	d.appendLog(ctx, post.ID, domain.LogFailed, message, metadata)

	if d.metrics != nil {
		reason := "send_error"
		if strings.Contains(message, domain.ErrInsufficientCredits.Error()) {
			reason = "insufficient_credits"
		}
		d.metrics.IncPostFailed(strings.ToLower(post.Backend.String()), reason)
	}
}

// scheduleRetry inserts the next retry row unless the attempt cap is reached.
func (d *Dispatcher) scheduleRetry(ctx context.Context, post *domain.Post, nextAttempt int, message string) {
	if nextAttempt > domain.MaxRetryAttempts {
		return
	}

	retry := &domain.PostRetry{
		ID:            uuid.NewString(),
		PostID:        post.ID,
		AttemptNumber: nextAttempt,
		Status:        domain.RetryPending,
		ScheduledFor:  d.now().Add(retryDelay),
		LastError:     &message,
	}

	if err := d.retries.Create(ctx, retry); err != nil {
		d.logger.Error("failed to schedule retry",
			zap.String("postId", post.ID),
			zap.Int("attempt", nextAttempt),
			zap.Error(err),
		)
		return
	}

	if d.metrics != nil {
		d.metrics.IncRetryScheduled(strings.ToLower(post.Backend.String()))
	}
}

func (d *Dispatcher) appendLog(ctx context.Context, postID string, kind domain.LogKind, message string, metadata map[string]any) {
	entry := &domain.PostLog{
		ID:       uuid.NewString(),
		PostID:   postID,
		Kind:     kind,
		Message:  message,
		Metadata: metadata,
	}
	if err := d.logs.Create(ctx, entry); err != nil {
		d.logger.Error("failed to append post log",
			zap.String("postId", postID),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
	}
}
