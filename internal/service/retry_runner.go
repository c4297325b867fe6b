package service

import (
	"context"
	"fmt"
	"time"

	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/repository"
	"go.uber.org/zap"
)

const retryBatchLimit = 100

// RetryRunner drains due retry rows and re-enters the dispatch path for each.
// A retry row is claimed before processing so overlapping runs never double
// send the same attempt.
type RetryRunner struct {
	retries    repository.RetryRepository
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewRetryRunner(retries repository.RetryRepository, dispatcher *Dispatcher, logger *zap.Logger) (*RetryRunner, error) {
	if retries == nil {
		return nil, fmt.Errorf("retry repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryRunner{
		retries:    retries,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (r *RetryRunner) RunRetries(ctx context.Context) (RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := r.now()
	defer func() {
		if r.dispatcher.metrics != nil {
			r.dispatcher.metrics.ObserveRunDuration("retry", r.now().Sub(start))
		}
	}()

	due, err := r.retries.GetDue(ctx, r.now(), retryBatchLimit)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to fetch due retries: %w", err)
	}

	collector := &summaryCollector{}
	for i := range due {
		retry := due[i]

		claimed, err := r.retries.MarkProcessing(ctx, retry.ID)
		if err != nil {
			r.logger.Error("failed to claim retry", zap.String("retryId", retry.ID), zap.Error(err))
			collector.addFailed()
			continue
		}
		if !claimed {
			collector.addSkipped()
			continue
		}

		result := r.dispatcher.dispatch(ctx, retry.PostID, retry.AttemptNumber+1)
		switch result.status {
		case dispatchSent:
			if err := r.retries.MarkOutcome(ctx, retry.ID, domain.RetrySuccess, nil); err != nil {
				r.logger.Error("failed to mark retry outcome", zap.String("retryId", retry.ID), zap.Error(err))
			}
			collector.addSucceeded()

		case dispatchSkipped:
			// The post became undispatchable between scheduling and now,
			// usually because a concurrent path already resolved it.
			if err := r.retries.MarkOutcome(ctx, retry.ID, domain.RetrySuccess, nil); err != nil {
				r.logger.Error("failed to mark retry outcome", zap.String("retryId", retry.ID), zap.Error(err))
			}
			collector.addSkipped()

		default:
			lastError := result.errMessage
			if err := r.retries.MarkOutcome(ctx, retry.ID, domain.RetryFailed, &lastError); err != nil {
				r.logger.Error("failed to mark retry outcome", zap.String("retryId", retry.ID), zap.Error(err))
			}
			collector.addFailed()
		}

		// A rate-limited backend will reject the rest of the batch too; stop
		// and let the next run pick up the remainder.
		if result.rateLimited {
			r.logger.Warn("backend rate limited, stopping retry run early",
				zap.String("postId", retry.PostID),
				zap.Int("remaining", len(due)-i-1),
			)
			break
		}
	}

	return collector.result(), nil
}
