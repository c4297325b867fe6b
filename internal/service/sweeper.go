package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/observability"
	"github.com/postlane/publish-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	// A post still in POSTING after this long has lost its confirmation and
	// will never resolve on its own.
	stuckThreshold = 10 * time.Minute

	stuckBatchLimit = 100

	stuckMessage = "posting did not complete within the allowed window"
)

// Sweeper force-fails posts abandoned mid-dispatch, for example by a crashed
// worker or a webhook whose confirmation never arrived.
type Sweeper struct {
	posts   repository.PostRepository
	logs    repository.LogRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewSweeper(posts repository.PostRepository, logs repository.LogRepository, logger *zap.Logger) (*Sweeper, error) {
	if posts == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("log repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		posts:  posts,
		logs:   logs,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Sweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Sweeper) RunStuckSweep(ctx context.Context) (RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveRunDuration("sweep", s.now().Sub(start))
		}
	}()

	cutoff := s.now().Add(-stuckThreshold)

	stuck, err := s.posts.GetStuck(ctx, cutoff, stuckBatchLimit)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to fetch stuck posts: %w", err)
	}

	collector := &summaryCollector{}
	for i := range stuck {
		post := stuck[i]

		transitioned, err := s.posts.FailStuck(ctx, post.ID, cutoff, stuckMessage)
		if err != nil {
			s.logger.Error("failed to sweep stuck post", zap.String("postId", post.ID), zap.Error(err))
			collector.addFailed()
			continue
		}
		// A concurrent sweep or a late confirmation already moved the post.
		if !transitioned {
			collector.addSkipped()
			continue
		}

		entry := &domain.PostLog{
			ID:      uuid.NewString(),
			PostID:  post.ID,
			Kind:    domain.LogFailed,
			Message: stuckMessage,
			Metadata: map[string]any{
				"sweptAt": s.now().UTC().Format(time.RFC3339),
			},
		}
		if err := s.logs.Create(ctx, entry); err != nil {
			s.logger.Error("failed to append sweep log", zap.String("postId", post.ID), zap.Error(err))
		}

		if s.metrics != nil {
			s.metrics.IncStuckSwept()
		}
		s.logger.Warn("swept stuck post to failed",
			zap.String("postId", post.ID),
			zap.Timep("processingStartedAt", post.ProcessingStartedAt),
		)
		collector.addSucceeded()
	}

	return collector.result(), nil
}
