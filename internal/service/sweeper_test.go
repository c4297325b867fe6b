package service

import (
	"context"
	"testing"
	"time"

	"github.com/postlane/publish-engine/internal/domain"
	"go.uber.org/zap"
)

func postingPost(id string, startedAt time.Time) *domain.Post {
	p := scheduledPost(id, startedAt)
	p.Status = domain.StatusPosting
	started := startedAt
	p.ProcessingStartedAt = &started
	return p
}

func newTestSweeper(t *testing.T, posts *memPostRepo, logs *memLogRepo) *Sweeper {
	t.Helper()
	s, err := NewSweeper(posts, logs, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.now = func() time.Time { return testNow }
	return s
}

func TestRunStuckSweep_FailsAbandonedPosts(t *testing.T) {
	t.Parallel()

	posts := newMemPostRepo(
		postingPost("stuck", testNow.Add(-20*time.Minute)),
		postingPost("fresh", testNow.Add(-2*time.Minute)),
	)
	logs := newMemLogRepo()
	s := newTestSweeper(t, posts, logs)

	summary, err := s.RunStuckSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStuckSweep: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded)
	}

	swept := posts.get("stuck")
	if swept.Status != domain.StatusFailed {
		t.Fatalf("stuck post status = %s, want FAILED", swept.Status)
	}
	if swept.ErrorMessage == nil || *swept.ErrorMessage == "" {
		t.Fatal("swept post has no error message")
	}
	if posts.get("fresh").Status != domain.StatusPosting {
		t.Fatalf("fresh post status = %s, want POSTING untouched", posts.get("fresh").Status)
	}
	if logs.countKind(domain.LogFailed) != 1 {
		t.Fatalf("failed logs = %d, want 1", logs.countKind(domain.LogFailed))
	}
}

func TestRunStuckSweep_SecondPassIsIdempotent(t *testing.T) {
	t.Parallel()

	posts := newMemPostRepo(postingPost("stuck", testNow.Add(-30*time.Minute)))
	logs := newMemLogRepo()
	s := newTestSweeper(t, posts, logs)

	if _, err := s.RunStuckSweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	second, err := s.RunStuckSweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	if second.Succeeded != 0 {
		t.Fatalf("second sweep succeeded = %d, want 0", second.Succeeded)
	}
	if logs.countKind(domain.LogFailed) != 1 {
		t.Fatalf("failed logs = %d, want exactly 1 across both sweeps", logs.countKind(domain.LogFailed))
	}
}

func TestRunStuckSweep_NothingStuck(t *testing.T) {
	t.Parallel()

	posts := newMemPostRepo(scheduledPost("p1", testNow))
	s := newTestSweeper(t, posts, newMemLogRepo())

	summary, err := s.RunStuckSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStuckSweep: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("processed = %d, want 0", summary.Processed)
	}
}
