package service

import (
	"context"
	"testing"
	"time"

	"github.com/postlane/publish-engine/internal/backend"
	"github.com/postlane/publish-engine/internal/domain"
	"go.uber.org/zap"
)

func pendingRetry(id, postID string, attempt int, at time.Time) *domain.PostRetry {
	return &domain.PostRetry{
		ID:            id,
		PostID:        postID,
		AttemptNumber: attempt,
		Status:        domain.RetryPending,
		ScheduledFor:  at,
	}
}

func newTestRetryRunner(t *testing.T, retries *memRetryRepo, d *Dispatcher) *RetryRunner {
	t.Helper()
	r, err := NewRetryRunner(retries, d, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryRunner: %v", err)
	}
	r.now = func() time.Time { return testNow }
	return r
}

func TestRunRetries_SuccessfulRetryMarksOutcome(t *testing.T) {
	t.Parallel()

	post := scheduledPost("p1", testNow.Add(-time.Hour))
	post.Status = domain.StatusFailed
	posts := newMemPostRepo(post)
	retries := newMemRetryRepo(pendingRetry("r1", "p1", 1, testNow.Add(-time.Minute)))
	b := &fakeBackend{}
	d := newTestDispatcher(t, posts, retries, newMemLogRepo(), b, &fakeGate{})
	runner := newTestRetryRunner(t, retries, d)

	summary, err := runner.RunRetries(context.Background())
	if err != nil {
		t.Fatalf("RunRetries: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded)
	}
	if posts.get("p1").Status != domain.StatusPosted {
		t.Fatalf("post status = %s, want POSTED", posts.get("p1").Status)
	}

	all := retries.all()
	if all[0].Status != domain.RetrySuccess {
		t.Fatalf("retry status = %s, want SUCCESS", all[0].Status)
	}
}

func TestRunRetries_FailedRetrySchedulesNextAttempt(t *testing.T) {
	t.Parallel()

	post := scheduledPost("p1", testNow.Add(-time.Hour))
	post.Status = domain.StatusFailed
	posts := newMemPostRepo(post)
	retries := newMemRetryRepo(pendingRetry("r1", "p1", 1, testNow.Add(-time.Minute)))
	b := &fakeBackend{sendFn: func(context.Context, domain.Post) (*backend.SendResult, error) {
		return nil, &backend.BackendError{StatusCode: 503, Message: "still down", Transient: true}
	}}
	d := newTestDispatcher(t, posts, retries, newMemLogRepo(), b, &fakeGate{})
	runner := newTestRetryRunner(t, retries, d)

	if _, err := runner.RunRetries(context.Background()); err != nil {
		t.Fatalf("RunRetries: %v", err)
	}

	all := retries.all()
	if len(all) != 2 {
		t.Fatalf("retries = %d, want original plus the next attempt", len(all))
	}
	if all[0].Status != domain.RetryFailed {
		t.Fatalf("processed retry status = %s, want FAILED", all[0].Status)
	}
	if all[1].AttemptNumber != 2 || all[1].Status != domain.RetryPending {
		t.Fatalf("next retry = attempt %d status %s, want pending attempt 2", all[1].AttemptNumber, all[1].Status)
	}
}

func TestRunRetries_FinalAttemptSchedulesNothing(t *testing.T) {
	t.Parallel()

	post := scheduledPost("p1", testNow.Add(-time.Hour))
	post.Status = domain.StatusFailed
	posts := newMemPostRepo(post)
	retries := newMemRetryRepo(pendingRetry("r3", "p1", domain.MaxRetryAttempts, testNow.Add(-time.Minute)))
	b := &fakeBackend{sendFn: func(context.Context, domain.Post) (*backend.SendResult, error) {
		return nil, &backend.BackendError{StatusCode: 503, Message: "still down", Transient: true}
	}}
	d := newTestDispatcher(t, posts, retries, newMemLogRepo(), b, &fakeGate{})
	runner := newTestRetryRunner(t, retries, d)

	if _, err := runner.RunRetries(context.Background()); err != nil {
		t.Fatalf("RunRetries: %v", err)
	}

	all := retries.all()
	if len(all) != 1 {
		t.Fatalf("retries = %d, want no attempt beyond the cap", len(all))
	}
	if posts.get("p1").Status != domain.StatusFailed {
		t.Fatalf("post status = %s, want FAILED after exhausting retries", posts.get("p1").Status)
	}
}

func TestRunRetries_SkipsResolvedPost(t *testing.T) {
	t.Parallel()

	post := scheduledPost("p1", testNow.Add(-time.Hour))
	post.Status = domain.StatusPosted
	posts := newMemPostRepo(post)
	retries := newMemRetryRepo(pendingRetry("r1", "p1", 1, testNow.Add(-time.Minute)))
	b := &fakeBackend{}
	d := newTestDispatcher(t, posts, retries, newMemLogRepo(), b, &fakeGate{})
	runner := newTestRetryRunner(t, retries, d)

	summary, err := runner.RunRetries(context.Background())
	if err != nil {
		t.Fatalf("RunRetries: %v", err)
	}
	if summary.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", summary.Skipped)
	}
	if b.sendCount() != 0 {
		t.Fatalf("sends = %d, want 0 for an already resolved post", b.sendCount())
	}
	if retries.all()[0].Status != domain.RetrySuccess {
		t.Fatalf("retry status = %s, want SUCCESS so it is never re-picked", retries.all()[0].Status)
	}
}

func TestRunRetries_RateLimitStopsTheRun(t *testing.T) {
	t.Parallel()

	first := scheduledPost("p1", testNow.Add(-2*time.Hour))
	first.Status = domain.StatusFailed
	second := scheduledPost("p2", testNow.Add(-2*time.Hour))
	second.Status = domain.StatusFailed
	posts := newMemPostRepo(first, second)
	retries := newMemRetryRepo(
		pendingRetry("r1", "p1", 1, testNow.Add(-2*time.Minute)),
		pendingRetry("r2", "p2", 1, testNow.Add(-time.Minute)),
	)
	b := &fakeBackend{sendFn: func(context.Context, domain.Post) (*backend.SendResult, error) {
		return nil, &backend.BackendError{StatusCode: 429, Message: "rate limited", Transient: true, RetryAfter: 30 * time.Second}
	}}
	d := newTestDispatcher(t, posts, retries, newMemLogRepo(), b, &fakeGate{})
	runner := newTestRetryRunner(t, retries, d)

	if _, err := runner.RunRetries(context.Background()); err != nil {
		t.Fatalf("RunRetries: %v", err)
	}

	if b.sendCount() != 1 {
		t.Fatalf("sends = %d, want 1 before the early stop", b.sendCount())
	}
	for _, rt := range retries.all() {
		if rt.ID == "r2" && rt.Status != domain.RetryPending {
			t.Fatalf("untouched retry status = %s, want PENDING", rt.Status)
		}
	}
}
