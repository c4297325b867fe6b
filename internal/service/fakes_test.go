package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/postlane/publish-engine/internal/backend"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/repository"
)

// memPostRepo is an in-memory PostRepository with the same claim semantics as
// the database implementation.
type memPostRepo struct {
	mu    sync.Mutex
	posts map[string]*domain.Post

	claimCalls int
}

func newMemPostRepo(posts ...*domain.Post) *memPostRepo {
	repo := &memPostRepo{posts: make(map[string]*domain.Post)}
	for _, p := range posts {
		cp := *p
		repo.posts[p.ID] = &cp
	}
	return repo
}

func (r *memPostRepo) get(id string) *domain.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *memPostRepo) Create(_ context.Context, p *domain.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.posts[p.ID] = &cp
	return nil
}

func (r *memPostRepo) CreateSeries(ctx context.Context, posts []*domain.Post) error {
	for _, p := range posts {
		if err := r.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *memPostRepo) GetByID(_ context.Context, id string) (*domain.Post, error) {
	if p := r.get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memPostRepo) GetDue(_ context.Context, from, to time.Time) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Post
	for _, p := range r.posts {
		if p.Status != domain.StatusScheduled || p.ScheduledAt == nil {
			continue
		}
		if p.ScheduledAt.Before(from) || p.ScheduledAt.After(to) {
			continue
		}
		out = append(out, *p)
	}
	sortByScheduledAt(out)
	return out, nil
}

func (r *memPostRepo) GetOverdue(_ context.Context, from, to time.Time, limit int) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Post
	for _, p := range r.posts {
		if p.Status != domain.StatusScheduled || p.ScheduledAt == nil {
			continue
		}
		if p.ScheduledAt.Before(from) || !p.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, *p)
	}
	sortByScheduledAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPostRepo) ClaimForPosting(_ context.Context, id string, now time.Time) (*domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	p, ok := r.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !p.Dispatchable() {
		return nil, nil
	}
	p.Status = domain.StatusPosting
	startedAt := now
	p.ProcessingStartedAt = &startedAt
	cp := *p
	return &cp, nil
}

func (r *memPostRepo) MarkPosted(_ context.Context, id string, update repository.PostedUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.StatusPosted
	p.ErrorMessage = nil
	if update.BackendPostID != nil {
		p.BackendPostID = update.BackendPostID
	}
	if update.RemoteStatus != nil {
		p.RemoteStatus = update.RemoteStatus
	}
	if update.PublishedAt != nil {
		p.PublishedAt = update.PublishedAt
	}
	if update.PublishedURL != nil {
		p.PublishedURL = update.PublishedURL
	}
	if update.PlatformPostID != nil {
		p.PlatformPostID = update.PlatformPostID
	}
	if update.LastSyncAt != nil {
		p.LastSyncAt = update.LastSyncAt
	}
	if update.VerificationVerified {
		p.VerificationStatus = domain.VerificationVerified
	}
	return nil
}

func (r *memPostRepo) MarkFailed(_ context.Context, id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.StatusFailed
	p.ErrorMessage = &message
	return nil
}

func (r *memPostRepo) RecordAccepted(_ context.Context, id string, backendPostID *string, remoteStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if backendPostID != nil {
		p.BackendPostID = backendPostID
	}
	p.RemoteStatus = &remoteStatus
	return nil
}

func (r *memPostRepo) GetStuck(_ context.Context, cutoff time.Time, limit int) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Post
	for _, p := range r.posts {
		if p.Status != domain.StatusPosting || p.ProcessingStartedAt == nil {
			continue
		}
		if !p.ProcessingStartedAt.Before(cutoff) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProcessingStartedAt.Before(*out[j].ProcessingStartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPostRepo) FailStuck(_ context.Context, id string, cutoff time.Time, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return false, nil
	}
	if p.Status != domain.StatusPosting || p.ProcessingStartedAt == nil || !p.ProcessingStartedAt.Before(cutoff) {
		return false, nil
	}
	p.Status = domain.StatusFailed
	p.ErrorMessage = &message
	return true, nil
}

func (r *memPostRepo) GetForReconciliation(_ context.Context, syncedBefore time.Time, limit int) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Post
	for _, p := range r.posts {
		if p.BackendPostID == nil || *p.BackendPostID == "" {
			continue
		}
		if p.Status != domain.StatusScheduled && p.Status != domain.StatusPosting {
			continue
		}
		if p.LastSyncAt != nil && !p.LastSyncAt.Before(syncedBefore) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		left, right := out[i].LastSyncAt, out[j].LastSyncAt
		if left == nil {
			return true
		}
		if right == nil {
			return false
		}
		return left.Before(*right)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPostRepo) RecordSync(_ context.Context, id string, remoteStatus string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.RemoteStatus = &remoteStatus
	syncCopy := syncedAt
	p.LastSyncAt = &syncCopy
	return nil
}

func sortByScheduledAt(posts []domain.Post) {
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].ScheduledAt.Before(*posts[j].ScheduledAt)
	})
}

type memRetryRepo struct {
	mu      sync.Mutex
	retries map[string]*domain.PostRetry
}

func newMemRetryRepo(retries ...*domain.PostRetry) *memRetryRepo {
	repo := &memRetryRepo{retries: make(map[string]*domain.PostRetry)}
	for _, rt := range retries {
		cp := *rt
		repo.retries[rt.ID] = &cp
	}
	return repo
}

func (r *memRetryRepo) all() []domain.PostRetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PostRetry, 0, len(r.retries))
	for _, rt := range r.retries {
		out = append(out, *rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out
}

func (r *memRetryRepo) Create(_ context.Context, retry *domain.PostRetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *retry
	r.retries[retry.ID] = &cp
	return nil
}

func (r *memRetryRepo) GetDue(_ context.Context, now time.Time, limit int) ([]domain.PostRetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PostRetry
	for _, rt := range r.retries {
		if rt.Status != domain.RetryPending || rt.ScheduledFor.After(now) {
			continue
		}
		out = append(out, *rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRetryRepo) MarkProcessing(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.retries[id]
	if !ok || rt.Status != domain.RetryPending {
		return false, nil
	}
	rt.Status = domain.RetryProcessing
	return true, nil
}

func (r *memRetryRepo) MarkOutcome(_ context.Context, id string, status domain.RetryStatus, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.retries[id]
	if !ok {
		return domain.ErrNotFound
	}
	rt.Status = status
	rt.LastError = lastError
	return nil
}

func (r *memRetryRepo) CountByPostID(_ context.Context, postID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rt := range r.retries {
		if rt.PostID == postID {
			count++
		}
	}
	return count, nil
}

type memLogRepo struct {
	mu      sync.Mutex
	entries []domain.PostLog
}

func newMemLogRepo() *memLogRepo { return &memLogRepo{} }

func (r *memLogRepo) Create(_ context.Context, entry *domain.PostLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memLogRepo) ListByPostID(_ context.Context, postID string) ([]domain.PostLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PostLog
	for _, e := range r.entries {
		if e.PostID == postID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memLogRepo) countKind(kind domain.LogKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.entries {
		if e.Kind == kind {
			count++
		}
	}
	return count
}

// fakeBackend counts sends and delegates the outcome to sendFn.
type fakeBackend struct {
	kind   domain.BackendKind
	sendFn func(ctx context.Context, post domain.Post) (*backend.SendResult, error)

	mu    sync.Mutex
	sends []string
}

func (b *fakeBackend) Kind() domain.BackendKind {
	if b.kind == "" {
		return domain.BackendAPI
	}
	return b.kind
}

func (b *fakeBackend) Send(ctx context.Context, post domain.Post) (*backend.SendResult, error) {
	b.mu.Lock()
	b.sends = append(b.sends, post.ID)
	b.mu.Unlock()
	if b.sendFn != nil {
		return b.sendFn(ctx, post)
	}
	return &backend.SendResult{BackendPostID: "bk-" + post.ID, RemoteStatus: backend.RemotePublished}, nil
}

func (b *fakeBackend) sendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sends)
}

type fakeGate struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *fakeGate) Authorize(_ context.Context, _ string, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.err
}

func (g *fakeGate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeLimiter struct{}

func (fakeLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (fakeLimiter) Wait(context.Context, string) error          { return nil }

type fakeStatusSource struct {
	mu      sync.Mutex
	remotes map[string]*backend.RemotePost
	err     error
	lookups int
}

func (s *fakeStatusSource) GetPost(_ context.Context, backendPostID string) (*backend.RemotePost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	if remote, ok := s.remotes[backendPostID]; ok {
		cp := *remote
		return &cp, nil
	}
	return &backend.RemotePost{ID: backendPostID, Status: backend.RemotePublishing}, nil
}

func (s *fakeStatusSource) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}
