package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu    sync.RWMutex
	byID  map[string]Job
	byKey map[string]string
	now   func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:  make(map[string]Job),
		byKey: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Insert stores a new job. A second job with the same idempotency key fails
// with ErrDuplicateKey.
func (r *MemoryRepo) Insert(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[job.ID]; ok {
		return ErrDuplicateKey
	}
	if job.IdempotencyKey != "" {
		if _, ok := r.byKey[job.IdempotencyKey]; ok {
			return ErrDuplicateKey
		}
		r.byKey[job.IdempotencyKey] = job.ID
	}
	r.byID[job.ID] = cloneJob(job)
	return nil
}

// FindByID returns a job by its ID.
func (r *MemoryRepo) FindByID(ctx context.Context, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

// FindByIdempotencyKey returns the job that owns key.
func (r *MemoryRepo) FindByIdempotencyKey(ctx context.Context, key string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(r.byID[id]), nil
}

// FindRecentByNormalizedURL returns the newest completed job matching q.
func (r *MemoryRepo) FindRecentByNormalizedURL(ctx context.Context, q CacheQuery) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best  Job
		found bool
	)
	for _, job := range r.byID {
		if job.NormalizedURL != q.NormalizedURL || job.Kind != q.Kind {
			continue
		}
		if job.RunState != StateCompleted || job.CompletedAt == nil || job.CompletedAt.Before(q.Since) {
			continue
		}
		if q.Fingerprint != "" && job.ContentFingerprint != q.Fingerprint {
			continue
		}
		if !found || job.CompletedAt.After(*best.CompletedAt) {
			best = job
			found = true
		}
	}
	if !found {
		return Job{}, ErrNotFound
	}
	return cloneJob(best), nil
}

// UpdatePhase applies upd atomically.
func (r *MemoryRepo) UpdatePhase(ctx context.Context, id string, upd JobUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if job.Terminal() {
		return ErrTerminalState
	}
	job = cloneJob(job)
	upd.Apply(&job, r.now())
	r.byID[id] = job
	return nil
}

// ListPage returns up to limit jobs newest first, starting after cursor.
func (r *MemoryRepo) ListPage(ctx context.Context, filter ListFilter, cursor *Cursor, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Job{}, nil
	}

	r.mu.RLock()
	matched := make([]Job, 0, len(r.byID))
	for _, job := range r.byID {
		if filter.NormalizedURL != "" && job.NormalizedURL != filter.NormalizedURL {
			continue
		}
		if filter.RunState != "" && job.RunState != filter.RunState {
			continue
		}
		if !cursor.after(job) {
			continue
		}
		matched = append(matched, cloneJob(job))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func cloneJob(job Job) Job {
	out := job
	out.DocumentURLs = append([]string(nil), job.DocumentURLs...)
	out.EarlyFindings = append([]Finding(nil), job.EarlyFindings...)
	if job.PhaseTimestamps != nil {
		out.PhaseTimestamps = make(map[string]time.Time, len(job.PhaseTimestamps))
		for k, v := range job.PhaseTimestamps {
			out.PhaseTimestamps[k] = v
		}
	}
	if job.Result != nil {
		res := *job.Result
		out.Result = &res
	}
	return out
}

var _ Repo = (*MemoryRepo)(nil)
