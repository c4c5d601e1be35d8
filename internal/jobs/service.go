package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"url-analyzer/internal/fetcher"
	"url-analyzer/internal/llm"
	"url-analyzer/internal/queue"
	"url-analyzer/internal/retry"
	"url-analyzer/internal/shared/metrics"
	"url-analyzer/internal/shared/storage/object"
	"url-analyzer/internal/shared/telemetry"
	"url-analyzer/internal/urlgate"
)

const (
	DefaultCacheFreshness   = 7 * 24 * time.Hour
	DefaultWaitPollInterval = time.Second
	DefaultWaitMaxTimeout   = 55 * time.Second
	DefaultListLimit        = 20
	MaxListLimit            = 100
	MaxDocumentURLs         = 10

	defaultReadAttempts   = 3
	defaultReadRetryDelay = 200 * time.Millisecond
)

// Service owns job creation, execution and polling.
//
// Fetcher and LLM are the raw collaborators; Service wraps them with Retry.
// Store keeps fetched text and per-document drafts so a resumed job does not
// repeat finished work; it may be nil. With a nil Queue, new jobs run in a
// background goroutine.
type Service struct {
	Repo             Repo
	Fetcher          fetcher.Fetcher
	LLM              llm.Client
	Store            object.ObjectStore
	Queue            queue.Client
	Retry            retry.Policy
	CacheFreshness   time.Duration
	WaitPollInterval time.Duration
	WaitMaxTimeout   time.Duration
	ReadAttempts     int
	ReadRetryDelay   time.Duration
	Now              func() time.Time
	NewID            func() string
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	URL                string
	URLs               []string
	Kind               Kind
	IdempotencyKey     string
	ContentFingerprint string
}

// CreateResult reports the resolved job and whether it was an existing one.
type CreateResult struct {
	Job      Job
	IsCached bool
}

// Create resolves a request by idempotency key, then by fresh cached result,
// and otherwise inserts a new job and dispatches it. It never waits for
// execution.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	primary := strings.TrimSpace(req.URL)
	if err := urlgate.Validate(primary); err != nil {
		return CreateResult{}, err
	}
	normalized, err := urlgate.Normalize(primary)
	if err != nil {
		return CreateResult{}, err
	}
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return CreateResult{}, err
	}
	req.Kind = kind

	docURLs, err := documentURLs(primary, req.URLs)
	if err != nil {
		return CreateResult{}, err
	}
	fingerprint := strings.TrimSpace(req.ContentFingerprint)

	var key string
	if req.Kind.Resumable() {
		key = strings.TrimSpace(req.IdempotencyKey)
		if key == "" {
			key = IdempotencyKey(docURLs, fingerprint)
		}
		existing, err := s.Repo.FindByIdempotencyKey(ctx, key)
		if err == nil {
			metrics.IncIdempotentHit()
			s.logResolved(ctx, existing, "idempotency_key")
			return CreateResult{Job: existing, IsCached: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return CreateResult{}, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	now := s.now()
	cached, err := s.Repo.FindRecentByNormalizedURL(ctx, CacheQuery{
		NormalizedURL: normalized,
		Kind:          req.Kind,
		Since:         now.Add(-s.cacheFreshness()),
		Fingerprint:   fingerprint,
	})
	if err == nil && cached.CompletedAt != nil && now.Sub(*cached.CompletedAt) <= s.cacheFreshness() {
		metrics.IncCacheHit()
		s.logResolved(ctx, cached, "cache")
		return CreateResult{Job: cached, IsCached: true}, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return CreateResult{}, fmt.Errorf("lookup cached job: %w", err)
	}

	job := Job{
		ID:                 s.newID(),
		PrimaryURL:         primary,
		DocumentURLs:       docURLs,
		NormalizedURL:      normalized,
		Kind:               req.Kind,
		IdempotencyKey:     key,
		ContentFingerprint: fingerprint,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.Kind.Resumable() {
		job.Phase = PhaseCreated
		job.RunState = PhaseCreated.RunState()
		job.PhaseTimestamps = map[string]time.Time{string(PhaseCreated): now}
	} else {
		job.RunState = StatePending
		job.PhaseTimestamps = map[string]time.Time{string(StatePending): now}
	}

	if err := s.Repo.Insert(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateKey) && key != "" {
			existing, findErr := s.Repo.FindByIdempotencyKey(ctx, key)
			if findErr == nil {
				metrics.IncIdempotentHit()
				s.logResolved(ctx, existing, "idempotency_key")
				return CreateResult{Job: existing, IsCached: true}, nil
			}
		}
		return CreateResult{}, &PersistenceError{JobID: job.ID, Op: "insert", Err: err}
	}

	metrics.IncJobCreated()
	logTransition(ctx, job, "", job.stateName(), 0)
	s.dispatch(ctx, job)
	return CreateResult{Job: job}, nil
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	if strings.TrimSpace(id) == "" {
		return Job{}, ErrNotFound
	}
	return s.Repo.FindByID(ctx, id)
}

// GetEventually retries not-found reads a bounded number of times, covering
// a job that was just created but is not yet visible to this reader.
func (s *Service) GetEventually(ctx context.Context, id string) (Job, error) {
	attempts := s.ReadAttempts
	if attempts <= 0 {
		attempts = defaultReadAttempts
	}
	delay := s.ReadRetryDelay
	if delay <= 0 {
		delay = defaultReadRetryDelay
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		job, err := s.Get(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return job, err
		}
		lastErr = err
		if i+1 == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Job{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Job{}, lastErr
}

// ListRequest is the input of List. Cursor is the opaque value from a previous page.
type ListRequest struct {
	URL    string
	State  RunState
	Limit  int
	Cursor string
}

// Page is one page of List results.
type Page struct {
	Items      []Job
	NextCursor string
}

// List returns jobs newest first.
func (s *Service) List(ctx context.Context, req ListRequest) (Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		return Page{}, err
	}

	filter := ListFilter{RunState: req.State}
	if u := strings.TrimSpace(req.URL); u != "" {
		normalized, err := urlgate.Normalize(u)
		if err != nil {
			return Page{}, err
		}
		filter.NormalizedURL = normalized
	}

	items, err := s.Repo.ListPage(ctx, filter, cursor, limit+1)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// WaitResult is either a finished job (Done) or a pending handle.
type WaitResult struct {
	Done  bool
	Job   Job
	JobID string
}

// Wait polls the job until it is terminal or timeout elapses. Timing out
// returns the pending handle; the job keeps running.
func (s *Service) Wait(ctx context.Context, id string, timeout time.Duration) (WaitResult, error) {
	if timeout < 0 {
		timeout = 0
	}
	if limit := s.waitMaxTimeout(); timeout > limit {
		timeout = limit
	}
	interval := s.WaitPollInterval
	if interval <= 0 {
		interval = DefaultWaitPollInterval
	}

	job, err := s.GetEventually(ctx, id)
	if err != nil {
		return WaitResult{}, err
	}
	if job.Terminal() || timeout == 0 {
		return WaitResult{Done: job.Terminal(), Job: job, JobID: id}, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return WaitResult{Job: job, JobID: id}, nil
		case <-deadline.C:
			return WaitResult{Job: job, JobID: id}, nil
		case <-ticker.C:
			latest, err := s.Get(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
					continue
				}
				return WaitResult{}, err
			}
			job = latest
			if job.Terminal() {
				return WaitResult{Done: true, Job: job, JobID: id}, nil
			}
		}
	}
}

func (s *Service) dispatch(ctx context.Context, job Job) {
	requestID := requestIDFromContext(ctx)
	if s.Queue == nil {
		go func() {
			runCtx := backgroundWithRequestID(ctx)
			if err := s.ProcessJob(runCtx, job.ID); err != nil {
				telemetry.Error("job.process_failed", map[string]any{
					"request_id": requestID,
					"job_id":     job.ID,
					"error":      err.Error(),
				})
			}
		}()
		return
	}
	if err := s.Queue.Send(ctx, queue.NewMessage(job.ID, requestID, s.now())); err != nil {
		telemetry.Error("job.dispatch_failed", map[string]any{
			"request_id": requestID,
			"job_id":     job.ID,
			"error":      err.Error(),
		})
	}
}

func (s *Service) logResolved(ctx context.Context, job Job, via string) {
	telemetry.Info("job.resolved", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"job_id":     job.ID,
		"kind":       string(job.Kind),
		"state":      job.stateName(),
		"via":        via,
	})
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) cacheFreshness() time.Duration {
	if s.CacheFreshness > 0 {
		return s.CacheFreshness
	}
	return DefaultCacheFreshness
}

func (s *Service) waitMaxTimeout() time.Duration {
	if s.WaitMaxTimeout > 0 {
		return s.WaitMaxTimeout
	}
	return DefaultWaitMaxTimeout
}

// documentURLs validates extra URLs and returns the ordered set with the
// primary first.
func documentURLs(primary string, extra []string) ([]string, error) {
	out := []string{primary}
	seen := map[string]struct{}{urlgate.MustNormalize(primary): {}}
	for _, raw := range extra {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if err := urlgate.Validate(u); err != nil {
			return nil, err
		}
		n := urlgate.MustNormalize(u)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, u)
	}
	if len(out) > MaxDocumentURLs {
		return nil, fmt.Errorf("%w: at most %d urls per job", ErrTooManyURLs, MaxDocumentURLs)
	}
	return out, nil
}

// stateName is the phase for resumable jobs and the run state otherwise.
func (j Job) stateName() string {
	if j.Phase != "" {
		return string(j.Phase)
	}
	return string(j.RunState)
}

func logTransition(ctx context.Context, job Job, from, to string, durationMs int64) {
	transition := to
	if from != "" {
		transition = from + "->" + to
	}
	telemetry.Info("job.phase", map[string]any{
		"request_id":       requestIDFromContext(ctx),
		"job_id":           job.ID,
		"kind":             string(job.Kind),
		"phase_transition": transition,
		"duration_ms":      durationMs,
	})
}
