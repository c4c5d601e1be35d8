package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"url-analyzer/internal/urlgate"
)

func TestCreateQueuesNewJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithRequestID(context.Background(), "req-1")

	res, err := env.svc.Create(ctx, CreateRequest{URL: "https://example.com/terms"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.IsCached {
		t.Fatalf("new job must not be cached")
	}
	job := res.Job
	if job.Kind != KindComprehensive || job.RunState != StatePending || job.Progress != 0 {
		t.Fatalf("unexpected new job %+v", job)
	}
	if job.NormalizedURL != urlgate.MustNormalize("https://example.com/terms") {
		t.Fatalf("unexpected normalized url %q", job.NormalizedURL)
	}
	if len(env.queue.sent) != 1 || env.queue.sent[0].JobID != job.ID || env.queue.sent[0].RequestID != "req-1" {
		t.Fatalf("expected one queued message, got %+v", env.queue.sent)
	}
}

func TestCreateRejectsUnsafeURLWithoutRecord(t *testing.T) {
	env := newTestEnv(t)
	for _, raw := range []string{"http://169.254.169.254/latest", "ftp://example.com", "http://localhost/x", "http://10.0.0.5/"} {
		_, err := env.svc.Create(context.Background(), CreateRequest{URL: raw})
		if !urlgate.IsSecurityError(err) {
			t.Fatalf("%s: expected security error, got %v", raw, err)
		}
	}
	items, _ := env.repo.ListPage(context.Background(), ListFilter{}, nil, 10)
	if len(items) != 0 {
		t.Fatalf("rejected requests must not create jobs, got %d", len(items))
	}
	if len(env.queue.sent) != 0 {
		t.Fatalf("rejected requests must not dispatch")
	}
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com", Kind: "poetry"})
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestCreateCanonicalizesKind(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/terms", Kind: "LEGAL"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Job.Kind != KindLegal || first.Job.Phase != PhaseCreated || first.Job.IdempotencyKey == "" {
		t.Fatalf("expected a resumable legal job, got kind=%q phase=%q key=%q", first.Job.Kind, first.Job.Phase, first.Job.IdempotencyKey)
	}

	second, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/terms", Kind: " Legal "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.Job.ID != first.Job.ID || !second.IsCached {
		t.Fatalf("expected the same job for the same legal request, got %s and %s", first.Job.ID, second.Job.ID)
	}
}

type failingInsertRepo struct {
	*MemoryRepo
}

func (failingInsertRepo) Insert(ctx context.Context, job Job) error {
	return errBoom
}

func TestCreateReportsInsertFailureAsPersistenceError(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Repo = failingInsertRepo{MemoryRepo: env.repo}

	_, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com"})
	if !IsPersistenceError(err) || !errors.Is(err, errBoom) {
		t.Fatalf("expected PersistenceError wrapping the store error, got %v", err)
	}
	if len(env.queue.sent) != 0 {
		t.Fatalf("failed insert must not dispatch")
	}
}

func TestCreateRejectsTooManyURLs(t *testing.T) {
	env := newTestEnv(t)
	var extra []string
	for i := 0; i < MaxDocumentURLs; i++ {
		extra = append(extra, "https://example.com/doc/"+string(rune('a'+i)))
	}
	_, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com", URLs: extra, Kind: KindLegal})
	if !errors.Is(err, ErrTooManyURLs) {
		t.Fatalf("expected ErrTooManyURLs, got %v", err)
	}
}

func TestCreateLegalReusesJobForSameIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	req := CreateRequest{URL: "https://example.com/terms", Kind: KindLegal, IdempotencyKey: "k-1"}

	first := env.create(t, req)
	res, err := env.svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if res.Job.ID != first.ID || !res.IsCached {
		t.Fatalf("expected same job, got %s (cached=%v)", res.Job.ID, res.IsCached)
	}
	if first.Phase != PhaseCreated || first.PhaseTimestamps[string(PhaseCreated)].IsZero() {
		t.Fatalf("legal job should start in created phase, got %+v", first)
	}

	other := env.create(t, CreateRequest{URL: "https://example.com/terms", Kind: KindLegal, IdempotencyKey: "k-2"})
	if other.ID == first.ID {
		t.Fatalf("different keys must create different jobs")
	}
}

func TestCreateLegalDerivesKeyFromURLSet(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, CreateRequest{
		URL:  "https://example.com/terms",
		URLs: []string{"https://example.com/privacy"},
		Kind: KindLegal,
	})
	second := env.create(t, CreateRequest{
		URL:  "https://EXAMPLE.com/terms/",
		URLs: []string{"https://example.com/privacy", "https://example.com/terms"},
		Kind: KindLegal,
	})
	if first.ID != second.ID {
		t.Fatalf("equivalent url sets should share a job: %s vs %s", first.ID, second.ID)
	}
	if first.IdempotencyKey == "" {
		t.Fatalf("expected derived idempotency key")
	}
}

func TestCreateRecoversFromDuplicateKeyRace(t *testing.T) {
	env := newTestEnv(t)
	existing := Job{
		ID:             "job-existing",
		PrimaryURL:     "https://example.com",
		NormalizedURL:  urlgate.MustNormalize("https://example.com"),
		Kind:           KindLegal,
		IdempotencyKey: "k-race",
		Phase:          PhaseAnalyzing,
		RunState:       StateAnalyzing,
		CreatedAt:      env.clock.Now(),
	}
	racing := &raceRepo{MemoryRepo: env.repo, inject: existing}
	env.svc.Repo = racing

	res, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com", Kind: KindLegal, IdempotencyKey: "k-race"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Job.ID != "job-existing" || !res.IsCached {
		t.Fatalf("expected the winning job, got %+v", res)
	}
}

// raceRepo inserts a competing job between the key lookup and the insert.
type raceRepo struct {
	*MemoryRepo
	inject Job
	done   bool
}

func (r *raceRepo) Insert(ctx context.Context, job Job) error {
	if !r.done {
		r.done = true
		if err := r.MemoryRepo.Insert(ctx, r.inject); err != nil {
			return err
		}
	}
	return r.MemoryRepo.Insert(ctx, job)
}

func TestCreateServesFreshCachedResult(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, CreateRequest{URL: "https://example.com/terms"})
	env.process(t, first.ID)

	env.clock.Advance(2 * 24 * time.Hour)
	res, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/terms?"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.IsCached || res.Job.ID != first.ID || res.Job.RunState != StateCompleted {
		t.Fatalf("expected cached completed job, got %+v", res)
	}
	if len(env.queue.sent) != 1 {
		t.Fatalf("cache hit must not dispatch, sent=%d", len(env.queue.sent))
	}
}

func TestCreateIgnoresStaleCachedResult(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, CreateRequest{URL: "https://example.com/terms"})
	env.process(t, first.ID)

	env.clock.Advance(8 * 24 * time.Hour)
	res, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/terms"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.IsCached || res.Job.ID == first.ID {
		t.Fatalf("stale result must not be served, got %+v", res)
	}
}

func TestCreateCacheRespectsKindAndFingerprint(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, CreateRequest{URL: "https://example.com/terms"})
	env.process(t, first.ID)
	done := env.load(t, first.ID)

	res, err := env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/terms", Kind: KindSEO})
	if err != nil || res.IsCached {
		t.Fatalf("other kind must not hit the cache: %+v %v", res, err)
	}

	res, err = env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/terms", ContentFingerprint: "different"})
	if err != nil || res.IsCached {
		t.Fatalf("other fingerprint must not hit the cache: %+v %v", res, err)
	}

	res, err = env.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/terms", ContentFingerprint: done.ContentFingerprint})
	if err != nil || !res.IsCached {
		t.Fatalf("matching fingerprint should hit the cache: %+v %v", res, err)
	}
}

func TestCreateWithoutQueueRunsInBackground(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Queue = nil

	job := env.create(t, CreateRequest{URL: "https://example.com/terms"})
	res, err := env.svc.Wait(context.Background(), job.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !res.Done || res.Job.RunState != StateCompleted {
		t.Fatalf("expected background run to complete, got %+v", res)
	}
}

func TestCreateKeepsJobWhenDispatchFails(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = errBoom

	job := env.create(t, CreateRequest{URL: "https://example.com/terms"})
	if _, err := env.repo.FindByID(context.Background(), job.ID); err != nil {
		t.Fatalf("job should be stored even if dispatch fails: %v", err)
	}
}

func TestWaitReturnsPendingHandleOnTimeout(t *testing.T) {
	env := newTestEnv(t)
	job := env.create(t, CreateRequest{URL: "https://example.com/terms"})

	res, err := env.svc.Wait(context.Background(), job.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Done || res.JobID != job.ID {
		t.Fatalf("expected pending handle, got %+v", res)
	}
}

func TestWaitReturnsImmediatelyForTerminalJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.create(t, CreateRequest{URL: "https://example.com/terms"})
	env.process(t, job.ID)

	res, err := env.svc.Wait(context.Background(), job.ID, time.Hour)
	if err != nil || !res.Done || res.Job.Result == nil {
		t.Fatalf("expected finished job, got %+v %v", res, err)
	}
}

func TestGetUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.GetEventually(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.Get(context.Background(), " "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank id, got %v", err)
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for _, u := range []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example", "https://e.example"} {
		ids = append(ids, env.create(t, CreateRequest{URL: u}).ID)
	}

	page, err := env.svc.List(context.Background(), ListRequest{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != ids[4] || page.Items[1].ID != ids[3] || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}

	var seen []string
	for _, j := range page.Items {
		seen = append(seen, j.ID)
	}
	cursor := page.NextCursor
	for cursor != "" {
		next, err := env.svc.List(context.Background(), ListRequest{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, j := range next.Items {
			seen = append(seen, j.ID)
		}
		cursor = next.NextCursor
	}
	if len(seen) != 5 || seen[4] != ids[0] {
		t.Fatalf("expected every job once newest first, got %v", seen)
	}
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)
	done := env.create(t, CreateRequest{URL: "https://a.example/terms"})
	env.process(t, done.ID)
	env.create(t, CreateRequest{URL: "https://b.example/terms"})

	page, err := env.svc.List(context.Background(), ListRequest{State: StateCompleted})
	if err != nil || len(page.Items) != 1 || page.Items[0].ID != done.ID {
		t.Fatalf("state filter: %+v %v", page, err)
	}
	page, err = env.svc.List(context.Background(), ListRequest{URL: "HTTPS://b.example/terms/"})
	if err != nil || len(page.Items) != 1 || page.Items[0].PrimaryURL != "https://b.example/terms" {
		t.Fatalf("url filter: %+v %v", page, err)
	}
	if _, err := env.svc.List(context.Background(), ListRequest{Cursor: "%%%"}); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}
