package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"url-analyzer/internal/fetcher"
	"url-analyzer/internal/llm"
	"url-analyzer/internal/queue"
	"url-analyzer/internal/retry"
	"url-analyzer/internal/shared/storage/object"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (fetcher.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if err, ok := f.errs[rawURL]; ok {
		return fetcher.Content{}, err
	}
	text, ok := f.pages[rawURL]
	if !ok {
		text = "Terms of service for " + rawURL + ". We collect your email address."
	}
	return fetcher.Content{URL: rawURL, Text: text}, nil
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

type fakeLLM struct {
	mu      sync.Mutex
	results map[string]string
	errs    map[string]error
	calls   int
	tokens  int
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{results: map[string]string{}, errs: map[string]error{}, tokens: 100}
}

func (f *fakeLLM) Analyze(ctx context.Context, in llm.AnalyzeInput) (llm.AnalyzeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[in.URL]; ok {
		return llm.AnalyzeOutput{}, err
	}
	raw, ok := f.results[in.URL]
	if !ok {
		raw = analysisJSON("Summary of "+in.URL+".", 70, riskJSON("r-"+in.URL, "medium"))
	}
	return llm.AnalyzeOutput{Raw: json.RawMessage(raw), TokensUsed: f.tokens, Model: "test-model"}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func riskJSON(id, severity string) string {
	return fmt.Sprintf(`{"id":%q,"title":"Risk %s","severity":%q,"description":"d"}`, id, id, severity)
}

func analysisJSON(summary string, score int, risks ...string) string {
	joined := ""
	for i, r := range risks {
		if i > 0 {
			joined += ","
		}
		joined += r
	}
	return fmt.Sprintf(`{"summary":%q,"score":%d,"risks":[%s],"actions":["Read the policy"],"dataCollected":["email"],"servicesCovered":["web"],"recommendations":["Opt out"]}`,
		summary, score, joined)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(ctx context.Context, key string, contentType string, r io.Reader) (int64, error) {
	if m.putErr != nil {
		return 0, m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return int64(len(data)), nil
}

func (m *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, object.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (q *fakeQueue) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

// failingRepo wraps a Repo and fails UpdatePhase once the job enters a phase.
type failingRepo struct {
	Repo
	failOn string
	err    error
}

func (f *failingRepo) UpdatePhase(ctx context.Context, id string, upd JobUpdate) error {
	if _, ok := upd.PhaseEntered[f.failOn]; ok {
		return f.err
	}
	return f.Repo.UpdatePhase(ctx, id, upd)
}

type testEnv struct {
	svc     *Service
	repo    *MemoryRepo
	fetcher *fakeFetcher
	llm     *fakeLLM
	store   *memStore
	queue   *fakeQueue
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	repo := NewMemoryRepo()
	repo.now = clock.Now
	env := &testEnv{
		repo:    repo,
		fetcher: newFakeFetcher(),
		llm:     newFakeLLM(),
		store:   newMemStore(),
		queue:   &fakeQueue{},
		clock:   clock,
	}
	ids := 0
	env.svc = &Service{
		Repo:    repo,
		Fetcher: env.fetcher,
		LLM:     env.llm,
		Store:   env.store,
		Queue:   env.queue,
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
		ReadAttempts:     2,
		ReadRetryDelay:   time.Millisecond,
		WaitPollInterval: 5 * time.Millisecond,
		Now:              clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("job-%03d", ids)
		},
	}
	return env
}

func (e *testEnv) create(t *testing.T, req CreateRequest) Job {
	t.Helper()
	res, err := e.svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res.Job
}

func (e *testEnv) load(t *testing.T, id string) Job {
	t.Helper()
	job, err := e.repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return job
}

func (e *testEnv) process(t *testing.T, id string) {
	t.Helper()
	if err := e.svc.ProcessJob(context.Background(), id); err != nil {
		t.Fatalf("process %s: %v", id, err)
	}
}

var errBoom = errors.New("boom")
