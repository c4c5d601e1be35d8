package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"url-analyzer/internal/fetcher"
	"url-analyzer/internal/llm"
	"url-analyzer/internal/shared/metrics"
	"url-analyzer/internal/shared/storage/object"
	"url-analyzer/internal/shared/telemetry"
	"url-analyzer/internal/shared/util"
)

const (
	maxDocumentFanOut = 4
	maxErrorDetail    = 500
	failWriteTimeout  = 10 * time.Second
)

var errAlreadyTerminal = errors.New("job already terminal")

// run carries what one invocation learned between phases.
type run struct {
	job     Job
	fetcher fetcher.Fetcher
	llm     llm.Client
	primary *fetcher.Content
	parts   []Analysis
}

type draft struct {
	Parts []Analysis `json:"parts"`
}

// ProcessJob advances a job until it is terminal. Provider, validation and
// schema failures are recorded on the job and return nil. Store failures are
// returned so the invoker delivers the job again; the next run resumes from
// the last persisted phase. Callers must not run the same job concurrently.
func (s *Service) ProcessJob(ctx context.Context, id string) error {
	job, err := s.GetEventually(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &PersistenceError{JobID: id, Op: "load", Err: err}
	}
	if job.Terminal() {
		telemetry.Info("job.skip_terminal", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     job.ID,
			"state":      job.stateName(),
		})
		return nil
	}

	metrics.IncJobStarted()
	policy := withRetryHooks(ctx, s.Retry)
	r := &run{
		job:     job,
		fetcher: retryingFetcher{next: s.Fetcher, policy: policy},
		llm:     retryingLLM{next: s.LLM, policy: policy},
	}
	if job.Kind.Resumable() {
		return s.runPhases(ctx, r)
	}
	return s.runSimple(ctx, r)
}

func (s *Service) runPhases(ctx context.Context, r *run) error {
	if r.job.Phase == "" {
		r.job.Phase = PhaseCreated
	}
	for !r.job.Phase.Terminal() {
		upd, err := s.advance(ctx, r)
		if err != nil {
			return s.failJob(ctx, r.job, err)
		}
		if err := s.transition(ctx, &r.job, upd); err != nil {
			return ignoreTerminal(err)
		}
	}
	if r.job.Phase == PhaseComplete {
		recordCompleted(r.job)
	}
	return nil
}

// advance performs the side effect of the job's current phase and returns the
// update that moves it to the next one.
func (s *Service) advance(ctx context.Context, r *run) (JobUpdate, error) {
	now := s.now()
	job := r.job
	switch job.Phase {
	case PhaseCreated:
		upd := enterPhase(PhaseTermsDiscovered, now)
		upd.StartedAt = &now
		return upd, nil

	case PhaseTermsDiscovered:
		content, err := r.fetcher.Fetch(ctx, job.PrimaryURL)
		if err != nil {
			return JobUpdate{}, err
		}
		r.primary = &content
		if err := s.saveSnapshot(ctx, job.ID, 0, content.Text); err != nil {
			return JobUpdate{}, err
		}
		fp := ContentFingerprint(content.Text)
		upd := enterPhase(PhaseDocumentFetched, s.now())
		upd.ContentFingerprint = &fp
		upd.DocumentURLs = job.URLs()
		return upd, nil

	case PhaseDocumentFetched:
		return enterPhase(PhaseNormalized, now), nil

	case PhaseNormalized:
		return enterPhase(PhaseAnalyzing, now), nil

	case PhaseAnalyzing:
		parts, err := s.loadDraft(ctx, job.ID)
		if err != nil {
			return JobUpdate{}, err
		}
		if parts == nil {
			if parts, err = s.analyzeDocuments(ctx, r); err != nil {
				return JobUpdate{}, err
			}
			if err := s.saveDraft(ctx, job.ID, parts); err != nil {
				return JobUpdate{}, err
			}
		}
		r.parts = parts
		tokens := sumTokens(parts)
		upd := enterPhase(PhaseSummarizing, s.now())
		upd.EarlyFindings = EarlyFindings(job.URLs(), parts)
		upd.TokensUsed = &tokens
		return upd, nil

	case PhaseSummarizing:
		parts := r.parts
		if parts == nil {
			var err error
			if parts, err = s.loadDraft(ctx, job.ID); err != nil {
				return JobUpdate{}, err
			}
		}
		if parts == nil {
			var err error
			if parts, err = s.analyzeDocuments(ctx, r); err != nil {
				return JobUpdate{}, err
			}
		}
		return s.completeUpdate(job, MergeAnalyses(parts), s.now()), nil
	}
	return JobUpdate{}, fmt.Errorf("unknown phase %q", job.Phase)
}

func (s *Service) runSimple(ctx context.Context, r *run) error {
	if r.job.RunState == StatePending {
		now := s.now()
		upd := enterState(StateFetching, now)
		upd.StartedAt = &now
		if err := s.transition(ctx, &r.job, upd); err != nil {
			return ignoreTerminal(err)
		}
	}

	content, err := r.fetcher.Fetch(ctx, r.job.PrimaryURL)
	if err != nil {
		return s.failJob(ctx, r.job, err)
	}
	fp := ContentFingerprint(content.Text)
	upd := enterState(StateAnalyzing, s.now())
	upd.ContentFingerprint = &fp
	if err := s.transition(ctx, &r.job, upd); err != nil {
		return ignoreTerminal(err)
	}

	analysis, err := s.analyzeText(ctx, r, r.job.PrimaryURL, content.Text, 0, 1)
	if err != nil {
		return s.failJob(ctx, r.job, err)
	}
	if err := s.transition(ctx, &r.job, s.completeUpdate(r.job, analysis, s.now())); err != nil {
		return ignoreTerminal(err)
	}
	recordCompleted(r.job)
	return nil
}

// analyzeDocuments fetches and analyses every document URL concurrently.
func (s *Service) analyzeDocuments(ctx context.Context, r *run) ([]Analysis, error) {
	urls := r.job.URLs()
	parts := make([]Analysis, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDocumentFanOut)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			text, err := s.documentText(gctx, r, i, u)
			if err != nil {
				return err
			}
			a, err := s.analyzeText(gctx, r, u, text, i, len(urls))
			if err != nil {
				return err
			}
			parts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// documentText returns the primary text from this run or its stored snapshot,
// and fetches anything else.
func (s *Service) documentText(ctx context.Context, r *run, index int, rawURL string) (string, error) {
	if index == 0 {
		if r.primary != nil {
			return r.primary.Text, nil
		}
		text, ok, err := s.loadSnapshot(ctx, r.job.ID, 0)
		if err != nil {
			return "", err
		}
		if ok {
			return text, nil
		}
	}
	content, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return content.Text, nil
}

func (s *Service) analyzeText(ctx context.Context, r *run, rawURL, text string, index, total int) (Analysis, error) {
	out, err := r.llm.Analyze(ctx, llm.AnalyzeInput{
		URL:     rawURL,
		Text:    text,
		Kind:    string(r.job.Kind),
		Context: documentContext(r.job, index, total),
	})
	if err != nil {
		return Analysis{}, err
	}
	a, err := DecodeAnalysis(out.Raw)
	if err != nil {
		telemetry.Warn("job.schema_mismatch", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     r.job.ID,
			"url":        rawURL,
			"error":      err.Error(),
		})
		return Analysis{}, err
	}
	a.TokensUsed = out.TokensUsed
	a.Model = out.Model
	a.Documents = []string{rawURL}
	return a, nil
}

func documentContext(job Job, index, total int) string {
	if total <= 1 {
		return ""
	}
	return fmt.Sprintf("Document %d of %d published by the site at %s.", index+1, total, job.PrimaryURL)
}

func (s *Service) completeUpdate(job Job, result Analysis, now time.Time) JobUpdate {
	state := StateCompleted
	progress := 100
	tokens := result.TokensUsed
	duration := durationMs(job, now)
	upd := JobUpdate{
		RunState:             &state,
		Progress:             &progress,
		Result:               &result,
		TokensUsed:           &tokens,
		ProcessingDurationMs: &duration,
		CompletedAt:          &now,
	}
	name := string(StateCompleted)
	if job.Kind.Resumable() {
		phase := PhaseComplete
		upd.Phase = &phase
		name = string(PhaseComplete)
	}
	upd.PhaseEntered = map[string]time.Time{name: now}
	return upd
}

// failJob records cause as the terminal failure of job. The phase the job was
// in becomes lastCompletedPhase.
func (s *Service) failJob(ctx context.Context, job Job, cause error) error {
	if IsPersistenceError(cause) {
		telemetry.Error("job.persistence_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     job.ID,
			"state":      job.stateName(),
			"error":      cause.Error(),
		})
		return cause
	}

	now := s.now()
	code := classifyFailure(cause)
	message := failureMessage(code, cause)
	detail := util.SanitizeMessage(cause.Error(), maxErrorDetail)
	state := StateFailed
	duration := durationMs(job, now)
	upd := JobUpdate{
		RunState:             &state,
		ErrorCode:            &code,
		ErrorMessage:         &message,
		ErrorDetail:          &detail,
		ProcessingDurationMs: &duration,
		CompletedAt:          &now,
		PhaseEntered:         map[string]time.Time{string(StateFailed): now},
	}
	lastPhase := job.Phase
	if job.Kind.Resumable() {
		failed := PhaseFailed
		upd.Phase = &failed
		upd.LastCompletedPhase = &lastPhase
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if err := s.transition(writeCtx, &job, upd); err != nil {
		return ignoreTerminal(err)
	}

	metrics.IncJobFailed()
	metrics.ObserveJobDurationMs(float64(duration))
	telemetry.Warn("job.failed", map[string]any{
		"request_id":           requestIDFromContext(ctx),
		"job_id":               job.ID,
		"kind":                 string(job.Kind),
		"error_code":           code,
		"last_completed_phase": string(lastPhase),
		"error":                detail,
	})
	return nil
}

// transition persists upd and mirrors it onto job.
func (s *Service) transition(ctx context.Context, job *Job, upd JobUpdate) error {
	from := job.stateName()
	if err := s.Repo.UpdatePhase(ctx, job.ID, upd); err != nil {
		if errors.Is(err, ErrTerminalState) {
			telemetry.Info("job.already_terminal", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"job_id":     job.ID,
				"state":      from,
			})
			return errAlreadyTerminal
		}
		return &PersistenceError{JobID: job.ID, Op: "leave " + from, Err: err}
	}
	upd.Apply(job, s.now())
	logTransition(ctx, *job, from, job.stateName(), durationMs(*job, s.now()))
	return nil
}

func ignoreTerminal(err error) error {
	if errors.Is(err, errAlreadyTerminal) {
		return nil
	}
	return err
}

func enterPhase(p Phase, now time.Time) JobUpdate {
	state := p.RunState()
	progress := p.Progress()
	return JobUpdate{
		Phase:        &p,
		RunState:     &state,
		Progress:     &progress,
		PhaseEntered: map[string]time.Time{string(p): now},
	}
}

func enterState(state RunState, now time.Time) JobUpdate {
	progress := progressForState(state)
	return JobUpdate{
		RunState:     &state,
		Progress:     &progress,
		PhaseEntered: map[string]time.Time{string(state): now},
	}
}

func durationMs(job Job, now time.Time) int64 {
	start := job.CreatedAt
	if job.StartedAt != nil {
		start = *job.StartedAt
	}
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return now.Sub(start).Milliseconds()
}

func sumTokens(parts []Analysis) int {
	total := 0
	for _, p := range parts {
		total += p.TokensUsed
	}
	return total
}

func recordCompleted(job Job) {
	metrics.IncJobCompleted()
	metrics.ObserveJobDurationMs(float64(job.ProcessingDurationMs))
}

func snapshotKey(jobID string, index int) string {
	return fmt.Sprintf("jobs/%s/documents/%d.txt", jobID, index)
}

func draftKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/draft.json", jobID)
}

func (s *Service) saveSnapshot(ctx context.Context, jobID string, index int, text string) error {
	if s.Store == nil {
		return nil
	}
	if _, err := s.Store.Put(ctx, snapshotKey(jobID, index), "text/plain; charset=utf-8", strings.NewReader(text)); err != nil {
		return &PersistenceError{JobID: jobID, Op: "save snapshot", Err: err}
	}
	return nil
}

func (s *Service) loadSnapshot(ctx context.Context, jobID string, index int) (string, bool, error) {
	if s.Store == nil {
		return "", false, nil
	}
	data, err := object.ReadAll(ctx, s.Store, snapshotKey(jobID, index))
	if errors.Is(err, object.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &PersistenceError{JobID: jobID, Op: "load snapshot", Err: err}
	}
	return string(data), true, nil
}

func (s *Service) saveDraft(ctx context.Context, jobID string, parts []Analysis) error {
	if s.Store == nil {
		return nil
	}
	payload, err := json.Marshal(draft{Parts: parts})
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if _, err := s.Store.Put(ctx, draftKey(jobID), "application/json", strings.NewReader(string(payload))); err != nil {
		return &PersistenceError{JobID: jobID, Op: "save draft", Err: err}
	}
	return nil
}

// loadDraft returns nil parts when no draft was saved.
func (s *Service) loadDraft(ctx context.Context, jobID string) ([]Analysis, error) {
	if s.Store == nil {
		return nil, nil
	}
	data, err := object.ReadAll(ctx, s.Store, draftKey(jobID))
	if errors.Is(err, object.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{JobID: jobID, Op: "load draft", Err: err}
	}
	var d draft
	if err := json.Unmarshal(data, &d); err != nil {
		telemetry.Warn("job.draft_corrupt", map[string]any{"job_id": jobID, "error": err.Error()})
		return nil, nil
	}
	return d.Parts, nil
}
