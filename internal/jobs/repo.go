package jobs

import (
	"context"
	"time"
)

// Repo defines persistence operations for jobs.
type Repo interface {
	Insert(ctx context.Context, job Job) error
	FindByID(ctx context.Context, id string) (Job, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Job, error)
	FindRecentByNormalizedURL(ctx context.Context, q CacheQuery) (Job, error)
	UpdatePhase(ctx context.Context, id string, upd JobUpdate) error
	ListPage(ctx context.Context, filter ListFilter, cursor *Cursor, limit int) ([]Job, error)
}

// CacheQuery selects the newest completed job for a URL finished at or after
// Since. An empty Fingerprint matches any content.
type CacheQuery struct {
	NormalizedURL string
	Kind          Kind
	Since         time.Time
	Fingerprint   string
}

// ListFilter narrows ListPage results. Empty fields do not filter.
type ListFilter struct {
	NormalizedURL string
	RunState      RunState
}

// JobUpdate is a partial update applied atomically by UpdatePhase. Nil fields
// are left untouched. PhaseEntered entries are only added when the key is
// absent, so recorded timestamps never move. Updates against a terminal job
// fail with ErrTerminalState.
type JobUpdate struct {
	Phase                *Phase
	RunState             *RunState
	Progress             *int
	PhaseEntered         map[string]time.Time
	LastCompletedPhase   *Phase
	DocumentURLs         []string
	ContentFingerprint   *string
	EarlyFindings        []Finding
	Result               *Analysis
	ErrorCode            *string
	ErrorMessage         *string
	ErrorDetail          *string
	TokensUsed           *int
	ProcessingDurationMs *int64
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// Apply merges the update into job. Callers check terminal state first.
func (u JobUpdate) Apply(job *Job, now time.Time) {
	if u.Phase != nil {
		job.Phase = *u.Phase
	}
	if u.RunState != nil {
		job.RunState = *u.RunState
	}
	if u.Progress != nil && *u.Progress > job.Progress {
		job.Progress = *u.Progress
	}
	if len(u.PhaseEntered) > 0 {
		if job.PhaseTimestamps == nil {
			job.PhaseTimestamps = make(map[string]time.Time, len(u.PhaseEntered))
		}
		for name, at := range u.PhaseEntered {
			if _, ok := job.PhaseTimestamps[name]; !ok {
				job.PhaseTimestamps[name] = at
			}
		}
	}
	if u.LastCompletedPhase != nil {
		job.LastCompletedPhase = *u.LastCompletedPhase
	}
	if u.DocumentURLs != nil {
		job.DocumentURLs = append([]string(nil), u.DocumentURLs...)
	}
	if u.ContentFingerprint != nil {
		job.ContentFingerprint = *u.ContentFingerprint
	}
	if u.EarlyFindings != nil {
		job.EarlyFindings = append([]Finding(nil), u.EarlyFindings...)
	}
	if u.Result != nil {
		res := *u.Result
		job.Result = &res
	}
	if u.ErrorCode != nil {
		job.ErrorCode = *u.ErrorCode
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = *u.ErrorMessage
	}
	if u.ErrorDetail != nil {
		job.ErrorDetail = *u.ErrorDetail
	}
	if u.TokensUsed != nil {
		job.TokensUsed = *u.TokensUsed
	}
	if u.ProcessingDurationMs != nil {
		job.ProcessingDurationMs = *u.ProcessingDurationMs
	}
	if u.StartedAt != nil && job.StartedAt == nil {
		at := *u.StartedAt
		job.StartedAt = &at
	}
	if u.CompletedAt != nil {
		at := *u.CompletedAt
		job.CompletedAt = &at
	}
	job.UpdatedAt = now
}
