package jobs

import "time"

type createRequest struct {
	URL                string   `json:"url"`
	URLs               []string `json:"urls"`
	Kind               string   `json:"kind"`
	IdempotencyKey     string   `json:"idempotencyKey"`
	ContentFingerprint string   `json:"contentFingerprint"`
	WaitSeconds        int      `json:"waitSeconds"`
}

type createResponse struct {
	JobID    string   `json:"jobId"`
	Status   RunState `json:"status"`
	Phase    Phase    `json:"phase,omitempty"`
	IsCached bool     `json:"isCached"`
}

// statusView is the status document returned for a single job. ErrorDetail
// is filled only for operator requests.
type statusView struct {
	ID                   string               `json:"id"`
	URL                  string               `json:"url"`
	DocumentURLs         []string             `json:"documentUrls"`
	Kind                 Kind                 `json:"kind"`
	Status               RunState             `json:"status"`
	Phase                Phase                `json:"phase,omitempty"`
	Progress             int                  `json:"progress"`
	PhaseTimestamps      map[string]time.Time `json:"phaseTimestamps"`
	LastCompletedPhase   Phase                `json:"lastCompletedPhase,omitempty"`
	EarlyFindings        []Finding            `json:"earlyFindings,omitempty"`
	Result               *Analysis            `json:"result,omitempty"`
	ErrorCode            string               `json:"errorCode,omitempty"`
	ErrorMessage         string               `json:"errorMessage,omitempty"`
	ErrorDetail          string               `json:"errorDetail,omitempty"`
	TokensUsed           int                  `json:"tokensUsed"`
	ProcessingDurationMs int64                `json:"processingDurationMs"`
	IsCached             bool                 `json:"isCached,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
	CompletedAt          *time.Time           `json:"completedAt,omitempty"`
}

type summaryView struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Kind        Kind       `json:"kind"`
	Status      RunState   `json:"status"`
	Phase       Phase      `json:"phase,omitempty"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type listResponse struct {
	Items      []summaryView `json:"items"`
	NextCursor *string       `json:"nextCursor"`
}

func toStatusView(job Job, operator bool) statusView {
	view := statusView{
		ID:                   job.ID,
		URL:                  job.PrimaryURL,
		DocumentURLs:         job.URLs(),
		Kind:                 job.Kind,
		Status:               job.RunState,
		Phase:                job.Phase,
		Progress:             job.Progress,
		PhaseTimestamps:      job.PhaseTimestamps,
		LastCompletedPhase:   job.LastCompletedPhase,
		EarlyFindings:        job.EarlyFindings,
		TokensUsed:           job.TokensUsed,
		ProcessingDurationMs: job.ProcessingDurationMs,
		CreatedAt:            job.CreatedAt,
		CompletedAt:          job.CompletedAt,
	}
	if view.PhaseTimestamps == nil {
		view.PhaseTimestamps = map[string]time.Time{}
	}
	switch job.RunState {
	case StateCompleted:
		view.Result = job.Result
	case StateFailed:
		view.ErrorCode = job.ErrorCode
		view.ErrorMessage = job.ErrorMessage
		if operator {
			view.ErrorDetail = job.ErrorDetail
		}
	}
	return view
}

func toSummaryView(job Job) summaryView {
	return summaryView{
		ID:          job.ID,
		URL:         job.PrimaryURL,
		Kind:        job.Kind,
		Status:      job.RunState,
		Phase:       job.Phase,
		Progress:    job.Progress,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}
