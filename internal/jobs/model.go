package jobs

import (
	"strings"
	"time"
)

// Kind is the closed set of analysis kinds.
type Kind string

const (
	KindComprehensive Kind = "comprehensive"
	KindSEO           Kind = "seo"
	KindContent       Kind = "content"
	KindTechnical     Kind = "technical"
	KindLegal         Kind = "legal"
)

// ParseKind maps user input to a Kind. Empty input means comprehensive.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindComprehensive:
		return KindComprehensive, nil
	case KindSEO:
		return KindSEO, nil
	case KindContent:
		return KindContent, nil
	case KindTechnical:
		return KindTechnical, nil
	case KindLegal:
		return KindLegal, nil
	}
	return "", ErrInvalidKind
}

// Resumable reports whether the kind runs the phase machine and carries an
// idempotency key.
func (k Kind) Resumable() bool {
	return k == KindLegal
}

// RunState is the coarse state every job carries.
type RunState string

const (
	StatePending   RunState = "pending"
	StateFetching  RunState = "fetching"
	StateAnalyzing RunState = "analyzing"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

// Terminal reports whether the state is absorbing.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one analysis request and its progress. Phase is empty for simple
// kinds. Result is set only when RunState is completed and ErrorMessage only
// when it is failed. ErrorDetail holds the sanitised raw cause for operators.
type Job struct {
	ID                   string               `json:"id"`
	PrimaryURL           string               `json:"primaryUrl"`
	DocumentURLs         []string             `json:"documentUrls"`
	NormalizedURL        string               `json:"normalizedUrl"`
	Kind                 Kind                 `json:"analysisKind"`
	IdempotencyKey       string               `json:"idempotencyKey,omitempty"`
	ContentFingerprint   string               `json:"contentFingerprint,omitempty"`
	Phase                Phase                `json:"phase,omitempty"`
	RunState             RunState             `json:"runState"`
	Progress             int                  `json:"progress"`
	PhaseTimestamps      map[string]time.Time `json:"phaseTimestamps"`
	LastCompletedPhase   Phase                `json:"lastCompletedPhase,omitempty"`
	EarlyFindings        []Finding            `json:"earlyFindings,omitempty"`
	Result               *Analysis            `json:"result,omitempty"`
	ErrorCode            string               `json:"errorCode,omitempty"`
	ErrorMessage         string               `json:"errorMessage,omitempty"`
	ErrorDetail          string               `json:"-"`
	TokensUsed           int                  `json:"tokensUsed"`
	ProcessingDurationMs int64                `json:"processingDurationMs"`
	CreatedAt            time.Time            `json:"createdAt"`
	StartedAt            *time.Time           `json:"startedAt,omitempty"`
	CompletedAt          *time.Time           `json:"completedAt,omitempty"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// Terminal reports whether the job reached an absorbing state.
func (j Job) Terminal() bool {
	return j.RunState.Terminal()
}

// URLs returns the primary URL followed by the remaining document URLs.
func (j Job) URLs() []string {
	out := []string{j.PrimaryURL}
	for _, u := range j.DocumentURLs {
		if u != "" && u != j.PrimaryURL {
			out = append(out, u)
		}
	}
	return out
}

// Risk is one detected issue in an analysed document.
type Risk struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

const (
	AssessmentHighConcern     = "high_concern"
	AssessmentModerateConcern = "moderate_concern"
	AssessmentLowConcern      = "low_concern"
)

// Analysis is the validated result stored on a completed job.
type Analysis struct {
	Summary           string   `json:"summary"`
	Score             int      `json:"score"`
	OverallAssessment string   `json:"overallAssessment"`
	Risks             []Risk   `json:"risks"`
	Actions           []string `json:"actions"`
	DataCollected     []string `json:"dataCollected"`
	ServicesCovered   []string `json:"servicesCovered"`
	Recommendations   []string `json:"recommendations"`
	Documents         []string `json:"documents,omitempty"`
	TokensUsed        int      `json:"tokensUsed"`
	Model             string   `json:"model,omitempty"`
}

// Finding is an early, partial result published before completion.
type Finding struct {
	RiskID      string `json:"riskId"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	DocumentURL string `json:"documentUrl,omitempty"`
}
