package jobs

// Phase is a step of the resumable machine used by legal jobs.
type Phase string

const (
	PhaseCreated         Phase = "created"
	PhaseTermsDiscovered Phase = "terms_discovered"
	PhaseDocumentFetched Phase = "document_fetched"
	PhaseNormalized      Phase = "normalized"
	PhaseAnalyzing       Phase = "analyzing"
	PhaseSummarizing     Phase = "summarizing"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)

var phaseOrder = []Phase{
	PhaseCreated,
	PhaseTermsDiscovered,
	PhaseDocumentFetched,
	PhaseNormalized,
	PhaseAnalyzing,
	PhaseSummarizing,
	PhaseComplete,
}

var phaseProgress = map[Phase]int{
	PhaseCreated:         0,
	PhaseTermsDiscovered: 10,
	PhaseDocumentFetched: 30,
	PhaseNormalized:      40,
	PhaseAnalyzing:       55,
	PhaseSummarizing:     85,
	PhaseComplete:        100,
}

var stateProgress = map[RunState]int{
	StatePending:   0,
	StateFetching:  20,
	StateAnalyzing: 60,
	StateCompleted: 100,
}

// Terminal reports whether the phase is absorbing.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	if p == PhaseFailed {
		return true
	}
	_, ok := phaseProgress[p]
	return ok
}

// Next returns the phase that follows p. Terminal phases have no successor.
func (p Phase) Next() (Phase, bool) {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// Progress is the user-facing completion estimate for a phase.
func (p Phase) Progress() int {
	return phaseProgress[p]
}

// RunState maps a phase onto the coarse state shared with simple jobs.
func (p Phase) RunState() RunState {
	switch p {
	case PhaseCreated:
		return StatePending
	case PhaseTermsDiscovered, PhaseDocumentFetched:
		return StateFetching
	case PhaseNormalized, PhaseAnalyzing, PhaseSummarizing:
		return StateAnalyzing
	case PhaseComplete:
		return StateCompleted
	case PhaseFailed:
		return StateFailed
	}
	return StatePending
}

func progressForState(s RunState) int {
	return stateProgress[s]
}
