package jobs

import (
	"math"
	"strings"

	"url-analyzer/internal/shared/util"
)

const (
	maxSummaryChars = 500

	highConcernThreshold     = 3
	moderateConcernThreshold = 1
)

// Assess derives the overall assessment from the high-severity risk count.
func Assess(risks []Risk) string {
	high := 0
	for _, r := range risks {
		if r.Severity == SeverityHigh {
			high++
		}
	}
	switch {
	case high >= highConcernThreshold:
		return AssessmentHighConcern
	case high >= moderateConcernThreshold:
		return AssessmentModerateConcern
	default:
		return AssessmentLowConcern
	}
}

// MergeAnalyses combines per-document analyses into one. Risks are
// de-duplicated by id with the first occurrence winning, list fields are
// unioned in first-seen order, summaries are joined with a space and cut to
// 500 characters, and tokens are summed. Score is the rounded mean.
func MergeAnalyses(parts []Analysis) Analysis {
	if len(parts) == 0 {
		return Analysis{
			Risks:             []Risk{},
			Actions:           []string{},
			DataCollected:     []string{},
			ServicesCovered:   []string{},
			Recommendations:   []string{},
			OverallAssessment: AssessmentLowConcern,
		}
	}

	var (
		out       Analysis
		summaries []string
		scoreSum  int
		seenRisk  = map[string]struct{}{}
	)
	out.Risks = []Risk{}
	actions := newStringSet()
	data := newStringSet()
	services := newStringSet()
	recs := newStringSet()

	for _, p := range parts {
		for _, r := range p.Risks {
			if _, ok := seenRisk[r.ID]; ok {
				continue
			}
			seenRisk[r.ID] = struct{}{}
			out.Risks = append(out.Risks, r)
		}
		actions.add(p.Actions...)
		data.add(p.DataCollected...)
		services.add(p.ServicesCovered...)
		recs.add(p.Recommendations...)
		if s := strings.TrimSpace(p.Summary); s != "" {
			summaries = append(summaries, s)
		}
		out.Documents = append(out.Documents, p.Documents...)
		out.TokensUsed += p.TokensUsed
		scoreSum += p.Score
		if out.Model == "" {
			out.Model = p.Model
		}
	}

	out.Actions = actions.items
	out.DataCollected = data.items
	out.ServicesCovered = services.items
	out.Recommendations = recs.items
	out.Summary = util.TruncateRunes(strings.Join(summaries, " "), maxSummaryChars)
	out.Score = int(math.Round(float64(scoreSum) / float64(len(parts))))
	out.OverallAssessment = Assess(out.Risks)
	return out
}

type stringSet struct {
	seen  map[string]struct{}
	items []string
}

func newStringSet() *stringSet {
	return &stringSet{seen: map[string]struct{}{}, items: []string{}}
}

func (s *stringSet) add(values ...string) {
	for _, v := range values {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}
