package jobs

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func risks(severities ...string) []Risk {
	out := make([]Risk, 0, len(severities))
	for i, s := range severities {
		out = append(out, Risk{ID: string(rune('a' + i)), Severity: s})
	}
	return out
}

func TestAssessThresholds(t *testing.T) {
	cases := []struct {
		risks []Risk
		want  string
	}{
		{risks(SeverityHigh, SeverityHigh, SeverityHigh, SeverityHigh), AssessmentHighConcern},
		{risks(SeverityHigh, SeverityHigh, SeverityHigh), AssessmentHighConcern},
		{risks(SeverityHigh, SeverityLow), AssessmentModerateConcern},
		{risks(SeverityMedium, SeverityMedium, SeverityMedium), AssessmentLowConcern},
		{nil, AssessmentLowConcern},
	}
	for i, tc := range cases {
		if got := Assess(tc.risks); got != tc.want {
			t.Fatalf("case %d: expected %s, got %s", i, tc.want, got)
		}
	}
}

func TestMergeAnalysesUnionsAndSums(t *testing.T) {
	parts := []Analysis{
		{
			Summary:       "First.",
			Score:         81,
			Risks:         []Risk{{ID: "x", Severity: SeverityLow}, {ID: "y", Severity: SeverityHigh}},
			Actions:       []string{"a1", "a2"},
			DataCollected: []string{"email"},
			Documents:     []string{"https://a.example"},
			TokensUsed:    120,
			Model:         "m1",
		},
		{
			Summary:       "Second.",
			Score:         40,
			Risks:         []Risk{{ID: "x", Severity: SeverityHigh}, {ID: "z", Severity: SeverityMedium}},
			Actions:       []string{"a2", "a3"},
			DataCollected: []string{"email", "location"},
			Documents:     []string{"https://b.example"},
			TokensUsed:    80,
			Model:         "m2",
		},
	}

	got := MergeAnalyses(parts)
	if len(got.Risks) != 3 || got.Risks[0].Severity != SeverityLow {
		t.Fatalf("expected first occurrence of x to win, got %+v", got.Risks)
	}
	if strings.Join(got.Actions, ",") != "a1,a2,a3" || strings.Join(got.DataCollected, ",") != "email,location" {
		t.Fatalf("unexpected unions %v %v", got.Actions, got.DataCollected)
	}
	if got.TokensUsed != 200 || got.Score != 61 || got.Model != "m1" {
		t.Fatalf("unexpected totals tokens=%d score=%d model=%s", got.TokensUsed, got.Score, got.Model)
	}
	if got.Summary != "First. Second." || len(got.Documents) != 2 {
		t.Fatalf("unexpected summary/documents %q %v", got.Summary, got.Documents)
	}
	if got.OverallAssessment != AssessmentModerateConcern {
		t.Fatalf("expected moderate concern, got %s", got.OverallAssessment)
	}
	if got.ServicesCovered == nil || got.Recommendations == nil {
		t.Fatalf("empty lists should be non-nil")
	}
}

func TestMergeAnalysesTruncatesSummary(t *testing.T) {
	long := strings.Repeat("é", 400)
	got := MergeAnalyses([]Analysis{{Summary: long}, {Summary: long}})
	if n := utf8.RuneCountInString(got.Summary); n > 500 {
		t.Fatalf("summary too long: %d runes", n)
	}
	if !utf8.ValidString(got.Summary) {
		t.Fatalf("truncation split a rune")
	}
}

func TestMergeAnalysesEmpty(t *testing.T) {
	got := MergeAnalyses(nil)
	if got.OverallAssessment != AssessmentLowConcern || got.Risks == nil {
		t.Fatalf("unexpected empty merge %+v", got)
	}
}

func TestEarlyFindingsOrdersHighFirst(t *testing.T) {
	urls := []string{"https://a.example", "https://b.example"}
	parts := []Analysis{
		{Risks: []Risk{{ID: "m1", Severity: SeverityMedium}, {ID: "l1", Severity: SeverityLow}}},
		{Risks: []Risk{{ID: "h1", Severity: SeverityHigh}, {ID: "m1", Severity: SeverityHigh}}},
	}
	got := EarlyFindings(urls, parts)
	if len(got) != 2 || got[0].RiskID != "h1" || got[0].DocumentURL != "https://b.example" || got[1].RiskID != "m1" {
		t.Fatalf("unexpected findings %+v", got)
	}
	if EarlyFindings(nil, nil) == nil {
		t.Fatalf("expected non-nil empty slice")
	}
}

func TestMergeAnalysesDedupesOverlappingHighRisks(t *testing.T) {
	high := func(id string) Risk { return Risk{ID: id, Severity: SeverityHigh} }
	parts := []Analysis{
		{Score: 60, Risks: []Risk{high("arbitration"), high("data-sale"), {ID: "tracking", Severity: SeverityMedium}}},
		{Score: 50, Risks: []Risk{high("data-sale"), high("content-license")}},
		{Score: 40, Risks: []Risk{high("content-license"), high("liability-waiver"), {ID: "tracking", Severity: SeverityMedium}}},
	}
	for i, p := range parts {
		if got := Assess(p.Risks); got != AssessmentModerateConcern {
			t.Fatalf("part %d alone: expected %s, got %s", i, AssessmentModerateConcern, got)
		}
	}

	got := MergeAnalyses(parts)
	wantIDs := []string{"arbitration", "data-sale", "tracking", "content-license", "liability-waiver"}
	if len(got.Risks) != len(wantIDs) {
		t.Fatalf("expected %d deduplicated risks, got %+v", len(wantIDs), got.Risks)
	}
	highs := 0
	for i, r := range got.Risks {
		if r.ID != wantIDs[i] {
			t.Fatalf("risk %d: expected %s, got %s", i, wantIDs[i], r.ID)
		}
		if r.Severity == SeverityHigh {
			highs++
		}
	}
	if highs != 4 {
		t.Fatalf("expected 4 high risks after dedupe, got %d", highs)
	}
	if got.OverallAssessment != AssessmentHighConcern {
		t.Fatalf("expected %s, got %s", AssessmentHighConcern, got.OverallAssessment)
	}
	if got.Score != 50 {
		t.Fatalf("expected mean score 50, got %d", got.Score)
	}
}
