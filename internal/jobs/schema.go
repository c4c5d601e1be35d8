package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type rawAnalysis struct {
	Summary         *string    `json:"summary"`
	Score           *float64   `json:"score"`
	Risks           *[]rawRisk `json:"risks"`
	Actions         []string   `json:"actions"`
	DataCollected   []string   `json:"dataCollected"`
	ServicesCovered []string   `json:"servicesCovered"`
	Recommendations []string   `json:"recommendations"`
}

type rawRisk struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// DecodeAnalysis validates an engine response and converts it to an Analysis.
// Any mismatch is reported as a *SchemaError.
func DecodeAnalysis(raw []byte) (Analysis, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Analysis{}, &SchemaError{Reason: "empty response"}
	}
	var in rawAnalysis
	if err := json.Unmarshal(raw, &in); err != nil {
		return Analysis{}, &SchemaError{Reason: fmt.Sprintf("decode: %v", err)}
	}

	if in.Summary == nil {
		return Analysis{}, &SchemaError{Field: "summary", Reason: "missing"}
	}
	if in.Score == nil {
		return Analysis{}, &SchemaError{Field: "score", Reason: "missing"}
	}
	score := *in.Score
	if math.IsNaN(score) || score < 0 || score > 100 {
		return Analysis{}, &SchemaError{Field: "score", Reason: fmt.Sprintf("out of range: %v", score)}
	}
	if in.Risks == nil {
		return Analysis{}, &SchemaError{Field: "risks", Reason: "missing"}
	}

	risks := make([]Risk, 0, len(*in.Risks))
	for i, r := range *in.Risks {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return Analysis{}, &SchemaError{Field: fmt.Sprintf("risks[%d].id", i), Reason: "missing"}
		}
		severity := strings.ToLower(strings.TrimSpace(r.Severity))
		switch severity {
		case SeverityHigh, SeverityMedium, SeverityLow:
		default:
			return Analysis{}, &SchemaError{Field: fmt.Sprintf("risks[%d].severity", i), Reason: fmt.Sprintf("unknown value %q", r.Severity)}
		}
		risks = append(risks, Risk{
			ID:          id,
			Title:       strings.TrimSpace(r.Title),
			Severity:    severity,
			Description: strings.TrimSpace(r.Description),
		})
	}

	out := Analysis{
		Summary:         strings.TrimSpace(*in.Summary),
		Score:           int(math.Round(score)),
		Risks:           risks,
		Actions:         cleanList(in.Actions),
		DataCollected:   cleanList(in.DataCollected),
		ServicesCovered: cleanList(in.ServicesCovered),
		Recommendations: cleanList(in.Recommendations),
	}
	out.OverallAssessment = Assess(out.Risks)
	return out, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
