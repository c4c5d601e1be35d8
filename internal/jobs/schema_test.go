package jobs

import (
	"errors"
	"testing"
)

func TestDecodeAnalysisAcceptsValidResponse(t *testing.T) {
	raw := []byte(`{
		"summary": "  Collects contact data. ",
		"score": 72.6,
		"risks": [{"id":"r1","title":"Arbitration","severity":"HIGH","description":"x"}],
		"actions": ["  ", "Opt out"],
		"dataCollected": ["email"]
	}`)
	got, err := DecodeAnalysis(raw)
	if err != nil {
		t.Fatalf("DecodeAnalysis: %v", err)
	}
	if got.Summary != "Collects contact data." || got.Score != 73 {
		t.Fatalf("unexpected summary/score %q %d", got.Summary, got.Score)
	}
	if got.Risks[0].Severity != SeverityHigh || got.OverallAssessment != AssessmentModerateConcern {
		t.Fatalf("unexpected risk handling %+v", got)
	}
	if len(got.Actions) != 1 || got.ServicesCovered == nil {
		t.Fatalf("lists not cleaned %+v", got)
	}
}

func TestDecodeAnalysisRejectsMismatches(t *testing.T) {
	cases := map[string]struct {
		raw   string
		field string
	}{
		"empty":           {``, ""},
		"not json":        {`Sure! Here is the analysis`, ""},
		"missing score":   {`{"summary":"s","risks":[]}`, "score"},
		"score range":     {`{"summary":"s","score":101,"risks":[]}`, "score"},
		"missing risks":   {`{"summary":"s","score":1}`, "risks"},
		"missing id":      {`{"summary":"s","score":1,"risks":[{"severity":"low"}]}`, "risks[0].id"},
		"bad severity":    {`{"summary":"s","score":1,"risks":[{"id":"a","severity":"critical"}]}`, "risks[0].severity"},
		"missing summary": {`{"score":1,"risks":[]}`, "summary"},
	}
	for name, tc := range cases {
		_, err := DecodeAnalysis([]byte(tc.raw))
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("%s: expected SchemaError, got %v", name, err)
		}
		if schemaErr.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %q", name, tc.field, schemaErr.Field)
		}
	}
}
