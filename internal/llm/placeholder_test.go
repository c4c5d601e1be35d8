package llm

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func decodePlaceholder(t *testing.T, out AnalyzeOutput) placeholderAnalysis {
	t.Helper()
	var got placeholderAnalysis
	if err := json.Unmarshal(out.Raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestPlaceholderLegalKeywords(t *testing.T) {
	text := "Disputes go to binding arbitration. We use cookies and may share with third parties your email and phone."
	out, err := PlaceholderClient{}.Analyze(context.Background(), AnalyzeInput{URL: "https://example.com/terms", Text: text, Kind: "legal"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	got := decodePlaceholder(t, out)

	ids := make([]string, 0, len(got.Risks))
	for _, r := range got.Risks {
		ids = append(ids, r.ID+":"+r.Severity)
	}
	want := []string{"arbitration:high", "data-sale:high", "tracking:medium"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("risks = %v, want %v", ids, want)
	}
	if got.Score != 40 {
		t.Fatalf("expected score 40, got %d", got.Score)
	}
	if !reflect.DeepEqual(got.DataCollected, []string{"email address", "phone number"}) {
		t.Fatalf("unexpected data collected %v", got.DataCollected)
	}
	if out.TokensUsed != len(strings.Fields(text)) || out.Model != placeholderModel {
		t.Fatalf("unexpected metadata tokens=%d model=%s", out.TokensUsed, out.Model)
	}
}

func TestPlaceholderIsDeterministic(t *testing.T) {
	in := AnalyzeInput{URL: "https://example.com", Text: "A short page about bread. Contact us by email.", Kind: "seo"}
	first, err := PlaceholderClient{}.Analyze(context.Background(), in)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, _ := PlaceholderClient{}.Analyze(context.Background(), in)
	if string(first.Raw) != string(second.Raw) {
		t.Fatalf("expected identical output\n%s\n%s", first.Raw, second.Raw)
	}

	got := decodePlaceholder(t, first)
	if len(got.Risks) != 1 || got.Risks[0].ID != "thin-content" {
		t.Fatalf("expected only thin-content, got %+v", got.Risks)
	}
}

func TestPlaceholderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (PlaceholderClient{}).Analyze(ctx, AnalyzeInput{Text: "x"}); err == nil {
		t.Fatalf("expected context error")
	}
}
