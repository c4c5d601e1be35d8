package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const placeholderModel = "placeholder-rules-v1"

// PlaceholderClient is a rule-based engine used when no provider is
// configured. It scans the text for fixed keywords, so the same input always
// yields the same analysis. Token usage is the word count.
type PlaceholderClient struct{}

type placeholderRule struct {
	id       string
	title    string
	severity string
	keywords []string
	advice   string
}

var legalRules = []placeholderRule{
	{id: "arbitration", title: "Mandatory arbitration", severity: "high", keywords: []string{"arbitration", "class action"}, advice: "Look for an arbitration opt-out window"},
	{id: "data-sale", title: "Personal data may be sold or shared", severity: "high", keywords: []string{"sell your", "sale of personal", "share with third parties", "third-party partners"}, advice: "Use the do-not-sell request if offered"},
	{id: "content-license", title: "Broad license over user content", severity: "high", keywords: []string{"irrevocable", "perpetual license", "royalty-free"}, advice: "Avoid uploading content you want to keep exclusive"},
	{id: "tracking", title: "Tracking and cookies", severity: "medium", keywords: []string{"cookie", "tracking", "analytics", "advertising partners"}, advice: "Review cookie settings"},
	{id: "auto-renewal", title: "Automatic renewal", severity: "medium", keywords: []string{"automatically renew", "auto-renew", "recurring charge"}, advice: "Set a reminder before the renewal date"},
	{id: "unilateral-changes", title: "Terms can change without notice", severity: "low", keywords: []string{"without notice", "at any time", "sole discretion"}, advice: "Check the terms again before relying on them"},
}

var (
	thinContentRule = placeholderRule{id: "thin-content", title: "Thin content", severity: "medium", advice: "Expand the page to cover the topic in depth"}
	noContactRule   = placeholderRule{id: "no-contact", title: "No contact information found", severity: "low", advice: "Add a visible contact page or address"}
)

const thinContentWords = 300

var dataKeywords = map[string]string{
	"email":       "email address",
	"phone":       "phone number",
	"location":    "location",
	"ip address":  "IP address",
	"payment":     "payment details",
	"credit card": "payment details",
	"device":      "device identifiers",
}

var serviceKeywords = map[string]string{
	"website":    "website",
	"mobile app": "mobile apps",
	"api":        "API",
}

type placeholderRisk struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type placeholderAnalysis struct {
	Summary         string            `json:"summary"`
	Score           int               `json:"score"`
	Risks           []placeholderRisk `json:"risks"`
	Actions         []string          `json:"actions"`
	DataCollected   []string          `json:"dataCollected"`
	ServicesCovered []string          `json:"servicesCovered"`
	Recommendations []string          `json:"recommendations"`
}

// Analyze builds an analysis from keyword matches in input.Text.
func (PlaceholderClient) Analyze(ctx context.Context, input AnalyzeInput) (AnalyzeOutput, error) {
	if err := ctx.Err(); err != nil {
		return AnalyzeOutput{}, err
	}
	lower := strings.ToLower(input.Text)
	words := len(strings.Fields(input.Text))
	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	if kind == "" {
		kind = "comprehensive"
	}

	out := placeholderAnalysis{
		Risks:           []placeholderRisk{},
		Actions:         []string{},
		Recommendations: []string{},
		DataCollected:   matchedValues(lower, dataKeywords),
		ServicesCovered: matchedValues(lower, serviceKeywords),
	}
	if kind == "legal" {
		for _, rule := range legalRules {
			if hit := firstHit(lower, rule.keywords); hit != "" {
				out.add(rule, fmt.Sprintf("The document mentions %q.", hit))
			}
		}
	} else {
		if words < thinContentWords {
			out.add(thinContentRule, fmt.Sprintf("The page has %d words.", words))
		}
		if !strings.Contains(lower, "contact") {
			out.add(noContactRule, "The page text never mentions contact details.")
		}
	}

	out.Score = placeholderScore(out.Risks)
	out.Summary = fmt.Sprintf("Rule-based %s review of %s: %d words, %d issues found.", kind, input.URL, words, len(out.Risks))

	raw, err := json.Marshal(out)
	if err != nil {
		return AnalyzeOutput{}, fmt.Errorf("encode placeholder analysis: %w", err)
	}
	return AnalyzeOutput{Raw: raw, TokensUsed: words, Model: placeholderModel}, nil
}

func (a *placeholderAnalysis) add(rule placeholderRule, description string) {
	a.Risks = append(a.Risks, placeholderRisk{
		ID:          rule.id,
		Title:       rule.title,
		Severity:    rule.severity,
		Description: description,
	})
	a.Recommendations = append(a.Recommendations, rule.advice)
	a.Actions = append(a.Actions, "Review: "+strings.ToLower(rule.title))
}

func placeholderScore(risks []placeholderRisk) int {
	score := 100
	for _, r := range risks {
		switch r.Severity {
		case "high":
			score -= 25
		case "medium":
			score -= 10
		default:
			score -= 3
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

func firstHit(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

func matchedValues(text string, table map[string]string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for kw, value := range table {
		if _, ok := seen[value]; ok || !strings.Contains(text, kw) {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
