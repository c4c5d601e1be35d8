package llm

import (
	_ "embed"
	"strings"
)

var (
	//go:embed prompts/legal.txt
	promptLegal string
	//go:embed prompts/general.txt
	promptGeneral string
)

var kindFocus = map[string]string{
	"comprehensive": "overall quality: content, search visibility, technical health and trust signals",
	"seo":           "search engine optimisation: titles, descriptions, headings, keyword coverage, crawlability",
	"content":       "content quality: clarity, structure, readability, accuracy and tone",
	"technical":     "technical health: performance hints, accessibility, markup quality and security headers visible in content",
}

// PromptTemplate returns the instructions for an analysis kind and whether the kind was recognized.
func PromptTemplate(kind, model string) (string, bool) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "legal" {
		return render(promptLegal, kind, model, ""), true
	}
	focus, ok := kindFocus[kind]
	if !ok {
		return render(promptGeneral, "comprehensive", model, kindFocus["comprehensive"]), false
	}
	return render(promptGeneral, kind, model, focus), true
}

func render(template, kind, model, focus string) string {
	return strings.NewReplacer(
		"{{KIND}}", kind,
		"{{MODEL}}", model,
		"{{FOCUS}}", focus,
	).Replace(template)
}
