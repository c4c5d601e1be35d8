package openai

import (
	"fmt"
	"strings"

	"url-analyzer/internal/llm"
	"url-analyzer/internal/shared/telemetry"
)

// Message represents an OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

const (
	systemPromptStrict  = "You are a web page analysis engine. Respond with JSON only. No markdown. Never omit keys. Output must match the schema exactly."
	systemPromptFixJSON = "You are a JSON repair tool. Return only valid JSON that matches the schema exactly."

	// maxPromptChars bounds the document text sent in a single request.
	maxPromptChars = 60000
)

// BuildPrompt creates the chat messages for an analysis request.
func BuildPrompt(input llm.AnalyzeInput, model string) []Message {
	return []Message{
		{Role: "system", Content: systemPromptStrict},
		{Role: "developer", Content: resolvePromptTemplate(input.Kind, model)},
		{Role: "user", Content: buildUserPrompt(input)},
	}
}

func buildFixPrompt(input llm.AnalyzeInput, model string, raw []byte) []Message {
	return []Message{
		{Role: "system", Content: systemPromptFixJSON},
		{Role: "developer", Content: resolvePromptTemplate(input.Kind, model)},
		{Role: "user", Content: fixUserPrompt(raw)},
	}
}

func resolvePromptTemplate(kind, model string) string {
	template, ok := llm.PromptTemplate(kind, model)
	if !ok {
		telemetry.Warn("llm.prompt.unknown_kind", map[string]any{"kind": kind})
	}
	return template
}

func buildUserPrompt(input llm.AnalyzeInput) string {
	text := input.Text
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	extra := strings.TrimSpace(input.Context)
	if extra == "" {
		extra = "N/A"
	}
	return fmt.Sprintf("URL:\n%s\n\nContext:\n%s\n\nDocument Text:\n%s", input.URL, extra, text)
}

func fixUserPrompt(raw []byte) string {
	return fmt.Sprintf("Fix this JSON to match the schema exactly. Output JSON only:\n%s", string(raw))
}
