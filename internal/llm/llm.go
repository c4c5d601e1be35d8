package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Client abstracts LLM providers for page analysis.
type Client interface {
	Analyze(ctx context.Context, input AnalyzeInput) (AnalyzeOutput, error)
}

// AnalyzeInput captures the inputs needed for one document analysis.
type AnalyzeInput struct {
	URL     string
	Text    string
	Kind    string
	Context string
}

// AnalyzeOutput is the raw structured response. Raw is validated by the caller.
type AnalyzeOutput struct {
	Raw        json.RawMessage
	TokensUsed int
	Model      string
}

// ErrInvalidOutput is returned when the provider keeps answering with non-JSON content.
var ErrInvalidOutput = errors.New("llm output invalid")
