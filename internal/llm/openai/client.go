package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"url-analyzer/internal/llm"
	"url-analyzer/internal/shared/telemetry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second
)

// Config configures the OpenAI client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai error: http status %d", e.Status)
	}
	return fmt.Sprintf("openai error: http status %d: %s (%s)", e.Status, e.Message, e.Type)
}

func (e *APIError) StatusCode() int { return e.Status }

// Client implements llm.Client using OpenAI Chat Completions.
type Client struct {
	model    string
	endpoint string
	http     *resty.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewClient constructs a new OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &Client{
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
		http:     client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openai",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: isBreakerSuccess,
		}),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Analyze runs one analysis. A response that is not JSON gets one repair round trip.
func (c *Client) Analyze(ctx context.Context, input llm.AnalyzeInput) (llm.AnalyzeOutput, error) {
	raw, tokens, err := c.complete(ctx, input.Kind, BuildPrompt(input, c.model))
	if err != nil {
		return llm.AnalyzeOutput{}, err
	}
	if json.Valid(raw) {
		return llm.AnalyzeOutput{Raw: raw, TokensUsed: tokens, Model: c.model}, nil
	}

	fixed, fixTokens, err := c.complete(ctx, input.Kind, buildFixPrompt(input, c.model, raw))
	tokens += fixTokens
	if err != nil {
		return llm.AnalyzeOutput{}, err
	}
	if !json.Valid(fixed) {
		return llm.AnalyzeOutput{}, fmt.Errorf("%w: invalid JSON from OpenAI", llm.ErrInvalidOutput)
	}
	return llm.AnalyzeOutput{Raw: fixed, TokensUsed: tokens, Model: c.model}, nil
}

func (c *Client) complete(ctx context.Context, kind string, messages []Message) (json.RawMessage, int, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.analyzeOnce(ctx, kind, messages)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, 0, fmt.Errorf("openai unavailable: %w", err)
		}
		return nil, 0, err
	}
	res := out.(completion)
	return res.raw, res.tokens, nil
}

type completion struct {
	raw    json.RawMessage
	tokens int
}

func (c *Client) analyzeOnce(ctx context.Context, kind string, messages []Message) (completion, error) {
	temp := float32(0)
	reqMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, chatMessage{Role: m.Role, Content: m.Content})
	}
	reqBody := chatRequest{
		Model:          c.model,
		Messages:       reqMessages,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	if !isGPT5(c.model) {
		reqBody.Temperature = &temp
	}

	var parsed chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&parsed).
		Post(c.endpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return completion{}, fmt.Errorf("openai request timeout: %w", context.DeadlineExceeded)
		}
		return completion{}, fmt.Errorf("openai request: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		apiErr := &APIError{Status: resp.StatusCode()}
		var body errorResponse
		if json.Unmarshal(resp.Body(), &body) == nil && body.Error != nil {
			apiErr.Message = body.Error.Message
			apiErr.Type = body.Error.Type
		}
		return completion{}, apiErr
	}
	if len(parsed.Choices) == 0 {
		return completion{}, fmt.Errorf("%w: openai response missing choices", llm.ErrInvalidOutput)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return completion{}, fmt.Errorf("%w: openai response empty content", llm.ErrInvalidOutput)
	}
	tokens := 0
	if parsed.Usage != nil {
		tokens = parsed.Usage.TotalTokens
		telemetry.Info("llm.response", map[string]any{
			"model":             c.model,
			"kind":              kind,
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
			"total_tokens":      parsed.Usage.TotalTokens,
		})
	}
	return completion{raw: json.RawMessage(content), tokens: tokens}, nil
}

// isBreakerSuccess keeps caller mistakes from opening the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, llm.ErrInvalidOutput) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
	}
	return false
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

var _ llm.Client = (*Client)(nil)
