package jobs

import (
	"context"
	"errors"
	"time"

	"url-analyzer/internal/fetcher"
	"url-analyzer/internal/llm"
	"url-analyzer/internal/retry"
	"url-analyzer/internal/shared/metrics"
	"url-analyzer/internal/shared/telemetry"
)

const (
	providerFetcher = "fetcher"
	providerLLM     = "llm"
)

type retryingFetcher struct {
	next   fetcher.Fetcher
	policy retry.Policy
}

func (f retryingFetcher) Fetch(ctx context.Context, rawURL string) (fetcher.Content, error) {
	return retry.Do(ctx, f.policy, retry.Op{Provider: providerFetcher, Target: rawURL}, func(ctx context.Context) (fetcher.Content, error) {
		return f.next.Fetch(ctx, rawURL)
	})
}

type retryingLLM struct {
	next   llm.Client
	policy retry.Policy
}

func (r retryingLLM) Analyze(ctx context.Context, input llm.AnalyzeInput) (llm.AnalyzeOutput, error) {
	return retry.Do(ctx, r.policy, retry.Op{Provider: providerLLM, Target: input.URL}, func(ctx context.Context) (llm.AnalyzeOutput, error) {
		out, err := r.next.Analyze(ctx, input)
		if err != nil && errors.Is(err, llm.ErrInvalidOutput) {
			return out, retry.Terminal(err)
		}
		return out, err
	})
}

// withRetryHooks fills in the logging and metrics callback when the policy has none.
func withRetryHooks(ctx context.Context, p retry.Policy) retry.Policy {
	if p.OnRetry != nil {
		return p
	}
	requestID := requestIDFromContext(ctx)
	p.OnRetry = func(op retry.Op, attempt int, delay time.Duration, err error) {
		metrics.IncProviderRetry()
		telemetry.Warn("provider.retry", map[string]any{
			"request_id": requestID,
			"provider":   op.Provider,
			"target":     op.Target,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
			"error":      err.Error(),
			"rate_limit": retry.IsRateLimited(err),
		})
	}
	return p
}
