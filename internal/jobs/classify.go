package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"url-analyzer/internal/extract"
	"url-analyzer/internal/fetcher"
	"url-analyzer/internal/llm"
	"url-analyzer/internal/retry"
	"url-analyzer/internal/urlgate"
)

// classifyFailure maps a phase failure to the stored error code.
func classifyFailure(err error) string {
	if err == nil {
		return ErrorCodeInternal
	}
	if urlgate.IsSecurityError(err) {
		return ErrorCodeValidation
	}
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) || errors.Is(err, llm.ErrInvalidOutput) {
		return ErrorCodeLLMSchemaMismatch
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		switch exhausted.Provider {
		case providerFetcher:
			return ErrorCodeFetchFailed
		case providerLLM:
			if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
				return ErrorCodeLLMTimeout
			}
			return ErrorCodeProviderUnavailable
		}
	}
	return ErrorCodeInternal
}

// failureMessage is the user-facing text for a failed job. It never carries
// the raw cause.
func failureMessage(code string, err error) string {
	switch code {
	case ErrorCodeFetchFailed:
		switch {
		case errors.Is(err, fetcher.ErrEmptyContent):
			return "The page has no readable text."
		case errors.Is(err, extract.ErrUnsupported):
			return "The page's content type is not supported."
		}
		if status := retry.StatusCode(err); status != 0 {
			return fmt.Sprintf("The page could not be fetched (HTTP %d).", status)
		}
		return "The page could not be fetched."
	case ErrorCodeValidation:
		return "The URL points to an address that is not allowed."
	case ErrorCodeLLMTimeout:
		return "The analysis provider timed out. Try again later."
	case ErrorCodeLLMSchemaMismatch:
		return "The analysis provider returned an unusable response."
	case ErrorCodeProviderUnavailable:
		return "The analysis provider is unavailable. Try again later."
	}
	return "The analysis failed because of an internal error."
}
