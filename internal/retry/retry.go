package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// ErrRateLimited can be wrapped by providers that detect throttling without an HTTP status.
var ErrRateLimited = errors.New("rate limited")

// Policy configures Do. The zero value uses the package defaults. Sleep waits
// between attempts and OnRetry is called before each backoff sleep.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	OnRetry     func(op Op, attempt int, delay time.Duration, err error)
}

// Op identifies the operation for diagnostics.
type Op struct {
	Provider string
	Target   string
}

// ExhaustedError is returned when every attempt failed or a failure was terminal.
type ExhaustedError struct {
	Provider string
	Target   string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("provider %s target %s failed after %d attempt(s): %v", e.Provider, e.Target, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t terminalError
	return errors.As(err, &t)
}

type statusCoder interface {
	StatusCode() int
}

// StatusCode extracts an HTTP status from err, or 0.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// Do runs fn until it succeeds, fails terminally, or the attempt budget is spent.
func Do[T any](ctx context.Context, p Policy, op Op, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, &ExhaustedError{Provider: op.Provider, Target: op.Target, Attempts: attempt, Err: err}
		}
		if attempt == maxAttempts {
			break
		}
		delay := Backoff(base, attempt, IsRateLimited(err))
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, &ExhaustedError{Provider: op.Provider, Target: op.Target, Attempts: attempt, Err: lastErr}
		}
	}
	return zero, &ExhaustedError{Provider: op.Provider, Target: op.Target, Attempts: maxAttempts, Err: lastErr}
}

// Backoff returns base * 2^(attempt-1), doubled once more for rate-limit failures.
func Backoff(base time.Duration, attempt int, rateLimited bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << (attempt - 1)
	if rateLimited {
		delay *= 2
	}
	return delay
}

// IsRetryable classifies err. Unknown failures are retried; caller and
// configuration errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTerminal(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if status := StatusCode(err); status != 0 {
		switch {
		case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
			return true
		case status >= 500:
			return true
		case status >= 400:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range configMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}

var configMarkers = []string{
	"api key",
	"api_key",
	"credential",
	"is required",
	"not configured",
	"unauthorized",
	"invalid_request_error",
}

// IsRateLimited reports whether err signals throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || StatusCode(err) == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
