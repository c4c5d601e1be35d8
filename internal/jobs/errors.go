package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateKey          = errors.New("duplicate idempotency key")
	ErrTerminalState         = errors.New("job is in a terminal state")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
	ErrInvalidKind           = errors.New("invalid analysis kind")
	ErrInvalidCursor         = errors.New("invalid cursor")
	ErrTooManyURLs           = errors.New("too many urls")
)

const (
	ErrorCodeFetchFailed         = "FETCH_FAILED"
	ErrorCodeLLMTimeout          = "LLM_TIMEOUT"
	ErrorCodeLLMSchemaMismatch   = "LLM_SCHEMA_MISMATCH"
	ErrorCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrorCodeValidation          = "VALIDATION_ERROR"
	ErrorCodeInternal            = "INTERNAL_ERROR"
)

// SchemaError reports an engine response that failed validation.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "analysis schema: " + e.Reason
	}
	return fmt.Sprintf("analysis schema: %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a store failure during phase execution. The job's
// stored state may not reflect what happened, so it is returned to the invoker.
type PersistenceError struct {
	JobID string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist job %s (%s): %v", e.JobID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err carries a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
