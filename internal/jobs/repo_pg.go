package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const jobColumns = `id, primary_url, document_urls, normalized_url, kind, idempotency_key, content_fingerprint,
       phase, run_state, progress, phase_timestamps, last_completed_phase, early_findings, result,
       error_code, error_message, error_detail, tokens_used, processing_duration_ms,
       created_at, started_at, completed_at, updated_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *PGRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Insert adds a new job. A clash on the idempotency key returns ErrDuplicateKey.
func (r *PGRepo) Insert(ctx context.Context, job Job) error {
	const query = `
INSERT INTO analysis_jobs (
	id, primary_url, document_urls, normalized_url, kind, idempotency_key, content_fingerprint,
	phase, run_state, progress, phase_timestamps, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	docURLs, err := marshalJSONB(job.DocumentURLs, "[]")
	if err != nil {
		return err
	}
	timestamps, err := marshalJSONB(job.PhaseTimestamps, "{}")
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		job.ID,
		job.PrimaryURL,
		docURLs,
		job.NormalizedURL,
		string(job.Kind),
		nullString(job.IdempotencyKey),
		nullString(job.ContentFingerprint),
		nullString(string(job.Phase)),
		string(job.RunState),
		job.Progress,
		timestamps,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// FindByID returns a job by ID.
func (r *PGRepo) FindByID(ctx context.Context, id string) (Job, error) {
	query := `SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE id = $1 AND deleted_at IS NULL
LIMIT 1`
	return scanJob(r.DB.QueryRowContext(ctx, query, id))
}

// FindByIdempotencyKey returns the job that owns key.
func (r *PGRepo) FindByIdempotencyKey(ctx context.Context, key string) (Job, error) {
	query := `SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE idempotency_key = $1 AND deleted_at IS NULL
LIMIT 1`
	return scanJob(r.DB.QueryRowContext(ctx, query, key))
}

// FindRecentByNormalizedURL returns the newest completed job matching q.
func (r *PGRepo) FindRecentByNormalizedURL(ctx context.Context, q CacheQuery) (Job, error) {
	query := `SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE normalized_url = $1
  AND kind = $2
  AND run_state = 'completed'
  AND completed_at >= $3
  AND ($4::text = '' OR content_fingerprint = $4::text)
  AND deleted_at IS NULL
ORDER BY completed_at DESC
LIMIT 1`
	return scanJob(r.DB.QueryRowContext(ctx, query, q.NormalizedURL, string(q.Kind), q.Since, q.Fingerprint))
}

// UpdatePhase applies upd in a single statement guarded against terminal rows.
func (r *PGRepo) UpdatePhase(ctx context.Context, id string, upd JobUpdate) error {
	args := []any{id}
	var sets []string
	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if upd.Phase != nil {
		add("phase = $%d", string(*upd.Phase))
	}
	if upd.RunState != nil {
		add("run_state = $%d", string(*upd.RunState))
	}
	if upd.Progress != nil {
		add("progress = GREATEST(progress, $%d)", *upd.Progress)
	}
	if len(upd.PhaseEntered) > 0 {
		payload, err := json.Marshal(upd.PhaseEntered)
		if err != nil {
			return fmt.Errorf("marshal phase timestamps: %w", err)
		}
		// Existing keys win on the right-hand side of ||.
		add("phase_timestamps = $%d::jsonb || phase_timestamps", string(payload))
	}
	if upd.LastCompletedPhase != nil {
		add("last_completed_phase = $%d", string(*upd.LastCompletedPhase))
	}
	if upd.DocumentURLs != nil {
		payload, err := marshalJSONB(upd.DocumentURLs, "[]")
		if err != nil {
			return err
		}
		add("document_urls = $%d", payload)
	}
	if upd.ContentFingerprint != nil {
		add("content_fingerprint = $%d", nullString(*upd.ContentFingerprint))
	}
	if upd.EarlyFindings != nil {
		payload, err := marshalJSONB(upd.EarlyFindings, "[]")
		if err != nil {
			return err
		}
		add("early_findings = $%d", payload)
	}
	if upd.Result != nil {
		payload, err := json.Marshal(upd.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		add("result = $%d", string(payload))
	}
	if upd.ErrorCode != nil {
		add("error_code = $%d", nullString(*upd.ErrorCode))
	}
	if upd.ErrorMessage != nil {
		add("error_message = $%d", nullString(*upd.ErrorMessage))
	}
	if upd.ErrorDetail != nil {
		add("error_detail = $%d", nullString(*upd.ErrorDetail))
	}
	if upd.TokensUsed != nil {
		add("tokens_used = $%d", *upd.TokensUsed)
	}
	if upd.ProcessingDurationMs != nil {
		add("processing_duration_ms = $%d", *upd.ProcessingDurationMs)
	}
	if upd.StartedAt != nil {
		add("started_at = COALESCE(started_at, $%d)", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at = $%d", *upd.CompletedAt)
	}
	add("updated_at = $%d", r.now())

	query := `UPDATE analysis_jobs SET ` + strings.Join(sets, ", ") + `
WHERE id = $1 AND deleted_at IS NULL AND run_state NOT IN ('completed', 'failed')`
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var state string
	err = r.DB.QueryRowContext(ctx, `SELECT run_state FROM analysis_jobs WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrTerminalState
}

// ListPage returns up to limit jobs newest first, starting after cursor.
func (r *PGRepo) ListPage(ctx context.Context, filter ListFilter, cursor *Cursor, limit int) ([]Job, error) {
	if limit <= 0 {
		return []Job{}, nil
	}
	conds := []string{"deleted_at IS NULL"}
	var args []any
	if filter.NormalizedURL != "" {
		args = append(args, filter.NormalizedURL)
		conds = append(conds, fmt.Sprintf("normalized_url = $%d", len(args)))
	}
	if filter.RunState != "" {
		args = append(args, string(filter.RunState))
		conds = append(conds, fmt.Sprintf("run_state = $%d", len(args)))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)
	query := `SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE ` + strings.Join(conds, " AND ") + `
ORDER BY created_at DESC, id DESC
LIMIT ` + fmt.Sprintf("$%d", len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job                Job
		kind               string
		runState           string
		docURLs            []byte
		idempotencyKey     sql.NullString
		fingerprint        sql.NullString
		phase              sql.NullString
		timestamps         []byte
		lastCompletedPhase sql.NullString
		findings           []byte
		result             []byte
		errorCode          sql.NullString
		errorMessage       sql.NullString
		errorDetail        sql.NullString
		startedAt          sql.NullTime
		completedAt        sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.PrimaryURL,
		&docURLs,
		&job.NormalizedURL,
		&kind,
		&idempotencyKey,
		&fingerprint,
		&phase,
		&runState,
		&job.Progress,
		&timestamps,
		&lastCompletedPhase,
		&findings,
		&result,
		&errorCode,
		&errorMessage,
		&errorDetail,
		&job.TokensUsed,
		&job.ProcessingDurationMs,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}

	job.Kind = Kind(kind)
	job.RunState = RunState(runState)
	job.IdempotencyKey = idempotencyKey.String
	job.ContentFingerprint = fingerprint.String
	job.Phase = Phase(phase.String)
	job.LastCompletedPhase = Phase(lastCompletedPhase.String)
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String
	job.ErrorDetail = errorDetail.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if len(docURLs) > 0 {
		if err := json.Unmarshal(docURLs, &job.DocumentURLs); err != nil {
			return Job{}, fmt.Errorf("decode document_urls: %w", err)
		}
	}
	if len(timestamps) > 0 {
		if err := json.Unmarshal(timestamps, &job.PhaseTimestamps); err != nil {
			return Job{}, fmt.Errorf("decode phase_timestamps: %w", err)
		}
	}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &job.EarlyFindings); err != nil {
			return Job{}, fmt.Errorf("decode early_findings: %w", err)
		}
	}
	if len(result) > 0 {
		var a Analysis
		if err := json.Unmarshal(result, &a); err != nil {
			return Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &a
	}
	return job, nil
}

func marshalJSONB(v any, empty string) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal jsonb: %w", err)
	}
	if string(payload) == "null" {
		return empty, nil
	}
	return string(payload), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PGRepo)(nil)
