package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func resetSingleton(t *testing.T) {
	t.Helper()
	reset := func() {
		singletonMu.Lock()
		singletonDB = nil
		singletonInFly = false
		singletonMu.Unlock()
	}
	reset()
	t.Cleanup(reset)
}

// stubOpen routes openDB to a sqlmock pool and records the DSN it was given.
func stubOpen(t *testing.T, open func(dsn string) (*sql.DB, error)) {
	t.Helper()
	prev := openDB
	openDB = func(_, dsn string) (*sql.DB, error) { return open(dsn) }
	t.Cleanup(func() { openDB = prev })
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return mockDB, mock
}

func TestOptionsForProfilesAndEnv(t *testing.T) {
	if got := OptionsFor(ProfileServer).StatementTimeout; got != 15*time.Second {
		t.Fatalf("server statement timeout = %s", got)
	}
	if got := OptionsFor(ProfileMigrate).StatementTimeout; got != 0 {
		t.Fatalf("migrations must not have a statement timeout, got %s", got)
	}
	if got := OptionsFor(ProfileLambda).MaxOpenConns; got != 2 {
		t.Fatalf("lambda pool size = %d", got)
	}

	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_STATEMENT_TIMEOUT", "2s")
	t.Setenv("DB_PING_TIMEOUT", "soon")
	t.Setenv("DB_MAX_IDLE_CONNS", "-1")

	opts := OptionsFor(ProfileServer)
	if opts.MaxOpenConns != 7 || opts.StatementTimeout != 2*time.Second {
		t.Fatalf("env overrides not applied: %+v", opts)
	}
	if opts.PingTimeout != 5*time.Second || opts.MaxIdleConns != 5 {
		t.Fatalf("invalid env values should keep defaults: %+v", opts)
	}
}

func TestRuntimeProfile(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	if got := RuntimeProfile(ProfileServer); got != ProfileServer {
		t.Fatalf("expected server profile, got %s", got)
	}
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "url-analyzer-worker")
	if got := RuntimeProfile(ProfileServer); got != ProfileLambda {
		t.Fatalf("expected lambda profile, got %s", got)
	}
}

func TestWithStatementTimeout(t *testing.T) {
	cases := []struct {
		name    string
		dsn     string
		timeout time.Duration
		want    string
	}{
		{name: "url", dsn: "postgres://u:p@db:5432/jobs?sslmode=disable", timeout: 15 * time.Second, want: "postgres://u:p@db:5432/jobs?sslmode=disable&statement_timeout=15000"},
		{name: "keyword", dsn: "host=db dbname=jobs", timeout: time.Second, want: "host=db dbname=jobs statement_timeout=1000"},
		{name: "already set", dsn: "postgres://db/jobs?statement_timeout=99", timeout: time.Second, want: "postgres://db/jobs?statement_timeout=99"},
		{name: "disabled", dsn: "postgres://db/jobs", timeout: 0, want: "postgres://db/jobs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := withStatementTimeout(tc.dsn, tc.timeout)
			if err != nil {
				t.Fatalf("withStatementTimeout: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConnectAppliesPoolAndStatementTimeout(t *testing.T) {
	mockDB, mock := newPingMock(t)
	mock.ExpectPing()
	var dsn string
	stubOpen(t, func(got string) (*sql.DB, error) {
		dsn = got
		return mockDB, nil
	})

	opts := OptionsFor(ProfileServer)
	opts.MaxOpenConns = 7
	opts.StatementTimeout = 2 * time.Second
	conn, err := Connect(context.Background(), "postgres://db/jobs", opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if conn.Stats().MaxOpenConnections != 7 {
		t.Fatalf("expected MaxOpenConnections=7, got %d", conn.Stats().MaxOpenConnections)
	}
	if !strings.Contains(dsn, "statement_timeout=2000") {
		t.Fatalf("expected statement timeout in dsn, got %q", dsn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestConnectClosesPoolWhenPingFails(t *testing.T) {
	mockDB, mock := newPingMock(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()
	stubOpen(t, func(string) (*sql.DB, error) { return mockDB, nil })

	_, err := Connect(context.Background(), "postgres://db/jobs", OptionsFor(ProfileMigrate))
	if err == nil || !strings.Contains(err.Error(), "ping database") {
		t.Fatalf("expected ping error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("pool should be closed: %v", err)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), "  ", OptionsFor(ProfileServer)); err == nil {
		t.Fatalf("expected error for empty DATABASE_URL")
	}
}

func TestOpenLambdaReusesPoolAfterFailedAttempt(t *testing.T) {
	resetSingleton(t)
	mockDB, mock := newPingMock(t)
	mock.ExpectPing()

	var calls int32
	stubOpen(t, func(string) (*sql.DB, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("dns not ready")
		}
		return mockDB, nil
	})

	if _, err := Open(context.Background(), "postgres://db/jobs", ProfileLambda); err == nil {
		t.Fatalf("expected first open to fail")
	}
	first, err := Open(context.Background(), "postgres://db/jobs", ProfileLambda)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	again, err := Open(context.Background(), "postgres://db/jobs", ProfileLambda)
	if err != nil || again != first {
		t.Fatalf("expected the cached pool, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 open attempts, got %d", calls)
	}
}

func TestMigrationFilesCreateJobsTable(t *testing.T) {
	names, err := MigrationFiles()
	if err != nil {
		t.Fatalf("MigrationFiles: %v", err)
	}
	if len(names) != 1 || names[0] != "00001_create_analysis_jobs.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}

	raw, err := migrationFiles.ReadFile(migrationsDir + "/" + names[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(raw)
	for _, want := range []string{
		"-- +goose Up",
		"-- +goose Down",
		"CREATE TABLE IF NOT EXISTS analysis_jobs",
		"analysis_jobs_idempotency_key_uniq",
		"phase_timestamps",
		"last_completed_phase",
		"early_findings",
		"error_detail",
		"CHECK (result IS NULL OR error_message IS NULL)",
	} {
		if !strings.Contains(sqlText, want) {
			t.Fatalf("migration missing %q", want)
		}
	}
}

func TestMigrationsSkipWithoutDatabase(t *testing.T) {
	ctx := context.Background()
	for name, fn := range map[string]func(context.Context, *sql.DB) error{
		"up":     RunMigrations,
		"down":   RollbackMigration,
		"status": MigrationStatus,
	} {
		if err := fn(ctx, nil); err != nil {
			t.Fatalf("%s with nil db: %v", name, err)
		}
	}
}
