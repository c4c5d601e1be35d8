package local

import (
	"context"
	"errors"
	"strings"
	"testing"

	"url-analyzer/internal/shared/storage/object"
)

func TestPutAndOpen(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	n, err := store.Put(ctx, "jobs/job-1/documents/0.txt", "text/plain; charset=utf-8", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}
	if _, err := store.Put(ctx, "jobs/job-1/documents/0.txt", "text/plain", strings.NewReader("second")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	data, err := object.ReadAll(ctx, store, "jobs/job-1/documents/0.txt")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Open(context.Background(), "jobs/missing/draft.json")
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Put(context.Background(), "../escape.txt", "text/plain", strings.NewReader("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if _, err := store.Open(context.Background(), "/etc/passwd"); err == nil {
		t.Fatalf("expected absolute key to be rejected")
	}
}
