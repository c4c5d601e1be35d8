package util

import (
	"strings"
	"testing"
)

func TestSanitizeMessage(t *testing.T) {
	got := SanitizeMessage("  line one\nline two\r\n", 0)
	if got != "line one line two" {
		t.Fatalf("unexpected message %q", got)
	}

	long := strings.Repeat("é", 300)
	cut := SanitizeMessage(long, 501)
	if len(cut) > 501 || !strings.HasPrefix(long, cut) {
		t.Fatalf("expected prefix of at most 501 bytes, got %d bytes", len(cut))
	}
	if len(cut)%2 != 0 {
		t.Fatalf("expected whole runes, got %d bytes", len(cut))
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("héllo", 2); got != "hé" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := TruncateRunes("abc", 10); got != "abc" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := TruncateRunes("abc", 0); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
