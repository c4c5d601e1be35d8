package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title> Terms of Service </title>
  <meta name="description" content="The rules for using Example.">
  <script>var tracking = "ignore me";</script>
  <style>body { color: red; }</style>
</head>
<body>
  <nav><a href="/">Home</a></nav>
  <main>
    <h1>Terms</h1>
    <p>We collect   your email address.</p>
    <ul><li>Cookies are used for analytics.</li></ul>
  </main>
</body>
</html>`

func TestFromBytesHTML(t *testing.T) {
	doc, err := FromBytes(context.Background(), []byte(samplePage), "text/html; charset=utf-8", "/terms")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if doc.Title != "Terms of Service" {
		t.Fatalf("unexpected title %q", doc.Title)
	}
	if doc.Description != "The rules for using Example." {
		t.Fatalf("unexpected description %q", doc.Description)
	}
	want := "Terms\nWe collect your email address.\nCookies are used for analytics."
	if doc.Text != want {
		t.Fatalf("unexpected text %q", doc.Text)
	}
	if strings.Contains(doc.Text, "tracking") || strings.Contains(doc.Text, "Home") {
		t.Fatalf("expected scripts and navigation stripped, got %q", doc.Text)
	}
	if WordCount(doc.Text) != 11 {
		t.Fatalf("unexpected word count %d", WordCount(doc.Text))
	}
}

func TestFromBytesPlainText(t *testing.T) {
	doc, err := FromBytes(context.Background(), []byte("hello \n\n world"), "text/plain", "/notes.txt")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if doc.Text != "hello world" {
		t.Fatalf("unexpected text %q", doc.Text)
	}
}

func TestFromBytesSniffsHTMLWithoutContentType(t *testing.T) {
	doc, err := FromBytes(context.Background(), []byte(samplePage), "", "/")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if doc.Title != "Terms of Service" {
		t.Fatalf("unexpected title %q", doc.Title)
	}
}

func TestFromBytesDocx(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	body := `<w:document xmlns:w="w"><w:body><w:p><w:r><w:t>Privacy</w:t></w:r></w:p><w:p><w:r><w:t>Policy text</w:t></w:r></w:p></w:body></w:document>`
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	doc, err := FromBytes(context.Background(), buf.Bytes(), "application/octet-stream", "/policy.docx")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if doc.Text != "Privacy\nPolicy text" {
		t.Fatalf("unexpected text %q", doc.Text)
	}
}

func TestFromBytesRealZipRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes.txt")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	_, err = FromBytes(context.Background(), buf.Bytes(), "application/zip", "/notes.zip")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if !strings.Contains(err.Error(), "application/zip") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFromBytesCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := FromBytes(ctx, []byte("x"), "text/plain", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
