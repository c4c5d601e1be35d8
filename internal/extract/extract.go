package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

const (
	mimeHTML  = "text/html"
	mimeXHTML = "application/xhtml+xml"
	mimePlain = "text/plain"
	mimePDF   = "application/pdf"
	mimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ErrUnsupported is returned for payloads that cannot be turned into text.
var ErrUnsupported = errors.New("unsupported content type")

// Document is the cleaned text of a fetched resource.
type Document struct {
	Title       string
	Description string
	Text        string
}

// FromBytes extracts readable text from an in-memory payload. The name (usually
// the URL path) is used to sniff the type when the content type is generic.
// Libraries used: goquery (HTML), github.com/ledongthuc/pdf (PDF).
func FromBytes(ctx context.Context, data []byte, contentType string, name string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	switch normalized := normalizeMimeType(contentType, name, data); normalized {
	case mimeHTML, mimeXHTML:
		return extractHTML(data)
	case mimePDF:
		text, err := extractPDF(data)
		return Document{Text: text}, err
	case mimeDOCX:
		text, err := extractDOCX(data)
		return Document{Text: text}, err
	case mimePlain:
		return Document{Text: collapseWhitespace(string(data))}, nil
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupported, normalized)
	}
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func extractHTML(data []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
	}
	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	if strings.TrimSpace(description) == "" {
		description, _ = doc.Find(`meta[property="og:description"]`).Attr("content")
	}

	doc.Find("script,noscript,style,template,iframe,svg,nav,link[rel='stylesheet']").Remove()
	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var buf strings.Builder
	root.Find("h1,h2,h3,h4,h5,h6,p,li,td,th,pre,blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p,li").Length() > 0 {
			return
		}
		line := collapseWhitespace(s.Text())
		if line == "" {
			return
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)
	})
	text := buf.String()
	if text == "" {
		text = collapseWhitespace(root.Text())
	}

	return Document{
		Title:       collapseWhitespace(title),
		Description: collapseWhitespace(description),
		Text:        text,
	}, nil
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func extractDOCX(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx data")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("document.xml file not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return stripDocxXML(string(raw)), nil
}

func stripDocxXML(raw string) string {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return raw
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.WriteString(string(t))
		case xml.EndElement:
			if (t.Name.Local == "p" || t.Name.Local == "br") && buf.Len() > 0 {
				buf.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

func normalizeMimeType(contentType string, name string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch clean {
	case "", "application/octet-stream", "binary/octet-stream", "application/zip":
	default:
		return clean
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return mimePDF
	case ".docx":
		return mimeDOCX
	case ".txt", ".md":
		return mimePlain
	case ".html", ".htm":
		return mimeHTML
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return mimePDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")) && hasDocxPart(data):
		return mimeDOCX
	case looksLikeHTML(data):
		return mimeHTML
	}
	if clean == "" {
		return "application/octet-stream"
	}
	return clean
}

func hasDocxPart(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return true
		}
	}
	return false
}

func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
