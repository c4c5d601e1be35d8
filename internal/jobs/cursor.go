package jobs

import (
	"encoding/base64"
	"strings"
	"time"
)

// Cursor marks the last job of a page in (createdAt desc, id desc) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns the opaque form handed to clients.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor. An empty string yields nil.
func DecodeCursor(raw string) (*Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(data), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

// after reports whether job sorts after the cursor.
func (c *Cursor) after(job Job) bool {
	if c == nil {
		return true
	}
	if job.CreatedAt.Equal(c.CreatedAt) {
		return job.ID < c.ID
	}
	return job.CreatedAt.Before(c.CreatedAt)
}
