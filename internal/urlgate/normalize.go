package urlgate

import (
	"sort"
	"strings"
)

// Normalize returns the canonical form of raw used for cache lookups.
// The host is lower-cased, trailing slashes are stripped from the path (the
// root path stays "/"), the fragment is dropped and query parameters are
// sorted by key. Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	u, err := parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", &SecurityError{Rule: RuleMissingHost, Reason: "url has no host"}
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(strings.ToLower(u.Host))

	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if query := sortQuery(u.RawQuery); query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String(), nil
}

// MustNormalize is Normalize for inputs that already passed Validate; it
// falls back to the trimmed input when parsing fails.
func MustNormalize(raw string) string {
	normalized, err := Normalize(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return normalized
}

// sortQuery orders parameters by key, keeping the original relative order of
// repeated keys and the original escaping of each pair.
func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := make([]string, 0, strings.Count(raw, "&")+1)
	for _, p := range strings.Split(raw, "&") {
		if p != "" {
			pairs = append(pairs, p)
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return queryKey(pairs[i]) < queryKey(pairs[j])
	})
	return strings.Join(pairs, "&")
}

func queryKey(pair string) string {
	if idx := strings.IndexByte(pair, '='); idx >= 0 {
		return pair[:idx]
	}
	return pair
}
