package jobs

import (
	"sort"
	"strings"

	"url-analyzer/internal/shared/util"
	"url-analyzer/internal/urlgate"
)

// IdempotencyKey digests the sorted, de-duplicated URL set and the optional
// content fingerprint. URLs are normalised first, so variants of the same
// address produce the same key.
func IdempotencyKey(urls []string, fingerprint string) string {
	seen := make(map[string]struct{}, len(urls))
	set := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		n := urlgate.MustNormalize(u)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		set = append(set, n)
	}
	sort.Strings(set)
	payload := strings.Join(set, "\n")
	if fp := strings.TrimSpace(fingerprint); fp != "" {
		payload += "\n#" + fp
	}
	return util.SHA256Hex(payload)
}

// ContentFingerprint digests fetched document text.
func ContentFingerprint(text string) string {
	return util.SHA256Hex(text)
}
