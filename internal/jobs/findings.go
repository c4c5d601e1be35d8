package jobs

// EarlyFindings lists high and medium risks per document so clients can show
// them before the merged result is ready. The same risk id is reported once.
func EarlyFindings(urls []string, parts []Analysis) []Finding {
	seen := map[string]struct{}{}
	var high, medium []Finding
	for i, p := range parts {
		docURL := ""
		if i < len(urls) {
			docURL = urls[i]
		}
		for _, r := range p.Risks {
			if r.Severity != SeverityHigh && r.Severity != SeverityMedium {
				continue
			}
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			f := Finding{RiskID: r.ID, Title: r.Title, Severity: r.Severity, DocumentURL: docURL}
			if r.Severity == SeverityHigh {
				high = append(high, f)
			} else {
				medium = append(medium, f)
			}
		}
	}
	return append(append([]Finding{}, high...), medium...)
}
