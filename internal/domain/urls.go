package domain

import "strings"

// transientSchemes are in-browser references that do not survive the session.
// They must never be written into a permanent job record.
var transientSchemes = []string{"blob:", "data:", "filesystem:", "javascript:"}

// IsDurableURL reports whether ref is expected to stay resolvable beyond the
// session that produced it.
func IsDurableURL(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	lower := strings.ToLower(ref)
	for _, scheme := range transientSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// FilterDurableURLs drops transient references, preserving input order.
// It returns nil when nothing durable remains so callers can persist the
// field as absent rather than as a dangling reference.
func FilterDurableURLs(refs []string) []string {
	var out []string
	for _, ref := range refs {
		if IsDurableURL(ref) {
			out = append(out, strings.TrimSpace(ref))
		}
	}
	return out
}
