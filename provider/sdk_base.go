package provider

import "strings"

// apiBaseURL picks the SDK base URL for a configured endpoint. Users often
// paste the full endpoint URL from their proxy's docs, so any known endpoint
// path is stripped; the SDK appends it again per request. An empty or
// all-slash value falls back to the provider default.
func apiBaseURL(configured, fallback string, endpointPaths ...string) string {
	base := strings.TrimRight(strings.TrimSpace(configured), "/")
	if base == "" {
		return fallback
	}

	for _, p := range endpointPaths {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if trimmed, ok := strings.CutSuffix(base, p); ok {
			base = strings.TrimRight(trimmed, "/")
			break
		}
	}

	if base == "" {
		return fallback
	}
	return base
}
