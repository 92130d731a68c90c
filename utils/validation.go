package utils

import (
	"net/url"
	"regexp"
	"strings"

	"media-downloader-go/config"
)

// Hosts that must never be handed to the extractor (pattern-only; the
// pipeline itself never dials these URLs)
var blockedHostPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^localhost$`),
	regexp.MustCompile(`^127\.`),
	regexp.MustCompile(`^192\.168\.`),
	regexp.MustCompile(`^10\.`),
	regexp.MustCompile(`^172\.(1[6-9]|2[0-9]|3[01])\.`),
	regexp.MustCompile(`^0\.0\.0\.0$`),
}

// IsAllowedURL reports whether a user-supplied URL may be passed to the
// extractor. Callers surface a single generic "Invalid URL" on rejection;
// the reason is deliberately not exposed.
func IsAllowedURL(raw string) bool {
	if raw == "" || len(raw) > config.MaxURLLength {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || host == "::1" {
		return false
	}

	for _, pattern := range blockedHostPatterns {
		if pattern.MatchString(host) {
			return false
		}
	}

	return true
}
