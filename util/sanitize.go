package util

import (
	"net/url"
	"regexp"
)

// maxSanitizeLength caps input size before the redaction patterns run.
const maxSanitizeLength = 64 * 1024

// Secrets that leak into error strings: credentials inside DSNs, secret
// key/value pairs, Authorization headers, JWTs, and AWS access key IDs.
var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`://[^/\s:@]*:[^/\s@]+@`), "://REDACTED@"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key)["']?\s*[:=]\s*["']?[^\s"',;&]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.=]+`), "Bearer REDACTED"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`), "REDACTED_JWT"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "REDACTED_AWS_KEY"},
}

// SanitizeString redacts credential material from s so it is safe to log.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > maxSanitizeLength {
		s = s[:maxSanitizeLength] + "... [truncated]"
	}
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeError renders err for logging with credentials redacted.
// Transport errors embed the full request URL, which for webhook
// endpoints often carries an auth token in the path.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// RedactURL reduces a URL to scheme and host for logging. Webhook
// providers put per-destination tokens in the path, so everything past
// the host is dropped rather than pattern-matched.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[invalid-url]"
	}
	redacted := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		redacted += "/..."
	}
	return redacted
}
