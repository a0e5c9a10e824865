package logging

import (
	"regexp"
)

const (
	// MaxURLLogLength is the maximum length of a repository URL to log.
	MaxURLLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match embedded credentials in remote URLs (user:pass@host or
	// user:token@host, the form git remotes use for token auth)
	remoteCredsPattern = regexp.MustCompile(`://[^:/@\s]+:[^@\s]+@[^/\s]+`)

	// Pattern to match bearer tokens in error strings from upstream APIs
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_.]+`)

	// Pattern to match potential API keys / access tokens in query strings
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?token|token)=[A-Za-z0-9-_]{16,}`)
)

// SanitizeRepoURL removes embedded credentials from a repository URL.
// Use this before logging any user-supplied source URL.
func SanitizeRepoURL(url string) string {
	if url == "" {
		return ""
	}

	sanitized := remoteCredsPattern.ReplaceAllString(url, "://"+RedactedText+"@"+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	if len(sanitized) > MaxURLLogLength {
		sanitized = sanitized[:MaxURLLogLength] + "..."
	}
	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data
// (source URLs with credentials, upstream API tokens) before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := remoteCredsPattern.ReplaceAllString(err.Error(), "://"+RedactedText+"@"+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return sanitized
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
