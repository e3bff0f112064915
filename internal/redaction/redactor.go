// Package redaction scrubs PII and credential-shaped substrings out of
// prompt previews before they reach the audit log.
package redaction

import "regexp"

// Pattern represents a redaction pattern.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// PatternRedactor implements regex-based redaction over prompt preview
// text. It carries no enable/disable switch: Aegis always redacts
// previews before they touch the events/flagged_events tables, so there
// is no caller-visible state to toggle.
type PatternRedactor struct {
	patterns []Pattern
}

// DefaultPatterns returns the standard set of PII/credential redaction
// patterns applied to every prompt preview.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`),
			Replacement: "[REDACTED_EMAIL]",
		},
		{
			Name:        "ssn",
			Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[REDACTED_SSN]",
		},
		{
			Name:        "credit_card",
			Regex:       regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
			Replacement: "[REDACTED_CC]",
		},
		{
			Name:        "phone_us",
			Regex:       regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
			Replacement: "[REDACTED_PHONE]",
		},
		{
			Name:        "api_key_bearer",
			Regex:       regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_.-]{20,})`),
			Replacement: "$1[REDACTED_TOKEN]",
		},
		{
			Name:        "api_key_sk",
			Regex:       regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
			Replacement: "[REDACTED_API_KEY]",
		},
		{
			Name:        "api_key_generic",
			Regex:       regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|auth[_-]?token)[:\s=]["']?([a-zA-Z0-9_.-]{16,})["']?`),
			Replacement: "$1=[REDACTED_KEY]",
		},
		{
			Name:        "password_json",
			Regex:       regexp.MustCompile(`(?i)"(password|passwd|pwd)":\s*"([^"]{4,})"`),
			Replacement: `"$1": "[REDACTED_PASSWORD]"`,
		},
		{
			Name:        "password_field",
			Regex:       regexp.MustCompile(`(?i)(password|passwd|pwd)[\s]*[=:][\s]*["']?([^\s"',}]{4,})["']?`),
			Replacement: "$1=[REDACTED_PASSWORD]",
		},
		{
			Name:        "ip_address",
			Regex:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Replacement: "[REDACTED_IP]",
		},
		{
			Name:        "jwt_token",
			Regex:       regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
			Replacement: "[REDACTED_JWT]",
		},
		{
			Name:        "aws_access_key",
			Regex:       regexp.MustCompile(`(?i)(AKIA[0-9A-Z]{16})`),
			Replacement: "[REDACTED_AWS_KEY]",
		},
		{
			Name:        "base64_secret",
			Regex:       regexp.MustCompile(`(?i)(secret|private[_-]?key)[:\s=]["']?([A-Za-z0-9+/]{40,}={0,2})["']?`),
			Replacement: "$1=[REDACTED_SECRET]",
		},
	}
}

// NewPatternRedactor creates a PatternRedactor loaded with DefaultPatterns.
func NewPatternRedactor() *PatternRedactor {
	return &PatternRedactor{patterns: DefaultPatterns()}
}

// Redact applies every pattern to content in order, returning the
// scrubbed result.
func (r *PatternRedactor) Redact(content string) string {
	result := content
	for _, pattern := range r.patterns {
		result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
	}
	return result
}
