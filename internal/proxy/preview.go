package proxy

import (
	"crypto/sha256"
	"encoding/hex"

	"aegis/internal/redaction"
)

const previewMaxChars = 200

// previewRedactor scrubs PII from prompt previews before they reach the
// events/flagged_events tables, per spec.md §6's bounded-preview
// guarantee. A single package-level instance is fine: the pattern set is
// read-only after construction and Redact only reads it, taking no lock.
var previewRedactor = redaction.NewPatternRedactor()

// hashPrompt fingerprints prompt text for the events table's prompt_hash
// column, so logs can be de-duplicated/correlated without retaining the
// raw prompt.
func hashPrompt(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// redactPreview returns a redacted, length-bounded preview of prompt text
// suitable for the audit log's prompt_preview column.
func redactPreview(text string) string {
	redacted := previewRedactor.Redact(text)
	runes := []rune(redacted)
	if len(runes) <= previewMaxChars {
		return redacted
	}
	return string(runes[:previewMaxChars]) + "..."
}
