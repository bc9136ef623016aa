// Package sanitize implements prompt sanitization and injection-signature
// detection for the gate. Both operations are pure: they share only the
// pattern tables compiled at construction time, which are read-only
// afterwards. Rebuilding patterns happens exclusively through constructing a
// fresh Sanitizer or Detector during an explicit configuration reload.
package sanitize

import (
	"regexp"
	"strings"
)

// The sanitize stages run in a fixed order; later stages operate on the
// output of earlier ones, so the order is part of the contract.
var (
	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	whitespace   = regexp.MustCompile(`\s+`)
	markupTags   = regexp.MustCompile(`<[^>]+>`)
	scriptBlocks = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	sqlClauses   = regexp.MustCompile(`(?is)(union|select|insert|update|delete|drop|create|alter|exec|execute).*`)
)

// Sanitize strips unsafe content from raw prompt text. Empty input passes
// through unchanged. The stages, in order: control characters, whitespace
// normalisation, markup tags, script blocks, and truncation from the first
// SQL-keyword-led clause.
func Sanitize(prompt string) string {
	if prompt == "" {
		return prompt
	}

	s := controlChars.ReplaceAllString(prompt, "")
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	s = markupTags.ReplaceAllString(s, "")
	s = scriptBlocks.ReplaceAllString(s, "")
	s = sqlClauses.ReplaceAllString(s, "")

	return s
}
