package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	secretPattern = regexp.MustCompile(`(?i)\b(password|passwd|pwd|pin|otp|token|api[_ -]?key)\b(\s*(?:is|=|:)\s*)\S+`)
)

// Redact masks contact details and credentials in chat-derived text.
func Redact(input string) (redacted string, changed bool) {
	out := input

	next := secretPattern.ReplaceAllString(out, "$1$2[REDACTED_SECRET]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// cards first, or the phone pattern swallows them
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// SanitizeFact prepares a model-proposed fact for storage. Facts mentioning
// credentials are dropped outright; otherwise it reports false when nothing
// worth keeping survives redaction.
func SanitizeFact(fact string) (string, bool) {
	fact = strings.TrimSpace(fact)
	if secretPattern.MatchString(fact) {
		return "", false
	}
	out, _ := Redact(fact)
	rest := out
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_CARD]", "[REDACTED_PHONE]"} {
		rest = strings.ReplaceAll(rest, marker, "")
	}
	if len(strings.Fields(rest)) < 2 {
		return "", false
	}
	return out, true
}
