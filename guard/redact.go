package guard

import (
	"regexp"
	"strings"
)

// Fields removed from sensitive tool output, matched case-insensitively.
var sensitiveFields = map[string]bool{
	"email":         true,
	"phone":         true,
	"phone_number":  true,
	"address":       true,
	"date_of_birth": true,
	"birth_date":    true,
	"health_notes":  true,
	"password":      true,
	"token":         true,
	"access_token":  true,
	"api_key":       true,
	"secret":        true,
}

type redactionPattern struct {
	pattern     *regexp.Regexp
	replacement string
	// minDigits skips matches with fewer digits, so dates survive.
	minDigits int
}

// Ordered; tokens before the looser phone pattern.
var redactionPatterns = []redactionPattern{
	{pattern: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), replacement: "[REDACTED:email]"},
	{pattern: regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`), replacement: "[REDACTED:token]"},
	{pattern: regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`), replacement: "[REDACTED:phone]", minDigits: 9},
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// RedactString masks e-mail addresses, bearer tokens and phone numbers.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		if p.minDigits == 0 {
			s = p.pattern.ReplaceAllString(s, p.replacement)
			continue
		}
		s = p.pattern.ReplaceAllStringFunc(s, func(m string) string {
			if countDigits(m) < p.minDigits {
				return m
			}
			return p.replacement
		})
	}
	return s
}

// Redact returns a copy of v without sensitive fields; remaining strings are
// scrubbed with RedactString. The input is not modified.
func Redact(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if sensitiveFields[strings.ToLower(k)] {
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Redact(val)
		}
		return out
	case string:
		return RedactString(x)
	default:
		return v
	}
}

// RedactMap is Redact for tool outputs.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := Redact(m).(map[string]any)
	out["redacted"] = true
	return out
}
