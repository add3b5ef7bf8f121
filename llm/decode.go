package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals the JSON object in a model reply into v. The reply
// may wrap the object in a code fence or surround it with prose; when several
// objects are present the last complete one wins.
func DecodeJSON(text string, v any) error {
	s := stripFence(strings.TrimSpace(text))
	if s == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	obj, ok := lastObject(s)
	if !ok {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// lastObject returns the last balanced top-level {...} in s, skipping braces
// inside string literals.
func lastObject(s string) (string, bool) {
	var (
		depth    int
		start    = -1
		inString bool
		escaped  bool
		found    string
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				found = s[start : i+1]
				start = -1
			}
		}
	}
	return found, found != ""
}
