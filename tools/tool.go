// Package tools holds the functions the Sous Chef assistant can call.
// Every tool acts on behalf of the user carried in the context.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

type Tool interface {
	Name() string
	Title() string
	Description() string
	InputSchema() *jsonschema.Schema
	OutputSchema() *jsonschema.Schema
	Run(ctx context.Context, input map[string]any) (output map[string]any, err error)
}

var (
	ErrNoUser       = errors.New("no user in context")
	ErrInvalidInput = errors.New("invalid tool input")
)

type userKey struct{}

// WithUserID returns a context on whose behalf tools run.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserIDFrom(ctx context.Context) (string, error) {
	id, _ := ctx.Value(userKey{}).(string)
	if id == "" {
		return "", ErrNoUser
	}
	return id, nil
}

// toMap marshals v and back so every tool returns plain JSON values.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	return m, nil
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

func requiredString(input map[string]any, key string) (string, error) {
	s := stringArg(input, key)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, key)
	}
	return s, nil
}

func numberArg(input map[string]any, key string) (float64, bool) {
	switch v := input[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// stringsArg reads a list of strings. ok is false when the key is absent.
func stringsArg(input map[string]any, key string) (out []string, ok bool) {
	raw, present := input[key]
	if !present || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []any:
		out = make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		out = v
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, true
}

// dateArg parses a YYYY-MM-DD value, falling back to now when absent.
func dateArg(input map[string]any, key string, now time.Time) (time.Time, error) {
	s := stringArg(input, key)
	if s == "" {
		return now, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidInput, key)
	}
	return t, nil
}

func str() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }

func describedString(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func stringArray(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: desc, Items: str()}
}
