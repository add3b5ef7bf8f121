package guard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef"
	"souschef/llm"
	"souschef/tools"
)

type stubTool struct {
	name  string
	out   map[string]any
	err   error
	calls int
}

func (s *stubTool) Name() string                     { return s.name }
func (s *stubTool) Title() string                    { return s.name }
func (s *stubTool) Description() string              { return "stub " + s.name }
func (s *stubTool) InputSchema() *jsonschema.Schema  { return &jsonschema.Schema{Type: "object"} }
func (s *stubTool) OutputSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "object"} }
func (s *stubTool) Run(context.Context, map[string]any) (map[string]any, error) {
	s.calls++
	return s.out, s.err
}

type stubSet map[string]*stubTool

func (s stubSet) GetTools() []tools.Tool {
	var out []tools.Tool
	for _, name := range []string{"get_pantry_items", "navigate_to_page", "send_message_to_chef", "get_user_profile", "mystery_tool"} {
		if t, ok := s[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (s stubSet) GetTool(name string) (tools.Tool, error) {
	t, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return t, nil
}

func newStubSet() stubSet {
	return stubSet{
		"get_pantry_items":     {name: "get_pantry_items", out: map[string]any{"count": 1.0}},
		"navigate_to_page":     {name: "navigate_to_page", out: map[string]any{"status": "navigate"}},
		"send_message_to_chef": {name: "send_message_to_chef", out: map[string]any{"status": "sent"}},
		"get_user_profile": {name: "get_user_profile", out: map[string]any{"profile": map[string]any{
			"username":      "ana",
			"email":         "ana@example.com",
			"phone_number":  "+1 555 0100",
			"address":       "1 Main St",
			"date_of_birth": "1990-01-01",
			"health_notes":  "low sodium",
			"allergies":     []any{"peanuts"},
			"goals":         "call me on +44 20 7946 0958",
		}}},
		"mystery_tool": {name: "mystery_tool", out: map[string]any{"ok": true}},
	}
}

func names(ts []tools.Tool) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.Name())
	}
	return out
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryCore, CategoryOf("generate_meal_plan"))
	assert.Equal(t, CategoryNavigation, CategoryOf("navigate_to_page"))
	assert.Equal(t, CategoryMessaging, CategoryOf("send_message_to_chef"))
	assert.Equal(t, CategorySensitive, CategoryOf("update_dietary_preferences"))
	assert.Equal(t, CategorySensitive, CategoryOf("mystery_tool"))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		channel souschef.Channel
		tool    string
		want    Decision
	}{
		{souschef.ChannelWeb, "navigate_to_page", DecisionAllow},
		{souschef.ChannelWeb, "get_user_profile", DecisionAllow},
		{souschef.ChannelWeb, "mystery_tool", DecisionAllow},
		{souschef.ChannelTelegram, "get_pantry_items", DecisionAllow},
		{souschef.ChannelTelegram, "navigate_to_page", DecisionRedirect},
		{souschef.ChannelTelegram, "send_message_to_chef", DecisionAllow},
		{souschef.ChannelTelegram, "get_user_profile", DecisionRedact},
		{souschef.ChannelLine, "navigate_to_page", DecisionRedirect},
		{souschef.ChannelLine, "get_user_profile", DecisionRedact},
		{souschef.ChannelAPI, "send_message_to_chef", DecisionRedirect},
		{souschef.ChannelAPI, "navigate_to_page", DecisionRedirect},
		{souschef.ChannelAPI, "get_user_profile", DecisionRedact},
		{souschef.Channel("sms"), "get_pantry_items", DecisionAllow},
		{souschef.Channel("sms"), "get_user_profile", DecisionRedirect},
	}
	for _, tt := range tests {
		t.Run(string(tt.channel)+"/"+tt.tool, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.channel, tt.tool))
		})
	}
}

func TestFilterTools(t *testing.T) {
	all := newStubSet().GetTools()

	assert.Equal(t, []string{"get_pantry_items", "navigate_to_page", "send_message_to_chef", "get_user_profile", "mystery_tool"},
		names(FilterTools(souschef.ChannelWeb, all)))
	assert.Equal(t, []string{"get_pantry_items", "send_message_to_chef", "get_user_profile", "mystery_tool"},
		names(FilterTools(souschef.ChannelTelegram, all)))
	assert.Equal(t, []string{"get_pantry_items", "get_user_profile", "mystery_tool"},
		names(FilterTools(souschef.ChannelAPI, all)))
	assert.Equal(t, []string{"get_pantry_items"}, names(FilterTools(souschef.Channel("sms"), all)))
}

func TestGuard_Specs(t *testing.T) {
	g := New(newStubSet(), "https://app.example.com")
	specs := g.Specs(souschef.ChannelLine)
	require.Len(t, specs, 4)
	assert.Equal(t, "get_pantry_items", specs[0].Name)
	assert.Equal(t, "stub get_pantry_items", specs[0].Description)
	assert.NotNil(t, specs[0].InputSchema)
}

func TestGuard_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("redirect", func(t *testing.T) {
		set := newStubSet()
		g := New(set, "https://app.example.com/")
		got := g.Execute(ctx, souschef.ChannelTelegram, llm.ToolCall{ID: "1", Name: "navigate_to_page"})
		assert.Equal(t, DecisionRedirect, got.Decision)
		assert.NoError(t, got.Err)
		assert.Equal(t, "redirect", got.Output["status"])
		assert.Contains(t, got.Output["message"], "https://app.example.com.")
		assert.Zero(t, set["navigate_to_page"].calls, "redirected tools never run")
	})

	t.Run("pass through on web", func(t *testing.T) {
		g := New(newStubSet(), "https://app.example.com")
		got := g.Execute(ctx, souschef.ChannelWeb, llm.ToolCall{Name: "get_user_profile"})
		assert.Equal(t, DecisionAllow, got.Decision)
		p := got.Output["profile"].(map[string]any)
		assert.Equal(t, "ana@example.com", p["email"])
		assert.NotContains(t, got.Output, "redacted")
	})

	t.Run("redacted on telegram", func(t *testing.T) {
		set := newStubSet()
		g := New(set, "https://app.example.com")
		got := g.Execute(ctx, souschef.ChannelTelegram, llm.ToolCall{Name: "get_user_profile"})
		assert.Equal(t, DecisionRedact, got.Decision)
		assert.Equal(t, true, got.Output["redacted"])
		p := got.Output["profile"].(map[string]any)
		for _, k := range []string{"email", "phone_number", "address", "date_of_birth", "health_notes"} {
			assert.NotContains(t, p, k)
		}
		assert.Equal(t, "ana", p["username"])
		assert.Equal(t, []any{"peanuts"}, p["allergies"])
		assert.Equal(t, "call me on [REDACTED:phone]", p["goals"])

		original := set["get_user_profile"].out["profile"].(map[string]any)
		assert.Equal(t, "ana@example.com", original["email"], "tool output is not mutated")
	})

	t.Run("tool error", func(t *testing.T) {
		set := newStubSet()
		set["get_pantry_items"].err = errors.New("database is locked")
		g := New(set, "")
		got := g.Execute(ctx, souschef.ChannelAPI, llm.ToolCall{Name: "get_pantry_items"})
		assert.Error(t, got.Err)
		assert.Equal(t, map[string]any{"error": "database is locked"}, got.Output)
	})

	t.Run("unknown tool", func(t *testing.T) {
		g := New(newStubSet(), "")
		got := g.Execute(ctx, souschef.ChannelWeb, llm.ToolCall{Name: "drop_tables"})
		assert.Error(t, got.Err)
		assert.Contains(t, got.Output["error"], "not found")
	})
}

func TestRedactString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"write to ana@example.com today", "write to [REDACTED:email] today"},
		{"Authorization: Bearer abcdef123456", "Authorization: [REDACTED:token]"},
		{"ring +1 (555) 010-0199", "ring [REDACTED:phone]"},
		{"200 g of rice", "200 g of rice"},
		{"on 2025-03-12", "on 2025-03-12"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactString(tt.in), tt.in)
	}
}

func TestRedact_Nested(t *testing.T) {
	in := map[string]any{
		"users": []any{
			map[string]any{"Email": "a@b.co", "name": "a", "Access_Token": "x"},
			"plain",
		},
		"count": 2.0,
	}
	out := Redact(in).(map[string]any)
	users := out["users"].([]any)
	assert.Equal(t, map[string]any{"name": "a"}, users[0])
	assert.Equal(t, "plain", users[1])
	assert.Equal(t, 2.0, out["count"])
}
