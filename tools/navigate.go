package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"souschef/store"
)

// Dashboard pages the assistant can send the user to.
var pages = map[string]string{
	"dashboard":     "/",
	"meal_plans":    "/meal-plans",
	"pantry":        "/pantry",
	"shopping_list": "/shopping-list",
	"profile":       "/profile",
	"chefs":         "/chefs",
}

// PageURL joins a dashboard base URL and a page path.
func PageURL(base, page string) (string, bool) {
	path, ok := pages[page]
	if !ok {
		return "", false
	}
	return strings.TrimRight(base, "/") + path, true
}

type NavigateToPage struct{ deps Deps }

func NewNavigateToPage(deps Deps) *NavigateToPage { return &NavigateToPage{deps: deps} }

func (t *NavigateToPage) Name() string  { return "navigate_to_page" }
func (t *NavigateToPage) Title() string { return "Navigate To Page" }
func (t *NavigateToPage) Description() string {
	return "Opens a page of the web dashboard for the user."
}

func (t *NavigateToPage) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"page": {Type: "string", Enum: []any{"dashboard", "meal_plans", "pantry", "shopping_list", "profile", "chefs"}},
		},
		Required: []string{"page"},
	}
}

func (t *NavigateToPage) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status": str(),
			"page":   str(),
			"url":    str(),
		},
		Required: []string{"status", "url"},
	}
}

func (t *NavigateToPage) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	page, err := requiredString(input, "page")
	if err != nil {
		return nil, err
	}
	url, ok := PageURL(t.deps.DashboardURL, page)
	if !ok {
		return nil, fmt.Errorf("%w: unknown page %q", ErrInvalidInput, page)
	}
	return map[string]any{"status": "navigate", "page": page, "url": url}, nil
}

type SendMessageToChef struct{ deps Deps }

func NewSendMessageToChef(deps Deps) *SendMessageToChef { return &SendMessageToChef{deps: deps} }

func (t *SendMessageToChef) Name() string  { return "send_message_to_chef" }
func (t *SendMessageToChef) Title() string { return "Send Message To Chef" }
func (t *SendMessageToChef) Description() string {
	return "Sends a message from the user to a chef by username."
}

func (t *SendMessageToChef) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"chef_username": str(),
			"message":       str(),
		},
		Required: []string{"chef_username", "message"},
	}
}

func (t *SendMessageToChef) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status":   str(),
			"chef":     str(),
			"notified": {Type: "boolean"},
		},
		Required: []string{"status"},
	}
}

func (t *SendMessageToChef) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	user, err := currentUser(ctx, t.deps.Store)
	if err != nil {
		return nil, err
	}
	chef, err := requiredString(input, "chef_username")
	if err != nil {
		return nil, err
	}
	body, err := requiredString(input, "message")
	if err != nil {
		return nil, err
	}
	if _, err := t.deps.Store.GetUserByUsername(ctx, chef); err != nil {
		return nil, fmt.Errorf("chef %q: %w", chef, err)
	}
	if err := t.deps.Store.SendChefMessage(ctx, &store.ChefMessage{FromUserID: user.ID, ChefUsername: chef, Body: body}); err != nil {
		return nil, err
	}
	out := map[string]any{"status": "sent", "chef": chef}
	if t.deps.Notifier != nil {
		err := t.deps.Notifier.NotifyChef(ctx, chef, user.Username, body)
		if err != nil {
			slog.Warn("TOOLS: Chef notification failed", "chef", chef, "error", err)
		}
		out["notified"] = err == nil
	}
	return out, nil
}
