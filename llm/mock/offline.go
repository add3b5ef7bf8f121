package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"souschef/llm"
)

// Offline answers every pipeline of the application without a provider: it
// recognises the request by the JSON keys its system prompt asks for and
// rotates through a small menu for meal requests. The assistant loop gets
// one get_meal_plan call followed by a summary of the tool results.
type Offline struct {
	mu   sync.Mutex
	next int
}

func NewOffline() *Offline {
	return &Offline{}
}

var offlineMenu = []map[string]any{
	{
		"name":         "Chickpea and Spinach Curry",
		"description":  "A mild coconut curry with chickpeas and wilted spinach, served over rice.",
		"dietary_tags": []string{"Vegetarian", "Vegan", "Gluten-Free"},
		"dishes": []map[string]any{
			{"name": "Chickpea Curry", "ingredients": []map[string]any{
				{"name": "chickpeas", "quantity": 400, "unit": "g"},
				{"name": "spinach", "quantity": 150, "unit": "g"},
				{"name": "coconut milk", "quantity": 400, "unit": "ml"},
			}},
			{"name": "Steamed Rice", "ingredients": []map[string]any{
				{"name": "rice", "quantity": 200, "unit": "g"},
			}},
		},
	},
	{
		"name":         "Lemon Herb Salmon with Greens",
		"description":  "Oven-baked salmon with lemon and dill alongside sautéed green beans.",
		"dietary_tags": []string{"Pescatarian", "Gluten-Free"},
		"dishes": []map[string]any{
			{"name": "Baked Salmon", "ingredients": []map[string]any{
				{"name": "salmon fillet", "quantity": 300, "unit": "g"},
				{"name": "lemon", "quantity": 1, "unit": "piece"},
			}},
			{"name": "Garlic Green Beans", "ingredients": []map[string]any{
				{"name": "green beans", "quantity": 250, "unit": "g"},
				{"name": "garlic", "quantity": 2, "unit": "clove"},
			}},
		},
	},
	{
		"name":         "Overnight Oats with Berries",
		"description":  "Rolled oats soaked overnight with oat milk, topped with berries and seeds.",
		"dietary_tags": []string{"Vegetarian", "Vegan"},
		"dishes": []map[string]any{
			{"name": "Overnight Oats", "ingredients": []map[string]any{
				{"name": "rolled oats", "quantity": 80, "unit": "g"},
				{"name": "oat milk", "quantity": 200, "unit": "ml"},
				{"name": "mixed berries", "quantity": 100, "unit": "g"},
			}},
		},
	},
	{
		"name":         "Turkey Lettuce Wraps",
		"description":  "Ground turkey stir-fried with ginger and scallions, served in lettuce cups.",
		"dietary_tags": []string{"Gluten-Free", "High-Protein"},
		"dishes": []map[string]any{
			{"name": "Ginger Turkey", "ingredients": []map[string]any{
				{"name": "ground turkey", "quantity": 400, "unit": "g"},
				{"name": "ginger", "quantity": 15, "unit": "g"},
				{"name": "scallions", "quantity": 3, "unit": "piece"},
			}},
			{"name": "Lettuce Cups", "ingredients": []map[string]any{
				{"name": "butter lettuce", "quantity": 1, "unit": "head"},
			}},
		},
	},
}

func (o *Offline) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	system := systemText(req)

	switch {
	case req.JSON && strings.Contains(system, `"compatible"`):
		return jsonReply(map[string]any{"compatible": true, "reasons": []string{}})

	case req.JSON && strings.Contains(system, `"usages"`):
		return jsonReply(map[string]any{"usages": []any{}})

	case req.JSON && strings.Contains(system, `"dishes"`):
		o.mu.Lock()
		meal := offlineMenu[o.next%len(offlineMenu)]
		o.next++
		o.mu.Unlock()
		slog.Info("LLM_CLIENT: offline meal", "name", meal["name"])
		return jsonReply(meal)
	}

	results := toolResults(req)
	if len(results) == 0 && hasTool(req, "get_meal_plan") {
		return llm.Response{
			ToolCalls:  []llm.ToolCall{{ID: "offline_1", Name: "get_meal_plan", Input: map[string]any{}}},
			StopReason: "tool_calls",
		}, nil
	}

	var b strings.Builder
	b.WriteString("Here is what I found:")
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s: %s", r.ToolName, r.Content)
	}
	if len(results) == 0 {
		b.WriteString(" nothing yet. Ask me to plan your week!")
	}
	return llm.Response{Content: b.String(), StopReason: "stop"}, nil
}

func systemText(req llm.Request) string {
	var parts []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func toolResults(req llm.Request) []llm.Message {
	var out []llm.Message
	for _, m := range req.Messages {
		if m.Role == llm.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func hasTool(req llm.Request, name string) bool {
	for _, t := range req.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func jsonReply(v any) (llm.Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Content: string(b), StopReason: "stop"}, nil
}
