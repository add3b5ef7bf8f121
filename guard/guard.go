package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"souschef"
	"souschef/llm"
	"souschef/tools"
)

// Toolset is the set of tools a Guard fronts.
type Toolset interface {
	GetTools() []tools.Tool
	GetTool(name string) (tools.Tool, error)
}

type Guard struct {
	tools        Toolset
	dashboardURL string
}

func New(ts Toolset, dashboardURL string) *Guard {
	return &Guard{tools: ts, dashboardURL: dashboardURL}
}

// FilterTools keeps the tools a channel may advertise to the model.
func FilterTools(ch souschef.Channel, all []tools.Tool) []tools.Tool {
	p := PolicyFor(ch)
	out := make([]tools.Tool, 0, len(all))
	for _, t := range all {
		if p.Allowed[CategoryOf(t.Name())] {
			out = append(out, t)
		}
	}
	return out
}

// Tools returns the tools advertised on ch.
func (g *Guard) Tools(ch souschef.Channel) []tools.Tool {
	return FilterTools(ch, g.tools.GetTools())
}

// Specs renders the channel's tools for a model request.
func (g *Guard) Specs(ch souschef.Channel) []llm.ToolSpec {
	ts := g.Tools(ch)
	specs := make([]llm.ToolSpec, 0, len(ts))
	for _, t := range ts {
		specs = append(specs, llm.ToolSpec{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return specs
}

// Outcome is what came of a guarded tool call. Err is set when the tool
// itself failed; Output then carries the error payload for the model.
type Outcome struct {
	Decision Decision
	Output   map[string]any
	Err      error
}

// Execute runs call on behalf of ch. Disallowed tools are answered with a
// redirect payload instead of an error.
func (g *Guard) Execute(ctx context.Context, ch souschef.Channel, call llm.ToolCall) Outcome {
	decision := Decide(ch, call.Name)
	if decision == DecisionRedirect {
		slog.Info("GUARD: Redirecting tool call", "tool", call.Name, "channel", ch, "category", CategoryOf(call.Name))
		return Outcome{Decision: decision, Output: g.redirect(ch, call.Name)}
	}

	tool, err := g.tools.GetTool(call.Name)
	if err != nil {
		return Outcome{Decision: decision, Output: errorPayload(err, decision), Err: err}
	}
	out, err := tool.Run(ctx, call.Input)
	if err != nil {
		slog.Warn("GUARD: Tool failed", "tool", call.Name, "channel", ch, "error", err)
		return Outcome{Decision: decision, Output: errorPayload(err, decision), Err: err}
	}
	if decision == DecisionRedact {
		out = RedactMap(out)
	}
	return Outcome{Decision: decision, Output: out}
}

func errorPayload(err error, d Decision) map[string]any {
	msg := err.Error()
	if d == DecisionRedact {
		msg = RedactString(msg)
	}
	return map[string]any{"error": msg}
}

func (g *Guard) redirect(ch souschef.Channel, tool string) map[string]any {
	url := strings.TrimRight(g.dashboardURL, "/")
	var what string
	switch CategoryOf(tool) {
	case CategoryNavigation:
		what = "Page navigation"
	case CategoryMessaging:
		what = "Messaging chefs"
	case CategorySensitive:
		what = "Viewing or changing personal details"
	default:
		what = "This action"
	}
	return map[string]any{
		"status":  "redirect",
		"tool":    tool,
		"channel": string(ch),
		"message": fmt.Sprintf("%s is not available here. Please use the web dashboard at %s.", what, url),
	}
}
