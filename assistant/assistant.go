// Package assistant runs the Sous Chef conversation: a bounded loop of model
// turns and tool calls, filtered per channel by the guard.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"souschef"
	"souschef/guard"
	"souschef/llm"
	"souschef/store"
	"souschef/tools"
)

var ErrEmptyMessage = errors.New("empty message")

const (
	defaultMaxIterations = 8
	defaultHistoryLimit  = 20
	maxCallsPerTool      = 3
)

type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	RecentChatMessages(ctx context.Context, userID string, limit int) ([]store.ChatMessage, error)
	AppendChatMessage(ctx context.Context, msg *store.ChatMessage) error
}

// Executor runs tool calls under a channel policy.
type Executor interface {
	Specs(ch souschef.Channel) []llm.ToolSpec
	Execute(ctx context.Context, ch souschef.Channel, call llm.ToolCall) guard.Outcome
}

type Options struct {
	MaxIterations int
	HistoryLimit  int
	Temperature   float64
	Logger        souschef.AttemptLogger
	Tracer        trace.Tracer
	Meter         metric.Meter
	Now           func() time.Time
}

type Assistant struct {
	client llm.Client
	store  Store
	exec   Executor
	opts   Options

	turns      metric.Int64Counter
	toolCalls  metric.Int64Counter
	fallbacks  metric.Int64Counter
	iterations metric.Int64Histogram
}

func New(client llm.Client, s Store, exec Executor, opts Options) *Assistant {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = souschef.NewNoOpAttemptLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(souschef.TracerNameAssistant)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(souschef.TracerNameAssistant)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Assistant{client: client, store: s, exec: exec, opts: opts}
	a.turns, _ = opts.Meter.Int64Counter("assistant_turns_total",
		metric.WithDescription("Total number of chat messages answered"))
	a.toolCalls, _ = opts.Meter.Int64Counter("assistant_tool_calls_total",
		metric.WithDescription("Total number of tool calls by tool and decision"))
	a.fallbacks, _ = opts.Meter.Int64Counter("assistant_fallbacks_total",
		metric.WithDescription("Total number of turns that ran out of iterations"))
	a.iterations, _ = opts.Meter.Int64Histogram("assistant_iterations",
		metric.WithDescription("Model round trips per chat message"))
	return a
}

type ChatRequest struct {
	UserID  string           `json:"user_id"`
	Channel souschef.Channel `json:"channel"`
	Message string           `json:"message"`
}

type Reply struct {
	Message    string   `json:"message"`
	Iterations int      `json:"iterations"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
	// Fallback is set when the loop ran out before the model answered.
	Fallback bool `json:"fallback,omitempty"`
}

// Respond answers one user message. The message and the reply are appended
// to the user's thread.
func (a *Assistant) Respond(ctx context.Context, req ChatRequest) (Reply, error) {
	ctx, span := a.opts.Tracer.Start(ctx, "Assistant.Respond")
	defer span.End()

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("channel", string(req.Channel)),
	)

	user, err := a.store.GetUser(ctx, req.UserID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, fmt.Errorf("load user: %w", err)
	}
	history, err := a.store.RecentChatMessages(ctx, user.ID, a.opts.HistoryLimit)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}
	if err := a.store.AppendChatMessage(ctx, &store.ChatMessage{
		UserID: user.ID, Channel: string(req.Channel), Role: string(llm.RoleUser), Content: text,
	}); err != nil {
		return Reply{}, err
	}

	slog.Info("ASSISTANT: Starting turn", "user_id", user.ID, "channel", req.Channel, "history", len(history))

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.System(buildSystemPrompt(user, req.Channel, a.opts.Now())))
	for _, m := range history {
		switch llm.Role(m.Role) {
		case llm.RoleUser:
			messages = append(messages, llm.User(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, llm.Assistant(m.Content))
		}
	}
	messages = append(messages, llm.User(text))

	reply, err := a.loop(tools.WithUserID(ctx, user.ID), user.ID, req.Channel, messages)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, err
	}
	a.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(req.Channel))))
	a.iterations.Record(ctx, int64(reply.Iterations))
	if reply.Fallback {
		a.fallbacks.Add(ctx, 1)
	}

	if err := a.store.AppendChatMessage(ctx, &store.ChatMessage{
		UserID: user.ID, Channel: string(req.Channel), Role: string(llm.RoleAssistant), Content: reply.Message,
	}); err != nil {
		return Reply{}, err
	}
	slog.Info("ASSISTANT: Turn complete", "user_id", user.ID, "iterations", reply.Iterations, "tools", reply.ToolsUsed, "fallback", reply.Fallback)
	return reply, nil
}

func (a *Assistant) loop(ctx context.Context, userID string, ch souschef.Channel, messages []llm.Message) (Reply, error) {
	specs := a.exec.Specs(ch)
	calls := make(map[string]int)
	var used []string

	for iter := 1; iter <= a.opts.MaxIterations; iter++ {
		iterLog := souschef.AttemptLog{Component: "assistant", Attempt: iter, Timestamp: time.Now(), UserID: userID}
		if b, err := json.Marshal(messages[len(messages)-1]); err == nil {
			iterLog.LLMInput = string(b)
		}

		res, err := a.client.Generate(ctx, llm.Request{Messages: messages, Tools: specs, Temperature: a.opts.Temperature})
		if err != nil {
			iterLog.Error = err.Error()
			a.logIteration(iterLog)
			return Reply{}, fmt.Errorf("generate: %w", err)
		}
		iterLog.LLMOutput = res

		slog.Info("ASSISTANT: LLM response received",
			"iteration", iter,
			"content_length", len(res.Content),
			"tool_calls", len(res.ToolCalls),
		)

		if len(res.ToolCalls) == 0 {
			content := strings.TrimSpace(res.Content)
			if content == "" {
				iterLog.Outcome = "empty_reply"
				a.logIteration(iterLog)
				messages = append(messages, llm.User("Please answer the user."))
				continue
			}
			iterLog.Outcome = "answered"
			a.logIteration(iterLog)
			return Reply{Message: content, Iterations: iter, ToolsUsed: used}, nil
		}

		// Repeated calls are answered with a nudge instead of being executed.
		var repeated string
		for _, call := range res.ToolCalls {
			calls[call.Name]++
			if calls[call.Name] > maxCallsPerTool {
				repeated = call.Name
			}
		}
		if repeated != "" {
			slog.Warn("ASSISTANT: Excessive tool repetition detected", "tool", repeated, "count", calls[repeated], "iteration", iter)
			messages = append(messages, llm.User(fmt.Sprintf(repetitionHint, repeated, calls[repeated]-1)))
			iterLog.Outcome = "excessive_tool_repetition"
			a.logIteration(iterLog)
			continue
		}

		messages = append(messages, llm.AssistantCalls(res.Content, res.ToolCalls))
		for _, call := range res.ToolCalls {
			slog.Info("ASSISTANT: Handling tool call", "name", call.Name, "channel", ch, "iteration", iter)
			out := a.exec.Execute(ctx, ch, call)
			a.toolCalls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", call.Name),
				attribute.String("decision", string(out.Decision)),
			))
			tlog := souschef.ToolCallLog{
				Name: call.Name, Channel: string(ch), Decision: string(out.Decision),
				Input: call.Input, Output: out.Output,
			}
			if out.Err != nil {
				tlog.Error = out.Err.Error()
			}
			iterLog.ToolCalls = append(iterLog.ToolCalls, tlog)
			used = append(used, call.Name)
			messages = append(messages, llm.ToolResult(call, out.Output))
		}
		iterLog.Outcome = "tool_calls"
		a.logIteration(iterLog)
	}

	slog.Warn("ASSISTANT: Max iterations reached", "user_id", userID, "max_iterations", a.opts.MaxIterations)
	return Reply{Message: fallbackReply, Iterations: a.opts.MaxIterations, ToolsUsed: used, Fallback: true}, nil
}

func (a *Assistant) logIteration(l souschef.AttemptLog) {
	if err := a.opts.Logger.LogAttempt(l); err != nil {
		slog.Warn("ASSISTANT: Failed to log iteration", "error", err)
	}
}
