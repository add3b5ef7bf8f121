package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef"
	"souschef/guard"
	"souschef/llm"
	"souschef/llm/mock"
	"souschef/store"
	"souschef/tools"
)

var now = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.Store
	user   *store.User
	logger *souschef.FileAttemptLogger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	user := &store.User{Username: "ana", Email: "ana@example.com", Allergies: []string{"peanuts"}}
	require.NoError(t, s.CreateUser(ctx, user))
	require.NoError(t, s.AddPantryItem(ctx, &store.PantryItem{UserID: user.ID, Name: "rice", Quantity: 2, Unit: "kg", ItemType: store.ItemTypeDry}))
	return fixture{store: s, user: user, logger: souschef.NewFileAttemptLogger(nil)}
}

func (f fixture) assistant(client llm.Client, maxIter int) *Assistant {
	reg := tools.NewRegistry(tools.Deps{Store: f.store, DashboardURL: "https://app.example.com", Now: func() time.Time { return now }})
	return New(client, f.store, guard.New(reg, "https://app.example.com"), Options{
		MaxIterations: maxIter,
		Logger:        f.logger,
		Now:           func() time.Time { return now },
	})
}

func call(id, name string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Input: map[string]any{}}
}

func toolNames(specs []llm.ToolSpec) []string {
	var out []string
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func TestAssistant_Respond(t *testing.T) {
	f := newFixture(t)
	client := mock.NewClient(
		mock.Calls(call("c1", "get_pantry_items")),
		mock.Reply("You have 2 kg of rice."),
	)
	a := f.assistant(client, 0)

	reply, err := a.Respond(context.Background(), ChatRequest{UserID: f.user.ID, Channel: souschef.ChannelWeb, Message: " What's in my pantry? "})
	require.NoError(t, err)
	assert.Equal(t, "You have 2 kg of rice.", reply.Message)
	assert.Equal(t, 2, reply.Iterations)
	assert.Equal(t, []string{"get_pantry_items"}, reply.ToolsUsed)
	assert.False(t, reply.Fallback)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, toolNames(reqs[0].Tools), "navigate_to_page")
	assert.Contains(t, reqs[0].Messages[0].Content, "allergies: peanuts")
	assert.Contains(t, reqs[0].Messages[0].Content, "today: 2025-03-12 (Wednesday)")
	assert.Equal(t, "What's in my pantry?", reqs[0].Messages[1].Content)

	second := reqs[1].Messages
	toolMsg := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, `"rice"`)
	assert.Len(t, second[len(second)-2].ToolCalls, 1)

	thread, err := f.store.RecentChatMessages(context.Background(), f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "user", thread[0].Role)
	assert.Equal(t, "assistant", thread[1].Role)
	assert.Equal(t, "web", thread[1].Channel)

	logs := f.logger.Attempts()
	require.Len(t, logs, 2)
	assert.Equal(t, "tool_calls", logs[0].Outcome)
	assert.Equal(t, "allow", logs[0].ToolCalls[0].Decision)
	assert.Equal(t, "answered", logs[1].Outcome)
}

func TestAssistant_ChannelFiltering(t *testing.T) {
	f := newFixture(t)
	client := mock.NewClient(
		mock.Calls(call("c1", "navigate_to_page"), call("c2", "get_user_profile")),
		mock.Reply("Open the dashboard to see that page."),
	)
	a := f.assistant(client, 0)

	_, err := a.Respond(context.Background(), ChatRequest{UserID: f.user.ID, Channel: souschef.ChannelTelegram, Message: "show my profile page"})
	require.NoError(t, err)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	advertised := toolNames(reqs[0].Tools)
	assert.NotContains(t, advertised, "navigate_to_page")
	assert.Contains(t, advertised, "send_message_to_chef")
	assert.Contains(t, reqs[0].Messages[0].Content, "Telegram")

	msgs := reqs[1].Messages
	redirect, profile := msgs[len(msgs)-2], msgs[len(msgs)-1]
	assert.Contains(t, redirect.Content, `"status":"redirect"`)
	assert.Contains(t, redirect.Content, "https://app.example.com")
	assert.Contains(t, profile.Content, `"redacted":true`)
	assert.NotContains(t, profile.Content, "ana@example.com")
}

func TestAssistant_History(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, m := range []store.ChatMessage{
		{UserID: f.user.ID, Role: "user", Content: "plan dinners"},
		{UserID: f.user.ID, Role: "assistant", Content: "Done, 7 dinners."},
	} {
		require.NoError(t, f.store.AppendChatMessage(ctx, &m))
	}
	client := mock.NewClient(mock.Reply("Sure."))
	a := f.assistant(client, 0)

	_, err := a.Respond(ctx, ChatRequest{UserID: f.user.ID, Channel: souschef.ChannelLine, Message: "thanks"})
	require.NoError(t, err)

	msgs := client.Requests()[0].Messages
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[0].Content, "plain text only")
	assert.Equal(t, llm.User("plan dinners"), msgs[1])
	assert.Equal(t, llm.Assistant("Done, 7 dinners."), msgs[2])
	assert.Equal(t, llm.User("thanks"), msgs[3])
}

func TestAssistant_ExcessiveRepetition(t *testing.T) {
	f := newFixture(t)
	client := mock.NewClient(
		mock.Calls(call("c1", "get_pantry_items")),
		mock.Calls(call("c2", "get_pantry_items")),
		mock.Calls(call("c3", "get_pantry_items")),
		mock.Calls(call("c4", "get_pantry_items")),
		mock.Reply("Rice it is."),
	)
	a := f.assistant(client, 0)

	reply, err := a.Respond(context.Background(), ChatRequest{UserID: f.user.ID, Channel: souschef.ChannelWeb, Message: "pantry?"})
	require.NoError(t, err)
	assert.Equal(t, "Rice it is.", reply.Message)
	assert.Len(t, reply.ToolsUsed, 3, "the fourth call is not executed")

	reqs := client.Requests()
	require.Len(t, reqs, 5)
	last := reqs[4].Messages[len(reqs[4].Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "already called get_pantry_items 3 times")
	assert.Equal(t, "excessive_tool_repetition", f.logger.Attempts()[3].Outcome)
}

func TestAssistant_Fallback(t *testing.T) {
	f := newFixture(t)
	client := mock.NewClient(
		mock.Calls(call("c1", "get_pantry_items")),
		mock.Calls(call("c2", "get_meal_plan")),
	)
	a := f.assistant(client, 2)

	reply, err := a.Respond(context.Background(), ChatRequest{UserID: f.user.ID, Channel: souschef.ChannelAPI, Message: "help"})
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, fallbackReply, reply.Message)
	assert.Equal(t, 2, reply.Iterations)

	thread, err := f.store.RecentChatMessages(context.Background(), f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, fallbackReply, thread[1].Content)
}

func TestAssistant_EmptyReplyIsRetried(t *testing.T) {
	f := newFixture(t)
	client := mock.NewClient(mock.Reply("  "), mock.Reply("Hello!"))
	a := f.assistant(client, 0)

	reply, err := a.Respond(context.Background(), ChatRequest{UserID: f.user.ID, Channel: souschef.ChannelWeb, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply.Message)
	assert.Equal(t, 2, reply.Iterations)
}

func TestAssistant_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("empty message", func(t *testing.T) {
		_, err := f.assistant(mock.NewClient(), 0).Respond(ctx, ChatRequest{UserID: f.user.ID, Message: "  "})
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.assistant(mock.NewClient(), 0).Respond(ctx, ChatRequest{UserID: "nobody", Message: "hi"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("llm failure", func(t *testing.T) {
		boom := errors.New("rate limited")
		_, err := f.assistant(mock.NewClient(mock.Fail(boom)), 0).Respond(ctx, ChatRequest{UserID: f.user.ID, Message: "hi"})
		assert.ErrorIs(t, err, boom)
	})
}

func TestAssistant_Offline(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(mock.NewOffline(), 0)

	reply, err := a.Respond(context.Background(), ChatRequest{UserID: f.user.ID, Channel: souschef.ChannelWeb, Message: "what's planned?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"get_meal_plan"}, reply.ToolsUsed)
	assert.Contains(t, reply.Message, "get_meal_plan")
}
