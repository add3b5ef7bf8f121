package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"souschef"
	"souschef/assistant"
	"souschef/channels"
	"souschef/store"
)

const maxWebhookBody = 1 << 20

const unlinkedReply = "Hi! This chat isn't linked to a Sous Chef account yet. Link it from your profile page in the dashboard, then message me again."

// TelegramWebhook answers a Telegram update. Telegram retries anything but
// 200, so processing failures are logged and acknowledged.
func (s *Server) TelegramWebhook(c *gin.Context) {
	if err := channels.VerifyTelegramSecret(c.GetHeader(channels.TelegramSecretHeader), s.deps.Channels.TelegramSecret); err != nil {
		s.deps.Metrics.webhookEvents.WithLabelValues("telegram", "rejected").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := channels.ParseTelegramUpdate(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg == nil {
		s.deps.Metrics.webhookEvents.WithLabelValues("telegram", "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	text := s.answer(ctx, souschef.ChannelTelegram, msg.ChatID(), msg.Text)
	if s.deps.Telegram != nil {
		if err := s.deps.Telegram.Send(ctx, msg.ChatID(), text); err != nil {
			slog.Error("WEBHOOK: Telegram send failed", "chat_id", msg.ChatID(), "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// LineWebhook answers the text messages of a LINE webhook call.
func (s *Server) LineWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := channels.VerifyLineSignature(body, c.GetHeader(channels.LineSignatureHeader), s.deps.Channels.LineChannelSecret); err != nil {
		s.deps.Metrics.webhookEvents.WithLabelValues("line", "rejected").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	events, err := channels.ParseLineWebhook(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	for _, e := range events {
		text := s.answer(ctx, souschef.ChannelLine, e.Source.UserID, e.Message.Text)
		if s.deps.Line == nil {
			continue
		}
		if err := s.deps.Line.Reply(ctx, e.ReplyToken, e.Source.UserID, text); err != nil {
			slog.Error("WEBHOOK: LINE reply failed", "user", e.Source.UserID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "events": len(events)})
}

// answer runs the assistant for a chat-app sender and returns the text to
// send back, whatever happened.
func (s *Server) answer(ctx context.Context, ch souschef.Channel, externalID, text string) string {
	user, err := s.deps.Users.UserByChannel(ctx, string(ch), externalID)
	if errors.Is(err, store.ErrNotFound) {
		s.deps.Metrics.webhookEvents.WithLabelValues(string(ch), "unlinked").Inc()
		return unlinkedReply
	}
	if err != nil {
		slog.Error("WEBHOOK: User lookup failed", "channel", ch, "error", err)
		s.deps.Metrics.webhookEvents.WithLabelValues(string(ch), "error").Inc()
		return "Something went wrong on our side. Please try again in a moment."
	}

	reply, err := s.deps.Assistant.Respond(ctx, assistant.ChatRequest{UserID: user.ID, Channel: ch, Message: text})
	if err != nil {
		slog.Error("WEBHOOK: Assistant failed", "channel", ch, "user_id", user.ID, "error", err)
		s.deps.Metrics.webhookEvents.WithLabelValues(string(ch), "error").Inc()
		return "Sorry, I couldn't answer that right now. Please try again in a moment."
	}
	s.deps.Metrics.webhookEvents.WithLabelValues(string(ch), "answered").Inc()
	return reply.Message
}
