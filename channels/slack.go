package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"souschef"
)

// Slack posts to an incoming webhook. It tells the chef team about messages
// users send through the assistant.
type Slack struct {
	webhookURL string
	channel    string
	httpClient souschef.HTTPClient
}

func NewSlack(webhookURL, channel string, httpClient souschef.HTTPClient) *Slack {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Slack{webhookURL: webhookURL, channel: channel, httpClient: httpClient}
}

// NotifyChef announces a message for chef from the user with username from.
func (s *Slack) NotifyChef(ctx context.Context, chef, from, body string) error {
	return s.PostMessage(ctx, fmt.Sprintf("New message for @%s from %s:\n>%s", chef, from, body))
}

func (s *Slack) PostMessage(ctx context.Context, text string) error {
	msg := map[string]any{"text": text}
	if s.channel != "" {
		msg["channel"] = s.channel
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook: %s", resp.Status)
	}
	return nil
}
