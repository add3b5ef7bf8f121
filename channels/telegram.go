package channels

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"

	"souschef"
)

// TelegramSecretHeader carries the secret set with setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

var ErrBadSecret = errors.New("webhook secret mismatch")

type Telegram struct {
	baseURL    string
	token      string
	httpClient souschef.HTTPClient
}

func NewTelegram(baseURL, token string, httpClient souschef.HTTPClient) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Telegram{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: httpClient}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to a chat, split into as many messages as needed.
func (t *Telegram) Send(ctx context.Context, chatID string, text string) error {
	for _, chunk := range SplitMessage(text, TelegramMessageLimit) {
		if err := t.sendMessage(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The bot token is part of the URL.
		var ue *neturl.Error
		if errors.As(err, &ue) {
			ue.URL = t.baseURL + "/bot***/sendMessage"
		}
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var tr telegramResponse
	_ = json.Unmarshal(body, &tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		if tr.Description != "" {
			return fmt.Errorf("telegram sendMessage: %s: %s", resp.Status, tr.Description)
		}
		return fmt.Errorf("telegram sendMessage: %s", resp.Status)
	}
	return nil
}

// TelegramUpdate is the subset of a webhook update the assistant reads.
type TelegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

type TelegramMessage struct {
	MessageID int64 `json:"message_id"`
	From      struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// ChatID is the chat to answer in.
func (m *TelegramMessage) ChatID() string {
	return strconv.FormatInt(m.Chat.ID, 10)
}

// SenderID identifies the Telegram account for channel linking.
func (m *TelegramMessage) SenderID() string {
	return strconv.FormatInt(m.From.ID, 10)
}

// VerifyTelegramSecret compares the webhook header with the configured
// secret. An empty secret disables the check.
func VerifyTelegramSecret(header, secret string) error {
	if secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(secret)) != 1 {
		return ErrBadSecret
	}
	return nil
}

// ParseTelegramUpdate decodes a webhook body. Updates without a text message
// return a nil message.
func ParseTelegramUpdate(body []byte) (*TelegramMessage, error) {
	var u TelegramUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
		return nil, nil
	}
	return u.Message, nil
}
