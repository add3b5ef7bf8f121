package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"souschef"
)

// LineSignatureHeader carries the base64 HMAC-SHA256 of the request body.
const LineSignatureHeader = "X-Line-Signature"

// A reply or push request carries at most five messages.
const lineMaxMessages = 5

var ErrBadSignature = errors.New("webhook signature mismatch")

type Line struct {
	baseURL     string
	accessToken string
	httpClient  souschef.HTTPClient
}

func NewLine(baseURL, accessToken string, httpClient souschef.HTTPClient) *Line {
	if baseURL == "" {
		baseURL = "https://api.line.me"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Line{baseURL: strings.TrimRight(baseURL, "/"), accessToken: accessToken, httpClient: httpClient}
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func lineMessages(text string) []lineMessage {
	chunks := SplitMessage(StripMarkdown(text), LineMessageLimit)
	msgs := make([]lineMessage, 0, len(chunks))
	for _, c := range chunks {
		msgs = append(msgs, lineMessage{Type: "text", Text: c})
	}
	return msgs
}

// Reply answers a webhook event with its reply token. A token is valid for
// one request, so anything beyond five messages is pushed to userID.
func (l *Line) Reply(ctx context.Context, replyToken, userID, text string) error {
	msgs := lineMessages(text)
	if len(msgs) == 0 {
		return nil
	}
	first := msgs
	if len(first) > lineMaxMessages {
		first = msgs[:lineMaxMessages]
	}
	if err := l.post(ctx, "/v2/bot/message/reply", map[string]any{"replyToken": replyToken, "messages": first}); err != nil {
		return err
	}
	if rest := msgs[len(first):]; len(rest) > 0 && userID != "" {
		return l.push(ctx, userID, rest)
	}
	return nil
}

// Send pushes text to a LINE user.
func (l *Line) Send(ctx context.Context, userID string, text string) error {
	return l.push(ctx, userID, lineMessages(text))
}

func (l *Line) push(ctx context.Context, to string, msgs []lineMessage) error {
	for len(msgs) > 0 {
		n := min(len(msgs), lineMaxMessages)
		if err := l.post(ctx, "/v2/bot/message/push", map[string]any{"to": to, "messages": msgs[:n]}); err != nil {
			return err
		}
		msgs = msgs[n:]
	}
	return nil
}

func (l *Line) post(ctx context.Context, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("line %s: %s: %s", path, resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// VerifyLineSignature checks the X-Line-Signature header against the body.
func VerifyLineSignature(body []byte, signature, channelSecret string) error {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || !hmac.Equal(got, expected) {
		return ErrBadSignature
	}
	return nil
}

// SignLineBody computes the signature LINE sends for body.
func SignLineBody(body []byte, channelSecret string) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type LineWebhook struct {
	Destination string      `json:"destination"`
	Events      []LineEvent `json:"events"`
}

type LineEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// ParseLineWebhook returns the text message events of a webhook body.
func ParseLineWebhook(body []byte) ([]LineEvent, error) {
	var w LineWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode line webhook: %w", err)
	}
	var out []LineEvent
	for _, e := range w.Events {
		if e.Type == "message" && e.Message.Type == "text" && strings.TrimSpace(e.Message.Text) != "" {
			out = append(out, e)
		}
	}
	return out, nil
}
