package channels_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	should "github.com/stretchr/testify/assert"
	must "github.com/stretchr/testify/require"

	"souschef/channels"
)

type mockDoer struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	doFunc   func(req *http.Request) (*http.Response, error)
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var body map[string]any
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(b, &body)
	}
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()
	return m.doFunc(req)
}

func respond(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Status: http.StatusText(status), Body: io.NopCloser(bytes.NewBufferString(body))}, nil
	}
}

func TestSplitMessage(t *testing.T) {
	should.Nil(t, channels.SplitMessage("   ", 10))
	should.Equal(t, []string{"short"}, channels.SplitMessage(" short ", 10))

	text := "first paragraph here\n\nsecond paragraph that is longer"
	should.Equal(t, []string{"first paragraph here", "second paragraph that is longer"}, channels.SplitMessage(text, 35))

	words := strings.Repeat("word ", 50)
	for _, chunk := range channels.SplitMessage(words, 23) {
		should.LessOrEqual(t, utf8.RuneCountInString(chunk), 23)
		should.False(t, strings.HasPrefix(chunk, "ord"), "chunks break between words")
	}

	// No separator at all falls back to a hard cut on a rune boundary.
	runes := strings.Repeat("é", 25)
	chunks := channels.SplitMessage(runes, 10)
	must.Len(t, chunks, 3)
	should.Equal(t, strings.Repeat("é", 10), chunks[0])
	should.Equal(t, strings.Repeat("é", 5), chunks[2])
}

func TestStripMarkdown(t *testing.T) {
	in := "## Your week\n\n- **Monday**: [Lentil soup](https://app.example.com/meals/1)\n* `Tuesday`: _salmon_"
	want := "Your week\n\n• Monday: Lentil soup (https://app.example.com/meals/1)\n• Tuesday: _salmon_"
	should.Equal(t, want, channels.StripMarkdown(in))
}

func TestTelegram_Send(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		doFunc  func(req *http.Request) (*http.Response, error)
		calls   int
		wantErr string
	}{
		{
			name:   "success",
			text:   "Hello!",
			doFunc: respond(http.StatusOK, `{"ok":true}`),
			calls:  1,
		},
		{
			name:   "long message is split",
			text:   strings.Repeat("a", channels.TelegramMessageLimit+10),
			doFunc: respond(http.StatusOK, `{"ok":true}`),
			calls:  2,
		},
		{
			name:    "api error",
			text:    "Hello!",
			doFunc:  respond(http.StatusBadRequest, `{"ok":false,"description":"chat not found"}`),
			calls:   1,
			wantErr: "chat not found",
		},
		{
			name: "network error",
			text: "Hello!",
			doFunc: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection reset")
			},
			calls:   1,
			wantErr: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &mockDoer{doFunc: tt.doFunc}
			tg := channels.NewTelegram("https://tg.example.com/", "123:abc", doer)
			err := tg.Send(context.Background(), "42", tt.text)
			if tt.wantErr != "" {
				should.ErrorContains(t, err, tt.wantErr)
			} else {
				should.NoError(t, err)
			}
			must.Len(t, doer.requests, tt.calls)
			should.Equal(t, "https://tg.example.com/bot123:abc/sendMessage", doer.requests[0].URL.String())
			should.Equal(t, "42", doer.bodies[0]["chat_id"])
		})
	}
}

func TestParseTelegramUpdate(t *testing.T) {
	msg, err := channels.ParseTelegramUpdate([]byte(`{"update_id":1,"message":{"message_id":7,"from":{"id":99,"username":"ana"},"chat":{"id":-100},"text":"plan my week"}}`))
	must.NoError(t, err)
	must.NotNil(t, msg)
	should.Equal(t, "-100", msg.ChatID())
	should.Equal(t, "99", msg.SenderID())
	should.Equal(t, "plan my week", msg.Text)

	msg, err = channels.ParseTelegramUpdate([]byte(`{"update_id":2,"edited_message":{}}`))
	should.NoError(t, err)
	should.Nil(t, msg)

	_, err = channels.ParseTelegramUpdate([]byte(`{`))
	should.Error(t, err)
}

func TestVerifyTelegramSecret(t *testing.T) {
	should.NoError(t, channels.VerifyTelegramSecret("anything", ""))
	should.NoError(t, channels.VerifyTelegramSecret("s3cret", "s3cret"))
	should.ErrorIs(t, channels.VerifyTelegramSecret("wrong", "s3cret"), channels.ErrBadSecret)
}

type lineServer struct {
	mu       sync.Mutex
	paths    []string
	payloads []map[string]any
	auth     string
}

func newLineServer(t *testing.T, status int) (*httptest.Server, *lineServer) {
	rec := &lineServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.payloads = append(rec.payloads, body)
		rec.auth = r.Header.Get("Authorization")
		rec.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestLine_Reply(t *testing.T) {
	srv, rec := newLineServer(t, http.StatusOK)
	l := channels.NewLine(srv.URL, "token-1", srv.Client())

	err := l.Reply(context.Background(), "reply-1", "U1", "**Dinner**: lentil soup")
	must.NoError(t, err)
	should.Equal(t, []string{"/v2/bot/message/reply"}, rec.paths)
	should.Equal(t, "Bearer token-1", rec.auth)
	should.Equal(t, "reply-1", rec.payloads[0]["replyToken"])
	msgs := rec.payloads[0]["messages"].([]any)
	should.Equal(t, "Dinner: lentil soup", msgs[0].(map[string]any)["text"])
}

func TestLine_ReplyOverflowIsPushed(t *testing.T) {
	srv, rec := newLineServer(t, http.StatusOK)
	l := channels.NewLine(srv.URL, "token-1", srv.Client())

	// Seven chunks: five go with the reply, two are pushed.
	var parts []string
	for i := 0; i < 7; i++ {
		parts = append(parts, strings.Repeat("x", channels.LineMessageLimit-10))
	}
	must.NoError(t, l.Reply(context.Background(), "reply-1", "U1", strings.Join(parts, "\n\n")))

	should.Equal(t, []string{"/v2/bot/message/reply", "/v2/bot/message/push"}, rec.paths)
	should.Len(t, rec.payloads[0]["messages"], 5)
	should.Len(t, rec.payloads[1]["messages"], 2)
	should.Equal(t, "U1", rec.payloads[1]["to"])
}

func TestLine_SendError(t *testing.T) {
	srv, _ := newLineServer(t, http.StatusUnauthorized)
	l := channels.NewLine(srv.URL, "bad", srv.Client())
	err := l.Send(context.Background(), "U1", "hello")
	should.ErrorContains(t, err, "401")
}

func TestVerifyLineSignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	sig := channels.SignLineBody(body, "channel-secret")

	should.NoError(t, channels.VerifyLineSignature(body, sig, "channel-secret"))
	should.ErrorIs(t, channels.VerifyLineSignature(body, sig, "other-secret"), channels.ErrBadSignature)
	should.ErrorIs(t, channels.VerifyLineSignature([]byte(`{"events":[1]}`), sig, "channel-secret"), channels.ErrBadSignature)
	should.ErrorIs(t, channels.VerifyLineSignature(body, "not base64!", "channel-secret"), channels.ErrBadSignature)
}

func TestParseLineWebhook(t *testing.T) {
	body := `{"destination":"x","events":[
		{"type":"message","replyToken":"r1","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"hi"}},
		{"type":"message","replyToken":"r2","source":{"type":"user","userId":"U1"},"message":{"id":"2","type":"sticker"}},
		{"type":"follow","replyToken":"r3","source":{"type":"user","userId":"U2"}}
	]}`
	events, err := channels.ParseLineWebhook([]byte(body))
	must.NoError(t, err)
	must.Len(t, events, 1)
	should.Equal(t, "r1", events[0].ReplyToken)
	should.Equal(t, "U1", events[0].Source.UserID)
	should.Equal(t, "hi", events[0].Message.Text)
}

func TestSlack_NotifyChef(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		doFunc  func(req *http.Request) (*http.Response, error)
		wantErr string
	}{
		{
			name:    "success",
			channel: "#chefs",
			doFunc:  respond(http.StatusOK, "ok"),
		},
		{
			name:    "failure status",
			doFunc:  respond(http.StatusBadRequest, "invalid_payload"),
			wantErr: "slack webhook: Bad Request",
		},
		{
			name: "do error",
			doFunc: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("network error")
			},
			wantErr: "network error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &mockDoer{doFunc: tt.doFunc}
			s := channels.NewSlack("https://hooks.slack.example/T1", tt.channel, doer)
			err := s.NotifyChef(context.Background(), "chef_marco", "ana", "Can you cook on Friday?")
			if tt.wantErr != "" {
				should.ErrorContains(t, err, tt.wantErr)
			} else {
				should.NoError(t, err)
			}
			must.Len(t, doer.bodies, 1)
			should.Equal(t, "New message for @chef_marco from ana:\n>Can you cook on Friday?", doer.bodies[0]["text"])
			if tt.channel != "" {
				should.Equal(t, tt.channel, doer.bodies[0]["channel"])
			} else {
				should.NotContains(t, doer.bodies[0], "channel")
			}
		})
	}
}
