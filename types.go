package souschef

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Messenger delivers assistant replies to a chat platform.
type Messenger interface {
	Send(ctx context.Context, recipient string, text string) error
}

// Channel is the surface a conversation arrives on.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelTelegram Channel = "telegram"
	ChannelLine     Channel = "line"
	ChannelAPI      Channel = "api"
)

// Channels lists every known channel.
var Channels = []Channel{ChannelWeb, ChannelTelegram, ChannelLine, ChannelAPI}

// ParseChannel maps a case-insensitive name to a known channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Channels {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// IsMessagingApp reports whether replies are delivered through a chat app
// rather than the web dashboard.
func (c Channel) IsMessagingApp() bool {
	return c == ChannelTelegram || c == ChannelLine
}
