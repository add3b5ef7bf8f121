package assistant

import (
	"fmt"
	"strings"
	"time"

	"souschef"
	"souschef/store"
)

const systemPrompt = `You are Sous Chef, a friendly meal-planning assistant.

GOAL:
Help the user plan meals, keep track of their pantry, build shopping lists and adjust their dietary profile. Use the tools to read or change data; never invent pantry contents, meals or plans.

RULES:
- Respect the user's allergies and dietary preferences in every suggestion.
- Prefer ingredients that expire soon.
- When a tool returns {"status":"redirect"}, pass its message on to the user instead of retrying.
- When a tool returns {"error": ...}, explain the problem briefly and suggest what the user can do.
- Do not call the same tool again with the same input; the result will not change.
- Keep answers short. Dates use YYYY-MM-DD.`

var channelHints = map[souschef.Channel]string{
	souschef.ChannelWeb:      "The user is on the web dashboard. Markdown is rendered; links to dashboard pages are welcome.",
	souschef.ChannelTelegram: "The user is chatting on Telegram. Keep replies under a few short paragraphs; simple *bold* and bullet lists are fine.",
	souschef.ChannelLine:     "The user is chatting on LINE. Use plain text only: no markdown, no tables, no headings. Keep it brief.",
	souschef.ChannelAPI:      "The reply is consumed by an API client. Answer in plain, compact sentences.",
}

func buildSystemPrompt(user *store.User, ch souschef.Channel, now time.Time) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	b.WriteString("\n\nCHANNEL:\n")
	hint, ok := channelHints[ch]
	if !ok {
		hint = "Use plain text."
	}
	b.WriteString(hint)

	b.WriteString("\n\nUSER:\n")
	fmt.Fprintf(&b, "- username: %s\n", user.Username)
	fmt.Fprintf(&b, "- today: %s (%s)\n", now.Format(time.DateOnly), now.Weekday())
	if prefs := user.PreferenceNames(); len(prefs) > 0 {
		fmt.Fprintf(&b, "- dietary preferences: %s\n", strings.Join(prefs, ", "))
	}
	if len(user.Allergies) > 0 {
		fmt.Fprintf(&b, "- allergies: %s\n", strings.Join(user.Allergies, ", "))
	}
	if user.HouseholdSize > 1 {
		fmt.Fprintf(&b, "- household size: %d\n", user.HouseholdSize)
	}
	if user.PreferredLanguage != "" && user.PreferredLanguage != "en" {
		fmt.Fprintf(&b, "- reply in language: %s\n", user.PreferredLanguage)
	}
	return b.String()
}

const repetitionHint = "You have already called %s %d times in this conversation turn. Use the results you have and answer the user now."

const fallbackReply = "Sorry, I couldn't finish that request. Please try again, or use the dashboard for more options."
