// Package guard decides which assistant tools a conversation channel may use
// and what a channel gets to see of their results.
package guard

import "souschef"

type Category string

const (
	// CategoryCore tools work the same on every channel.
	CategoryCore Category = "CORE"
	// CategoryNavigation tools only make sense inside the web dashboard.
	CategoryNavigation Category = "NAVIGATION"
	// CategoryMessaging tools send messages to other people.
	CategoryMessaging Category = "MESSAGING"
	// CategorySensitive tools read or change personal data.
	CategorySensitive Category = "SENSITIVE"
)

var toolCategories = map[string]Category{
	"get_pantry_items":           CategoryCore,
	"add_pantry_item":            CategoryCore,
	"get_meal_plan":              CategoryCore,
	"generate_meal_plan":         CategoryCore,
	"replace_meal":               CategoryCore,
	"generate_shopping_list":     CategoryCore,
	"navigate_to_page":           CategoryNavigation,
	"send_message_to_chef":       CategoryMessaging,
	"get_user_profile":           CategorySensitive,
	"update_dietary_preferences": CategorySensitive,
}

// CategoryOf returns a tool's category. Tools nobody categorised are treated
// as sensitive.
func CategoryOf(tool string) Category {
	if c, ok := toolCategories[tool]; ok {
		return c
	}
	return CategorySensitive
}

type SensitiveMode int

const (
	// SensitivePassThrough hands sensitive tool output over unchanged.
	SensitivePassThrough SensitiveMode = iota
	// SensitiveRedact strips personal fields from sensitive tool output.
	SensitiveRedact
)

func (m SensitiveMode) String() string {
	if m == SensitivePassThrough {
		return "pass_through"
	}
	return "redact"
}

type Policy struct {
	Allowed   map[Category]bool
	Sensitive SensitiveMode
}

func allow(cs ...Category) map[Category]bool {
	m := make(map[Category]bool, len(cs))
	for _, c := range cs {
		m[c] = true
	}
	return m
}

var policies = map[souschef.Channel]Policy{
	souschef.ChannelWeb: {
		Allowed:   allow(CategoryCore, CategoryNavigation, CategoryMessaging, CategorySensitive),
		Sensitive: SensitivePassThrough,
	},
	souschef.ChannelAPI: {
		Allowed:   allow(CategoryCore, CategorySensitive),
		Sensitive: SensitiveRedact,
	},
	souschef.ChannelTelegram: {
		Allowed:   allow(CategoryCore, CategoryMessaging, CategorySensitive),
		Sensitive: SensitiveRedact,
	},
	souschef.ChannelLine: {
		Allowed:   allow(CategoryCore, CategoryMessaging, CategorySensitive),
		Sensitive: SensitiveRedact,
	},
}

// restricted applies to channels without a policy.
var restricted = Policy{Allowed: allow(CategoryCore), Sensitive: SensitiveRedact}

func PolicyFor(ch souschef.Channel) Policy {
	if p, ok := policies[ch]; ok {
		return p
	}
	return restricted
}

type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionRedact   Decision = "redact"
	DecisionRedirect Decision = "redirect"
)

// Decide maps a (channel, tool) pair to how a call must be handled.
func Decide(ch souschef.Channel, tool string) Decision {
	p := PolicyFor(ch)
	c := CategoryOf(tool)
	switch {
	case !p.Allowed[c]:
		return DecisionRedirect
	case c == CategorySensitive && p.Sensitive == SensitiveRedact:
		return DecisionRedact
	default:
		return DecisionAllow
	}
}
