package tools

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"souschef/store"
)

type profileOut struct {
	Username           string   `json:"username"`
	Email              string   `json:"email,omitempty"`
	PhoneNumber        string   `json:"phone_number,omitempty"`
	Address            string   `json:"address,omitempty"`
	DateOfBirth        string   `json:"date_of_birth,omitempty"`
	HouseholdSize      int      `json:"household_size"`
	DietaryPreferences []string `json:"dietary_preferences"`
	CustomDietaryNotes string   `json:"custom_dietary_notes,omitempty"`
	Allergies          []string `json:"allergies"`
	Goals              string   `json:"goals,omitempty"`
	HealthNotes        string   `json:"health_notes,omitempty"`
	PreferredLanguage  string   `json:"preferred_language,omitempty"`
	Timezone           string   `json:"timezone,omitempty"`
}

func profile(u *store.User) profileOut {
	out := profileOut{
		Username:           u.Username,
		Email:              u.Email,
		PhoneNumber:        u.PhoneNumber,
		Address:            u.Address,
		HouseholdSize:      u.HouseholdSize,
		DietaryPreferences: u.PreferenceNames(),
		CustomDietaryNotes: u.CustomDietaryNotes,
		Allergies:          u.Allergies,
		Goals:              u.Goals,
		HealthNotes:        u.HealthNotes,
		PreferredLanguage:  u.PreferredLanguage,
		Timezone:           u.Timezone,
	}
	if u.DateOfBirth != nil {
		out.DateOfBirth = u.DateOfBirth.Format(time.DateOnly)
	}
	if out.Allergies == nil {
		out.Allergies = []string{}
	}
	return out
}

type GetUserProfile struct{ deps Deps }

func NewGetUserProfile(deps Deps) *GetUserProfile { return &GetUserProfile{deps: deps} }

func (t *GetUserProfile) Name() string  { return "get_user_profile" }
func (t *GetUserProfile) Title() string { return "Get User Profile" }
func (t *GetUserProfile) Description() string {
	return "Returns the user's profile: household size, dietary preferences, allergies, goals and contact details."
}

func (t *GetUserProfile) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}}
}

func (t *GetUserProfile) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"profile": {Type: "object"},
		},
		Required: []string{"profile"},
	}
}

func (t *GetUserProfile) Run(ctx context.Context, _ map[string]any) (map[string]any, error) {
	u, err := currentUser(ctx, t.deps.Store)
	if err != nil {
		return nil, err
	}
	return toMap(map[string]any{"profile": profile(u)})
}

type UpdateDietaryPreferences struct{ deps Deps }

func NewUpdateDietaryPreferences(deps Deps) *UpdateDietaryPreferences {
	return &UpdateDietaryPreferences{deps: deps}
}

func (t *UpdateDietaryPreferences) Name() string  { return "update_dietary_preferences" }
func (t *UpdateDietaryPreferences) Title() string { return "Update Dietary Preferences" }
func (t *UpdateDietaryPreferences) Description() string {
	return "Replaces the user's dietary preferences and, when given, their allergies. Pass the complete lists, not just the changes."
}

func (t *UpdateDietaryPreferences) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"dietary_preferences": stringArray("e.g. Vegetarian, Gluten-Free, Halal"),
			"allergies":           stringArray("e.g. peanuts, shellfish. Omit to keep the current allergies."),
		},
		Required: []string{"dietary_preferences"},
	}
}

func (t *UpdateDietaryPreferences) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status":  str(),
			"profile": {Type: "object"},
		},
		Required: []string{"status", "profile"},
	}
}

func (t *UpdateDietaryPreferences) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	prefs, ok := stringsArg(input, "dietary_preferences")
	if !ok {
		prefs = []string{}
	}
	allergies, _ := stringsArg(input, "allergies")
	u, err := t.deps.Store.SetDietaryProfile(ctx, userID, prefs, allergies)
	if err != nil {
		return nil, err
	}
	return toMap(map[string]any{"status": "updated", "profile": profile(u)})
}
