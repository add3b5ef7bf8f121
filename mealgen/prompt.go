package mealgen

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"souschef/store"
)

const expiringWindowDays = 7

const safetySystemPrompt = `You review meals for dietary compliance.
Decide whether the meal satisfies the requirement, including hidden sources (fish sauce is not vegetarian, butter and ghee are dairy, most soy sauce contains wheat).
Reply with a single JSON object and nothing else:
{"compatible": true or false, "reasons": ["short reason for each conflict"]}`

func safetyUserPrompt(signature, key string) string {
	requirement := "Dietary preference: " + key
	if list, ok := strings.CutPrefix(key, "allergens:"); ok {
		requirement = "Must not contain any of these allergens: " + strings.ReplaceAll(list, ",", ", ")
	}
	return fmt.Sprintf("Requirement: %s\n\nMeal:\n%s", requirement, signature)
}

func systemPrompt(mealType string) string {
	schema, _ := json.MarshalIndent(MealSchema(), "", "  ")
	return fmt.Sprintf(`You are Sous Chef, a home meal planner. Propose exactly one %s for the household described by the user.

Rules:
- Respect every dietary preference and never use a listed allergen, including derived ingredients.
- Prefer pantry items that expire soon and list the pantry item names you used in "pantry_items_used".
- Do not repeat or closely imitate any meal listed under "Recent meals".
- Each dish lists its ingredients with a positive quantity and a unit, sized for the whole household.
- Fill "name", "description", "dietary_tags" and "dishes" for every meal.

Reply with a single JSON object that follows this JSON schema and nothing else:
%s`, strings.ToLower(mealType), schema)
}

type promptContext struct {
	User     *store.User
	MealType string
	Day      time.Time
	Now      time.Time
	Pantry   []store.PantryItem
	Priors   []store.Meal
	Notes    string
}

func userPrompt(pc promptContext) string {
	u := pc.User
	var b strings.Builder

	fmt.Fprintf(&b, "Meal: %s on %s %s\n", pc.MealType, pc.Day.Weekday(), pc.Day.Format("2006-01-02"))
	fmt.Fprintf(&b, "Household size: %d\n", u.HouseholdSize)
	fmt.Fprintf(&b, "Dietary preferences: %s\n", listOrNone(u.PreferenceNames()))
	fmt.Fprintf(&b, "Allergies: %s\n", listOrNone(u.Allergies))
	if u.CustomDietaryNotes != "" {
		fmt.Fprintf(&b, "Dietary notes: %s\n", u.CustomDietaryNotes)
	}
	if u.Goals != "" {
		fmt.Fprintf(&b, "Goals: %s\n", u.Goals)
	}
	if pc.Notes != "" {
		fmt.Fprintf(&b, "Request: %s\n", pc.Notes)
	}

	b.WriteString("\nPantry (expiring soon first):\n")
	if len(pc.Pantry) == 0 {
		b.WriteString("- empty\n")
	}
	expiring := store.ExpiringWithin(pc.Pantry, pc.Now, expiringWindowDays)
	isExpiring := make(map[string]bool, len(expiring))
	for _, it := range expiring {
		isExpiring[it.ID] = true
		fmt.Fprintf(&b, "- %s: %g %s (expires in %d days)\n", it.Name, it.Quantity, it.Unit, max(it.DaysLeft(pc.Now), 0))
	}
	for _, it := range pc.Pantry {
		if !isExpiring[it.ID] {
			fmt.Fprintf(&b, "- %s: %g %s\n", it.Name, it.Quantity, it.Unit)
		}
	}

	b.WriteString("\nRecent meals (do not repeat):\n")
	if len(pc.Priors) == 0 {
		b.WriteString("- none\n")
	}
	for _, m := range pc.Priors {
		fmt.Fprintf(&b, "- %s\n", m.Name)
	}
	return strings.TrimSpace(b.String())
}

// feedback is sent back to the model after a failed attempt.
func feedback(code, reason string, attempt, remaining int) string {
	b, _ := json.Marshal(map[string]any{
		"error":              code,
		"reason":             reason,
		"attempt":            attempt,
		"attempts_remaining": remaining,
	})
	return string(b) + "\nPropose a different meal that fixes this. Reply with the JSON object only."
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
