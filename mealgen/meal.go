package mealgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"souschef/store"
)

// GeneratedMeal is the structured reply expected from the model.
type GeneratedMeal struct {
	Name            string          `json:"name" validate:"required"`
	Description     string          `json:"description" validate:"required"`
	DietaryTags     []string        `json:"dietary_tags" validate:"dive,required"`
	Dishes          []GeneratedDish `json:"dishes" validate:"required,min=1,dive"`
	PantryItemsUsed []string        `json:"pantry_items_used"`
}

type GeneratedDish struct {
	Name        string                `json:"name" validate:"required"`
	Ingredients []GeneratedIngredient `json:"ingredients" validate:"required,min=1,dive"`
}

type GeneratedIngredient struct {
	Name     string  `json:"name" validate:"required"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
	Unit     string  `json:"unit" validate:"required"`
}

// MealSchema is the JSON schema the model is asked to follow.
func MealSchema() *jsonschema.Schema {
	minQty := 0.0
	str := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":         str(),
			"description":  str(),
			"dietary_tags": {Type: "array", Items: str()},
			"dishes": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name": str(),
						"ingredients": {
							Type: "array",
							Items: &jsonschema.Schema{
								Type: "object",
								Properties: map[string]*jsonschema.Schema{
									"name":     str(),
									"quantity": {Type: "number", ExclusiveMinimum: &minQty},
									"unit":     str(),
								},
								Required: []string{"name", "quantity", "unit"},
							},
						},
					},
					Required: []string{"name", "ingredients"},
				},
			},
			"pantry_items_used": {Type: "array", Items: str()},
		},
		Required: []string{"name", "description", "dietary_tags", "dishes", "pantry_items_used"},
	}
}

// normalize trims whitespace and drops empty or repeated tags and pantry names.
func (m *GeneratedMeal) normalize() {
	m.Name = strings.TrimSpace(m.Name)
	m.Description = strings.TrimSpace(m.Description)
	m.DietaryTags = dedupe(m.DietaryTags)
	m.PantryItemsUsed = dedupe(m.PantryItemsUsed)
	for i := range m.Dishes {
		d := &m.Dishes[i]
		d.Name = strings.TrimSpace(d.Name)
		for j := range d.Ingredients {
			d.Ingredients[j].Name = strings.TrimSpace(d.Ingredients[j].Name)
			d.Ingredients[j].Unit = strings.TrimSpace(d.Ingredients[j].Unit)
		}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// Signature is the text a meal is embedded and cached under. Quantities are
// left out so scaling a recipe does not make it a new meal.
func Signature(m GeneratedMeal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", m.Name, m.Description)
	if len(m.DietaryTags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(m.DietaryTags, ", "))
	}
	for _, d := range m.Dishes {
		names := make([]string, 0, len(d.Ingredients))
		for _, ing := range d.Ingredients {
			names = append(names, ing.Name)
		}
		fmt.Fprintf(&b, "Dish: %s (%s)\n", d.Name, strings.Join(names, ", "))
	}
	return strings.TrimSpace(b.String())
}

// SignatureHash keys the safety cache.
func SignatureHash(signature string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(signature))))
	return hex.EncodeToString(sum[:])
}

func toStoreMeal(m GeneratedMeal, creatorID, mealType, signature string, embedding []float32) *store.Meal {
	meal := &store.Meal{
		CreatorID:       creatorID,
		Name:            m.Name,
		Description:     m.Description,
		MealType:        mealType,
		DietaryTags:     m.DietaryTags,
		PantryItemsUsed: m.PantryItemsUsed,
		Signature:       signature,
		Embedding:       embedding,
	}
	for _, d := range m.Dishes {
		dish := store.Dish{Name: d.Name}
		for _, ing := range d.Ingredients {
			dish.Ingredients = append(dish.Ingredients, store.Ingredient{Name: ing.Name, Quantity: ing.Quantity, Unit: ing.Unit})
		}
		meal.Dishes = append(meal.Dishes, dish)
	}
	return meal
}

// FromStoreMeal rebuilds the generated form of a persisted meal.
func FromStoreMeal(m store.Meal) GeneratedMeal {
	out := GeneratedMeal{
		Name:            m.Name,
		Description:     m.Description,
		DietaryTags:     m.DietaryTags,
		PantryItemsUsed: m.PantryItemsUsed,
	}
	for _, d := range m.Dishes {
		dish := GeneratedDish{Name: d.Name}
		for _, ing := range d.Ingredients {
			dish.Ingredients = append(dish.Ingredients, GeneratedIngredient{Name: ing.Name, Quantity: ing.Quantity, Unit: ing.Unit})
		}
		out.Dishes = append(out.Dishes, dish)
	}
	return out
}

func storedSignature(m store.Meal) string {
	if m.Signature != "" {
		return m.Signature
	}
	return Signature(FromStoreMeal(m))
}
