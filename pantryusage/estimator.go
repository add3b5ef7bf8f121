package pantryusage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"souschef/llm"
	"souschef/store"
)

// ErrStaleTask means the slot no longer holds the task's meal.
var ErrStaleTask = errors.New("plan slot no longer holds the meal")

var validate = validator.New()

type Repository interface {
	GetSlot(ctx context.Context, id string) (*store.MealPlanMeal, error)
	ListPantry(ctx context.Context, userID string) ([]store.PantryItem, error)
	ReservedQuantitiesExcept(ctx context.Context, userID, excludePlanMealID string) (map[string]float64, error)
	ReplacePantryUsages(ctx context.Context, planMealID string, usages []store.PantryUsage) error
}

type usageReply struct {
	Usages []usageLine `json:"usages" validate:"dive"`
}

type usageLine struct {
	PantryItemID string  `json:"pantry_item_id" validate:"required"`
	QuantityUsed float64 `json:"quantity_used" validate:"gte=0"`
	Unit         string  `json:"unit"`
}

const systemPrompt = `You estimate how much of a household's pantry a planned meal uses.
Only use pantry items from the list, by their id, and never more than the available quantity.
Leave out items the meal does not use.
Reply with a single JSON object and nothing else:
{"usages": [{"pantry_item_id": "id from the list", "quantity_used": number, "unit": "unit of the pantry item"}]}`

// Estimator asks the model which pantry items a meal consumes and records
// the answer against the plan slot.
type Estimator struct {
	client llm.Client
	repo   Repository
}

func NewEstimator(client llm.Client, repo Repository) *Estimator {
	return &Estimator{client: client, repo: repo}
}

// Process estimates and stores the usages for one task.
func (e *Estimator) Process(ctx context.Context, task Task) error {
	_, err := e.Estimate(ctx, task)
	return err
}

// Estimate replaces the slot's recorded usages and returns them. Quantities
// are clamped to what is left of each item after every other slot's usages,
// the same plan's included.
func (e *Estimator) Estimate(ctx context.Context, task Task) ([]store.PantryUsage, error) {
	slot, err := e.repo.GetSlot(ctx, task.PlanMealID)
	if err != nil {
		return nil, err
	}
	if slot.MealID != task.MealID || slot.Meal == nil {
		return nil, fmt.Errorf("%w: slot %s", ErrStaleTask, task.PlanMealID)
	}

	pantry, err := e.repo.ListPantry(ctx, task.UserID)
	if err != nil {
		return nil, err
	}
	if len(pantry) == 0 {
		return nil, e.repo.ReplacePantryUsages(ctx, slot.ID, nil)
	}
	reserved, err := e.repo.ReservedQuantitiesExcept(ctx, task.UserID, slot.ID)
	if err != nil {
		return nil, err
	}
	available := make(map[string]float64, len(pantry))
	byID := make(map[string]store.PantryItem, len(pantry))
	for _, it := range pantry {
		byID[it.ID] = it
		available[it.ID] = math.Max(it.Quantity-reserved[it.ID], 0)
	}

	resp, err := e.client.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(systemPrompt),
			llm.User(userPrompt(slot.Meal, pantry, available)),
		},
		JSON:        true,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	var reply usageReply
	if err := llm.DecodeJSON(resp.Content, &reply); err != nil {
		return nil, err
	}
	if err := validate.Struct(reply); err != nil {
		return nil, fmt.Errorf("invalid usage reply: %w", err)
	}

	usages := reconcile(reply.Usages, byID, available, slot.MealID)
	if err := e.repo.ReplacePantryUsages(ctx, slot.ID, usages); err != nil {
		return nil, err
	}
	slog.Info("PANTRY_USAGE: Recorded usages", "plan_meal_id", slot.ID, "meal_id", slot.MealID, "items", len(usages))
	return usages, nil
}

// reconcile drops unknown items, merges repeated lines and clamps each item
// to its available quantity.
func reconcile(lines []usageLine, byID map[string]store.PantryItem, available map[string]float64, mealID string) []store.PantryUsage {
	var out []store.PantryUsage
	index := map[string]int{}
	for _, l := range lines {
		id := strings.TrimSpace(l.PantryItemID)
		item, ok := byID[id]
		if !ok {
			slog.Warn("PANTRY_USAGE: Ignoring unknown pantry item", "pantry_item_id", id)
			continue
		}
		if i, seen := index[id]; seen {
			out[i].QuantityUsed += l.QuantityUsed
			continue
		}
		index[id] = len(out)
		out = append(out, store.PantryUsage{
			MealID:       mealID,
			PantryItemID: id,
			QuantityUsed: l.QuantityUsed,
			Unit:         item.Unit,
		})
	}

	kept := out[:0]
	for _, u := range out {
		u.QuantityUsed = math.Min(u.QuantityUsed, available[u.PantryItemID])
		if u.QuantityUsed > 0 {
			kept = append(kept, u)
		}
	}
	return kept
}

func userPrompt(meal *store.Meal, pantry []store.PantryItem, available map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meal: %s\n", meal.Name)
	for _, d := range meal.Dishes {
		fmt.Fprintf(&b, "Dish: %s\n", d.Name)
		for _, ing := range d.Ingredients {
			fmt.Fprintf(&b, "- %s: %g %s\n", ing.Name, ing.Quantity, ing.Unit)
		}
	}
	b.WriteString("\nPantry:\n")
	for _, it := range pantry {
		fmt.Fprintf(&b, "- id=%s %s: %g %s available\n", it.ID, it.Name, available[it.ID], it.Unit)
	}
	return strings.TrimSpace(b.String())
}
