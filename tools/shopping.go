package tools

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"souschef/shopping"
	"souschef/store"
)

type GenerateShoppingList struct{ deps Deps }

func NewGenerateShoppingList(deps Deps) *GenerateShoppingList {
	return &GenerateShoppingList{deps: deps}
}

func (t *GenerateShoppingList) Name() string  { return "generate_shopping_list" }
func (t *GenerateShoppingList) Title() string { return "Generate Shopping List" }
func (t *GenerateShoppingList) Description() string {
	return "Builds the shopping list for a week's meal plan: every ingredient needed minus what the pantry already has, grouped by aisle."
}

func (t *GenerateShoppingList) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{"week_of": weekOfSchema()},
	}
}

func (t *GenerateShoppingList) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status":     str(),
			"plan_id":    str(),
			"categories": {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
			"conflicts":  {Type: "array", Items: str()},
			"text":       str(),
		},
		Required: []string{"status"},
	}
}

func (t *GenerateShoppingList) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	weekOf, err := dateArg(input, "week_of", t.deps.Now())
	if err != nil {
		return nil, err
	}
	plan, err := t.deps.Store.PlanForWeek(ctx, userID, weekOf)
	if errors.Is(err, store.ErrNotFound) {
		return toMap(map[string]any{
			"status":     "no_plan",
			"week_start": store.WeekStart(weekOf).Format(time.DateOnly),
		})
	}
	if err != nil {
		return nil, err
	}
	list, err := t.deps.Shopping.ForPlan(ctx, userID, plan.ID)
	if err != nil {
		return nil, err
	}
	categories := list.ByCategory()
	if categories == nil {
		categories = []shopping.CategoryGroup{}
	}
	return toMap(map[string]any{
		"status":     "ok",
		"plan_id":    list.PlanID,
		"categories": categories,
		"conflicts":  list.Conflicts,
		"text":       shopping.Text(list),
	})
}
