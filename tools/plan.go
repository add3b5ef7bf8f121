package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"souschef/store"
)

type plannedMeal struct {
	MealType    string   `json:"meal_type"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Dishes      []string `json:"dishes,omitempty"`
}

type plannedDay struct {
	Date    string        `json:"date"`
	Weekday string        `json:"weekday"`
	Meals   []plannedMeal `json:"meals"`
}

type planOut struct {
	Status    string       `json:"status"`
	PlanID    string       `json:"plan_id,omitempty"`
	WeekStart string       `json:"week_start"`
	Days      []plannedDay `json:"days"`
}

// summarizePlan lays out a plan day by day, empty days included.
func summarizePlan(plan *store.MealPlan) planOut {
	out := planOut{Status: "ok", PlanID: plan.ID, WeekStart: plan.WeekStart.Format(time.DateOnly)}
	for i := 0; i < 7; i++ {
		day := store.DateOf(plan.WeekStart).AddDate(0, 0, i)
		pd := plannedDay{Date: day.Format(time.DateOnly), Weekday: day.Weekday().String(), Meals: []plannedMeal{}}
		for _, mt := range store.MealTypes {
			slot := plan.Slot(day, mt)
			if slot == nil || slot.Meal == nil {
				continue
			}
			pm := plannedMeal{MealType: mt, Name: slot.Meal.Name, Description: slot.Meal.Description}
			for _, d := range slot.Meal.Dishes {
				pm.Dishes = append(pm.Dishes, d.Name)
			}
			pd.Meals = append(pd.Meals, pm)
		}
		out.Days = append(out.Days, pd)
	}
	return out
}

func weekOfSchema() *jsonschema.Schema {
	return describedString("Any date (YYYY-MM-DD) in the week. Defaults to the current week.")
}

type GetMealPlan struct{ deps Deps }

func NewGetMealPlan(deps Deps) *GetMealPlan { return &GetMealPlan{deps: deps} }

func (t *GetMealPlan) Name() string  { return "get_meal_plan" }
func (t *GetMealPlan) Title() string { return "Get Meal Plan" }
func (t *GetMealPlan) Description() string {
	return "Returns the user's meal plan for a week, day by day."
}

func (t *GetMealPlan) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{"week_of": weekOfSchema()},
	}
}

func (t *GetMealPlan) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status":     {Type: "string", Enum: []any{"ok", "empty"}},
			"plan_id":    str(),
			"week_start": str(),
			"days":       {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
		},
		Required: []string{"status", "week_start"},
	}
}

func (t *GetMealPlan) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
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
		return toMap(planOut{Status: "empty", WeekStart: store.WeekStart(weekOf).Format(time.DateOnly)})
	}
	if err != nil {
		return nil, err
	}
	return toMap(summarizePlan(plan))
}

type GenerateMealPlan struct{ deps Deps }

func NewGenerateMealPlan(deps Deps) *GenerateMealPlan { return &GenerateMealPlan{deps: deps} }

func (t *GenerateMealPlan) Name() string  { return "generate_meal_plan" }
func (t *GenerateMealPlan) Title() string { return "Generate Meal Plan" }
func (t *GenerateMealPlan) Description() string {
	return "Fills every empty slot of the user's weekly meal plan with new meals that respect their diet, allergies and pantry. Existing meals are kept."
}

func (t *GenerateMealPlan) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"week_of": weekOfSchema(),
			"meal_types": {
				Type:        "array",
				Description: "Meal types to plan. Defaults to all.",
				Items:       &jsonschema.Schema{Type: "string", Enum: []any{store.MealTypeBreakfast, store.MealTypeLunch, store.MealTypeDinner}},
			},
		},
	}
}

func (t *GenerateMealPlan) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status":    str(),
			"plan_id":   str(),
			"generated": {Type: "integer"},
			"skipped":   {Type: "integer"},
			"failures":  {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
			"plan":      {Type: "object"},
		},
		Required: []string{"status", "plan_id", "generated"},
	}
}

func (t *GenerateMealPlan) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	user, err := currentUser(ctx, t.deps.Store)
	if err != nil {
		return nil, err
	}
	weekOf, err := dateArg(input, "week_of", t.deps.Now())
	if err != nil {
		return nil, err
	}
	mealTypes, _ := stringsArg(input, "meal_types")

	res, err := t.deps.Planner.GenerateWeek(ctx, user, weekOf, mealTypes)
	if err != nil {
		return nil, err
	}
	type failure struct {
		Date     string `json:"date"`
		MealType string `json:"meal_type"`
		Error    string `json:"error"`
	}
	failures := make([]failure, 0, len(res.Failures))
	for _, f := range res.Failures {
		failures = append(failures, failure{Date: f.Day.Format(time.DateOnly), MealType: f.MealType, Error: f.Error})
	}
	status := "complete"
	if len(failures) > 0 {
		status = "partial"
	}
	return toMap(map[string]any{
		"status":    status,
		"plan_id":   res.Plan.ID,
		"generated": res.Generated,
		"skipped":   res.Skipped,
		"failures":  failures,
		"plan":      summarizePlan(res.Plan),
	})
}

type ReplaceMeal struct{ deps Deps }

func NewReplaceMeal(deps Deps) *ReplaceMeal { return &ReplaceMeal{deps: deps} }

func (t *ReplaceMeal) Name() string  { return "replace_meal" }
func (t *ReplaceMeal) Title() string { return "Replace Meal" }
func (t *ReplaceMeal) Description() string {
	return "Replaces the meal planned for a date and meal type with a different new meal. Notes can steer the replacement."
}

func (t *ReplaceMeal) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"date":      describedString("YYYY-MM-DD"),
			"meal_type": {Type: "string", Enum: []any{store.MealTypeBreakfast, store.MealTypeLunch, store.MealTypeDinner}},
			"notes":     describedString("What the user wants instead, e.g. something quicker."),
		},
		Required: []string{"date", "meal_type"},
	}
}

func (t *ReplaceMeal) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status":   str(),
			"date":     str(),
			"meal":     {Type: "object"},
			"attempts": {Type: "integer"},
		},
		Required: []string{"status", "meal"},
	}
}

func (t *ReplaceMeal) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	user, err := currentUser(ctx, t.deps.Store)
	if err != nil {
		return nil, err
	}
	if _, err := requiredString(input, "date"); err != nil {
		return nil, err
	}
	day, err := dateArg(input, "date", time.Time{})
	if err != nil {
		return nil, err
	}
	mealType, err := requiredString(input, "meal_type")
	if err != nil {
		return nil, err
	}

	plan, err := t.deps.Store.PlanForWeek(ctx, user.ID, day)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no meal plan for the week of %s", store.WeekStart(day).Format(time.DateOnly))
	}
	if err != nil {
		return nil, err
	}
	res, err := t.deps.Planner.ReplaceMeal(ctx, user, plan.ID, day, mealType, stringArg(input, "notes"))
	if err != nil {
		return nil, err
	}
	meal := plannedMeal{MealType: res.Meal.MealType, Name: res.Meal.Name, Description: res.Meal.Description}
	for _, d := range res.Meal.Dishes {
		meal.Dishes = append(meal.Dishes, d.Name)
	}
	return toMap(map[string]any{
		"status":   "replaced",
		"date":     day.Format(time.DateOnly),
		"meal":     meal,
		"attempts": res.Attempts,
	})
}
