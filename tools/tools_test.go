package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef/mealgen"
	"souschef/shopping"
	"souschef/store"
)

var now = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

type fakePlanner struct {
	s        *store.Store
	replaced []string
}

// GenerateWeek places a fixed meal on Monday dinner.
func (f *fakePlanner) GenerateWeek(ctx context.Context, user *store.User, weekStart time.Time, mealTypes []string) (*mealgen.WeekResult, error) {
	plan, err := f.s.GetOrCreatePlan(ctx, user.ID, weekStart)
	if err != nil {
		return nil, err
	}
	meal := &store.Meal{CreatorID: user.ID, Name: "Lentil Soup", MealType: store.MealTypeDinner,
		Dishes: []store.Dish{{Name: "Soup", Ingredients: []store.Ingredient{{Name: "lentils", Quantity: 200, Unit: "g"}}}}}
	if err := f.s.CreateMeal(ctx, meal); err != nil {
		return nil, err
	}
	if _, err := f.s.AssignSlot(ctx, plan.ID, plan.WeekStart, store.MealTypeDinner, meal.ID); err != nil {
		return nil, err
	}
	plan, err = f.s.GetPlan(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	return &mealgen.WeekResult{
		Plan:      plan,
		Generated: 1,
		Failures:  []mealgen.SlotFailure{{Day: plan.WeekStart.AddDate(0, 0, 1), MealType: store.MealTypeDinner, Error: "attempts exhausted"}},
	}, nil
}

func (f *fakePlanner) ReplaceMeal(ctx context.Context, user *store.User, planID string, day time.Time, mealType, notes string) (*mealgen.Result, error) {
	f.replaced = append(f.replaced, planID+"|"+day.Format(time.DateOnly)+"|"+mealType+"|"+notes)
	return &mealgen.Result{Meal: &store.Meal{Name: "Salmon Bowl", MealType: store.MealTypeDinner}, Attempts: 2}, nil
}

type env struct {
	store    *store.Store
	user     *store.User
	planner  *fakePlanner
	registry Registry
	ctx      context.Context
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	user := &store.User{Username: "ana", Email: "ana@example.com", PhoneNumber: "+1 555 0100", Allergies: []string{"peanuts"}}
	require.NoError(t, s.CreateUser(ctx, user))
	planner := &fakePlanner{s: s}
	reg := NewRegistry(Deps{
		Store:        s,
		Planner:      planner,
		Shopping:     shopping.NewService(s),
		DashboardURL: "https://app.example.com/",
		Now:          func() time.Time { return now },
	})
	return env{store: s, user: user, planner: planner, registry: reg, ctx: WithUserID(ctx, user.ID)}
}

func (e env) run(t *testing.T, name string, input map[string]any) map[string]any {
	t.Helper()
	tool, err := e.registry.GetTool(name)
	require.NoError(t, err)
	out, err := tool.Run(e.ctx, input)
	require.NoError(t, err)
	return out
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(Deps{})
	var names []string
	for _, tool := range reg.GetTools() {
		names = append(names, tool.Name())
		assert.NotEmpty(t, tool.Title())
		assert.NotEmpty(t, tool.Description())
		assert.Equal(t, "object", tool.InputSchema().Type)
		assert.Equal(t, "object", tool.OutputSchema().Type)
	}
	assert.Equal(t, []string{
		"add_pantry_item", "generate_meal_plan", "generate_shopping_list", "get_meal_plan",
		"get_pantry_items", "get_user_profile", "navigate_to_page", "replace_meal",
		"send_message_to_chef", "update_dietary_preferences",
	}, names)

	_, err := reg.GetTool("get_recipes")
	assert.Error(t, err)
}

func TestTools_RequireUser(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"get_pantry_items", "get_meal_plan", "get_user_profile", "generate_shopping_list"} {
		tool, err := e.registry.GetTool(name)
		require.NoError(t, err)
		_, err = tool.Run(context.Background(), map[string]any{})
		assert.ErrorIs(t, err, ErrNoUser, name)
	}
}

func TestPantryTools(t *testing.T) {
	e := newEnv(t)

	added := e.run(t, "add_pantry_item", map[string]any{
		"name": "spinach", "quantity": 200.0, "unit": "g", "item_type": "Fresh", "expiration_date": "2025-03-14",
	})
	assert.Equal(t, "added", added["status"])
	e.run(t, "add_pantry_item", map[string]any{"name": "rice", "quantity": 2.0, "unit": "kg"})

	out := e.run(t, "get_pantry_items", map[string]any{})
	assert.Equal(t, 2.0, out["count"])
	items := out["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, "spinach", first["name"])
	assert.Equal(t, 2.0, first["days_left"])
	assert.Equal(t, "2025-03-14", first["expiration_date"])
	second := items[1].(map[string]any)
	assert.Equal(t, float64(store.NoExpiryDaysLeft), second["days_left"])
	assert.Equal(t, store.ItemTypeOther, second["item_type"])

	expiring := e.run(t, "get_pantry_items", map[string]any{"expiring_within_days": 3.0})
	assert.Equal(t, 1.0, expiring["count"])
}

func TestAddPantryItem_InvalidInput(t *testing.T) {
	e := newEnv(t)
	tool, err := e.registry.GetTool("add_pantry_item")
	require.NoError(t, err)

	tests := []map[string]any{
		{"quantity": 1.0},
		{"name": "rice"},
		{"name": "rice", "quantity": -1.0},
		{"name": "rice", "quantity": 1.0, "expiration_date": "next week"},
	}
	for _, in := range tests {
		_, err := tool.Run(e.ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput, "%v", in)
	}
}

func TestMealPlanTools(t *testing.T) {
	e := newEnv(t)

	empty := e.run(t, "get_meal_plan", map[string]any{})
	assert.Equal(t, "empty", empty["status"])
	assert.Equal(t, "2025-03-10", empty["week_start"])

	gen := e.run(t, "generate_meal_plan", map[string]any{"meal_types": []any{"Dinner"}})
	assert.Equal(t, "partial", gen["status"])
	assert.Equal(t, 1.0, gen["generated"])
	failures := gen["failures"].([]any)
	assert.Equal(t, "2025-03-11", failures[0].(map[string]any)["date"])

	plan := e.run(t, "get_meal_plan", map[string]any{"week_of": "2025-03-16"})
	assert.Equal(t, "ok", plan["status"])
	days := plan["days"].([]any)
	require.Len(t, days, 7)
	monday := days[0].(map[string]any)
	assert.Equal(t, "Monday", monday["weekday"])
	meals := monday["meals"].([]any)
	require.Len(t, meals, 1)
	assert.Equal(t, "Lentil Soup", meals[0].(map[string]any)["name"])
	assert.Empty(t, days[1].(map[string]any)["meals"])

	replaced := e.run(t, "replace_meal", map[string]any{"date": "2025-03-10", "meal_type": "Dinner", "notes": "lighter"})
	assert.Equal(t, "replaced", replaced["status"])
	assert.Equal(t, "Salmon Bowl", replaced["meal"].(map[string]any)["name"])
	require.Len(t, e.planner.replaced, 1)
	assert.Equal(t, plan["plan_id"].(string)+"|2025-03-10|Dinner|lighter", e.planner.replaced[0])
}

func TestReplaceMeal_NoPlan(t *testing.T) {
	e := newEnv(t)
	tool, err := e.registry.GetTool("replace_meal")
	require.NoError(t, err)

	_, err = tool.Run(e.ctx, map[string]any{"date": "2025-04-01", "meal_type": "Lunch"})
	assert.ErrorContains(t, err, "no meal plan for the week of 2025-03-31")

	_, err = tool.Run(e.ctx, map[string]any{"meal_type": "Lunch"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGenerateShoppingList(t *testing.T) {
	e := newEnv(t)

	none := e.run(t, "generate_shopping_list", map[string]any{})
	assert.Equal(t, "no_plan", none["status"])

	e.run(t, "generate_meal_plan", map[string]any{})
	e.run(t, "add_pantry_item", map[string]any{"name": "Lentils", "quantity": 50.0, "unit": "g"})

	out := e.run(t, "generate_shopping_list", map[string]any{})
	assert.Equal(t, "ok", out["status"])
	cats := out["categories"].([]any)
	require.Len(t, cats, 1)
	item := cats[0].(map[string]any)["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "lentils", item["name"])
	assert.Equal(t, 150.0, item["to_buy"])
	assert.Contains(t, out["text"], "- lentils: 150 g")
}

func TestProfileTools(t *testing.T) {
	e := newEnv(t)

	out := e.run(t, "get_user_profile", nil)
	p := out["profile"].(map[string]any)
	assert.Equal(t, "ana", p["username"])
	assert.Equal(t, "ana@example.com", p["email"])
	assert.Equal(t, []any{"peanuts"}, p["allergies"])

	updated := e.run(t, "update_dietary_preferences", map[string]any{"dietary_preferences": []any{"Vegetarian", "Halal"}})
	up := updated["profile"].(map[string]any)
	assert.ElementsMatch(t, []any{"Vegetarian", "Halal"}, up["dietary_preferences"])
	assert.Equal(t, []any{"peanuts"}, up["allergies"], "allergies are kept when omitted")

	cleared := e.run(t, "update_dietary_preferences", map[string]any{"dietary_preferences": []any{}, "allergies": []any{}})
	cp := cleared["profile"].(map[string]any)
	assert.Empty(t, cp["dietary_preferences"])
	assert.Empty(t, cp["allergies"])
}

func TestNavigateToPage(t *testing.T) {
	e := newEnv(t)
	out := e.run(t, "navigate_to_page", map[string]any{"page": "shopping_list"})
	assert.Equal(t, "https://app.example.com/shopping-list", out["url"])

	tool, _ := e.registry.GetTool("navigate_to_page")
	_, err := tool.Run(e.ctx, map[string]any{"page": "admin"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendMessageToChef(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.CreateUser(context.Background(), &store.User{Username: "chef_marco"}))

	out := e.run(t, "send_message_to_chef", map[string]any{"chef_username": "chef_marco", "message": "Can you cook on Friday?"})
	assert.Equal(t, "sent", out["status"])

	_, notified := out["notified"]
	assert.False(t, notified, "no notifier configured")

	tool, _ := e.registry.GetTool("send_message_to_chef")
	_, err := tool.Run(e.ctx, map[string]any{"chef_username": "nobody", "message": "hi"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) NotifyChef(_ context.Context, chef, from, body string) error {
	f.sent = append(f.sent, chef+"|"+from+"|"+body)
	return f.err
}

func TestSendMessageToChef_Notifies(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.CreateUser(context.Background(), &store.User{Username: "chef_marco"}))

	tests := []struct {
		name     string
		err      error
		notified bool
	}{
		{name: "delivered", notified: true},
		{name: "webhook down", err: errors.New("slack webhook: 500"), notified: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{err: tt.err}
			tool := NewSendMessageToChef(Deps{Store: e.store, Notifier: n})
			out, err := tool.Run(e.ctx, map[string]any{"chef_username": "chef_marco", "message": "Gluten-free options?"})
			require.NoError(t, err)
			assert.Equal(t, "sent", out["status"])
			assert.Equal(t, tt.notified, out["notified"])
			assert.Equal(t, []string{"chef_marco|ana|Gluten-free options?"}, n.sent)
		})
	}
}

func TestStringsArg(t *testing.T) {
	got, ok := stringsArg(map[string]any{"x": []any{" a ", "", 3.0, "b"}}, "x")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	got, ok = stringsArg(map[string]any{"x": "vegan, halal"}, "x")
	assert.True(t, ok)
	assert.Equal(t, []string{"vegan", "halal"}, got)

	_, ok = stringsArg(map[string]any{}, "x")
	assert.False(t, ok)
}
