package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"souschef/mealgen"
	"souschef/shopping"
	"souschef/store"
)

// Store is the persistence the tools use.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	SetDietaryProfile(ctx context.Context, userID string, preferences []string, allergies []string) (*store.User, error)
	ListPantry(ctx context.Context, userID string) ([]store.PantryItem, error)
	AddPantryItem(ctx context.Context, item *store.PantryItem) error
	PlanForWeek(ctx context.Context, userID string, weekStart time.Time) (*store.MealPlan, error)
	SendChefMessage(ctx context.Context, msg *store.ChefMessage) error
}

// Planner generates meals into plans.
type Planner interface {
	GenerateWeek(ctx context.Context, user *store.User, weekStart time.Time, mealTypes []string) (*mealgen.WeekResult, error)
	ReplaceMeal(ctx context.Context, user *store.User, planID string, day time.Time, mealType, notes string) (*mealgen.Result, error)
}

type ShoppingLists interface {
	ForPlan(ctx context.Context, userID, planID string) (*shopping.List, error)
}

// ChefNotifier tells chefs about new messages.
type ChefNotifier interface {
	NotifyChef(ctx context.Context, chef, from, body string) error
}

type Deps struct {
	Store    Store
	Planner  Planner
	Shopping ShoppingLists
	// Notifier is optional; messages are stored either way.
	Notifier ChefNotifier
	// DashboardURL is the base URL of the web dashboard.
	DashboardURL string
	Now          func() time.Time
}

// Registry maps tool names to implementations
type Registry map[string]Tool

// NewRegistry creates every assistant tool.
func NewRegistry(deps Deps) Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	all := []Tool{
		NewGetPantryItems(deps),
		NewAddPantryItem(deps),
		NewGetMealPlan(deps),
		NewGenerateMealPlan(deps),
		NewReplaceMeal(deps),
		NewGenerateShoppingList(deps),
		NewGetUserProfile(deps),
		NewUpdateDietaryPreferences(deps),
		NewNavigateToPage(deps),
		NewSendMessageToChef(deps),
	}
	r := make(Registry, len(all))
	for _, t := range all {
		r[t.Name()] = t
	}
	return r
}

// GetTools returns all tools sorted by name.
func (r Registry) GetTools() []Tool {
	tools := make([]Tool, 0, len(r))
	for _, tool := range r {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetTool retrieves a tool by name from the registry
func (r Registry) GetTool(name string) (Tool, error) {
	tool, exists := r[name]
	if !exists {
		return nil, fmt.Errorf("tool %q not found in registry", name)
	}
	return tool, nil
}

// currentUser loads the user the context acts for.
func currentUser(ctx context.Context, s Store) (*store.User, error) {
	id, err := UserIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}
