// Package shopping turns a weekly meal plan into the list of ingredients the
// household still has to buy.
package shopping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"souschef/store"
)

var ErrPlanNotOwned = errors.New("meal plan belongs to another user")

const eps = 1e-9

// Categories in the order a shopping list is printed.
const (
	CategoryProduce   = "Produce"
	CategoryProtein   = "Meat & Seafood"
	CategoryDairy     = "Dairy & Eggs"
	CategoryBakery    = "Grains & Bakery"
	CategoryCondiment = "Spices & Condiments"
	CategoryPantry    = "Pantry"
	CategoryOther     = "Other"
)

var categoryOrder = []string{
	CategoryProduce, CategoryProtein, CategoryDairy, CategoryBakery,
	CategoryCondiment, CategoryPantry, CategoryOther,
}

// Checked in order; the first matching keyword wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryCondiment, []string{"salt", "pepper", "cumin", "paprika", "oregano", "cinnamon", "sauce", "vinegar", "mustard", "ketchup", "mayonnaise", "spice", "thyme", "rosemary", "dill"}},
	{CategoryProduce, []string{"lettuce", "spinach", "kale", "tomato", "onion", "garlic", "carrot", "potato", "broccoli", "apple", "banana", "lemon", "lime", "berries", "cucumber", "zucchini", "eggplant", "mushroom", "porcini", "ginger", "basil", "mint", "scallion", "avocado", "beans", "celery"}},
	{CategoryProtein, []string{"chicken", "beef", "pork", "lamb", "turkey", "salmon", "tuna", "cod", "shrimp", "fish", "tofu", "tempeh", "sausage", "bacon"}},
	{CategoryDairy, []string{"milk", "cheese", "butter", "yogurt", "cream", "egg", "parmesan", "mozzarella", "feta"}},
	{CategoryBakery, []string{"bread", "rice", "pasta", "noodle", "flour", "oats", "quinoa", "tortilla", "couscous", "linguine", "arborio", "bun"}},
	{CategoryPantry, []string{"oil", "sugar", "honey", "lentil", "chickpea", "stock", "broth", "nut", "seed"}},
}

// Category guesses the aisle of an ingredient from its name.
func Category(name string) string {
	n := strings.ToLower(name)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(n, w) {
				return c.category
			}
		}
	}
	return CategoryOther
}

type Item struct {
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	Required float64  `json:"required"`
	InPantry float64  `json:"in_pantry"`
	ToBuy    float64  `json:"to_buy"`
	Category string   `json:"category"`
	Meals    []string `json:"meals"`
	// UnitConflict marks an ingredient whose recipes use different units, so
	// no combined quantity could be computed.
	UnitConflict bool `json:"unit_conflict,omitempty"`
}

type List struct {
	PlanID      string    `json:"plan_id"`
	WeekStart   time.Time `json:"week_start"`
	Items       []Item    `json:"items"`
	Conflicts   []string  `json:"conflicts,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ToBuy returns the items that are not fully covered by the pantry.
func (l *List) ToBuy() []Item {
	var out []Item
	for _, it := range l.Items {
		if it.ToBuy > eps || it.UnitConflict {
			out = append(out, it)
		}
	}
	return out
}

// ByCategory groups the items still to buy, in aisle order.
func (l *List) ByCategory() []CategoryGroup {
	groups := map[string][]Item{}
	for _, it := range l.ToBuy() {
		groups[it.Category] = append(groups[it.Category], it)
	}
	var out []CategoryGroup
	for _, c := range categoryOrder {
		if items := groups[c]; len(items) > 0 {
			out = append(out, CategoryGroup{Category: c, Items: items})
		}
	}
	return out
}

type CategoryGroup struct {
	Category string `json:"category"`
	Items    []Item `json:"items"`
}

// Build aggregates the ingredients of every meal in the plan and subtracts
// what the pantry holds. reserved maps pantry item IDs to quantities already
// committed to other plans. Quantities are only combined when units match
// exactly; mismatches are reported in Conflicts.
func Build(plan *store.MealPlan, pantry []store.PantryItem, reserved map[string]float64) *List {
	key := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	type need struct {
		name  string
		unit  string
		qty   float64
		meals []string
	}
	required := map[string]*need{}
	var order []string
	conflicted := map[string]bool{}
	var conflicts []string

	for _, slot := range plan.Meals {
		if slot.Meal == nil {
			continue
		}
		for _, d := range slot.Meal.Dishes {
			for _, ing := range d.Ingredients {
				k := key(ing.Name)
				unit := strings.TrimSpace(ing.Unit)
				if k == "" || !(ing.Quantity > 0) || conflicted[k] {
					continue
				}
				cur, ok := required[k]
				if !ok {
					cur = &need{name: strings.TrimSpace(ing.Name), unit: unit}
					required[k] = cur
					order = append(order, k)
				}
				if cur.unit != unit {
					conflicts = append(conflicts, fmt.Sprintf("unit conflict for %q (%s vs %s)", cur.name, cur.unit, unit))
					conflicted[k] = true
					continue
				}
				cur.qty += ing.Quantity
				if !containsFold(cur.meals, slot.Meal.Name) {
					cur.meals = append(cur.meals, slot.Meal.Name)
				}
			}
		}
	}

	type stock struct {
		qty  float64
		unit string
	}
	onHand := map[string]stock{}
	for _, p := range pantry {
		k := key(p.Name)
		avail := math.Max(p.Quantity-reserved[p.ID], 0)
		cur, ok := onHand[k]
		switch {
		case !ok:
			onHand[k] = stock{qty: avail, unit: strings.TrimSpace(p.Unit)}
		case cur.unit == strings.TrimSpace(p.Unit):
			cur.qty += avail
			onHand[k] = cur
		}
	}

	list := &List{PlanID: plan.ID, WeekStart: plan.WeekStart, GeneratedAt: time.Now()}
	for _, k := range order {
		n := required[k]
		if conflicted[k] {
			list.Items = append(list.Items, Item{Name: n.name, Category: Category(n.name), Meals: n.meals, UnitConflict: true})
			continue
		}
		item := Item{Name: n.name, Unit: n.unit, Required: n.qty, Category: Category(n.name), Meals: n.meals}
		if s, ok := onHand[k]; ok {
			if s.unit == n.unit {
				item.InPantry = s.qty
			} else {
				conflicts = append(conflicts, fmt.Sprintf("unit mismatch for %q (need %s, pantry has %s)", n.name, n.unit, s.unit))
			}
		}
		item.ToBuy = math.Max(item.Required-item.InPantry, 0)
		list.Items = append(list.Items, item)
	}
	sort.SliceStable(list.Items, func(i, j int) bool {
		return strings.ToLower(list.Items[i].Name) < strings.ToLower(list.Items[j].Name)
	})
	sort.Strings(conflicts)
	list.Conflicts = conflicts
	return list
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

// Repository is the persistence a Service needs.
type Repository interface {
	GetPlan(ctx context.Context, id string) (*store.MealPlan, error)
	ListPantry(ctx context.Context, userID string) ([]store.PantryItem, error)
	ReservedQuantities(ctx context.Context, userID, excludePlanID string) (map[string]float64, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ForPlan builds the shopping list of one of the user's plans.
func (s *Service) ForPlan(ctx context.Context, userID, planID string) (*List, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, ErrPlanNotOwned
	}
	pantry, err := s.repo.ListPantry(ctx, userID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.repo.ReservedQuantities(ctx, userID, plan.ID)
	if err != nil {
		return nil, err
	}
	return Build(plan, pantry, reserved), nil
}
