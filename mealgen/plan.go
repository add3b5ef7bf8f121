package mealgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"souschef/store"
)

// SlotFailure records a slot GenerateWeek could not fill.
type SlotFailure struct {
	Day      time.Time `json:"day"`
	MealType string    `json:"meal_type"`
	Error    string    `json:"error"`
}

type WeekResult struct {
	Plan      *store.MealPlan `json:"plan"`
	Generated int             `json:"generated"`
	Skipped   int             `json:"skipped"`
	Failures  []SlotFailure   `json:"failures,omitempty"`
}

// GenerateWeek fills every empty (day, meal type) slot of the user's plan for
// the week containing weekStart. Slots are generated one after another so each
// new meal counts as recent for the next; a failed slot is recorded and the
// rest continue.
func (g *Generator) GenerateWeek(ctx context.Context, user *store.User, weekStart time.Time, mealTypes []string) (*WeekResult, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	if len(mealTypes) == 0 {
		mealTypes = store.MealTypes
	}
	types := make([]string, 0, len(mealTypes))
	for _, mt := range mealTypes {
		norm, ok := store.NormalizeMealType(mt)
		if !ok {
			return nil, fmt.Errorf("%w: unknown meal type %q", ErrInvalidRequest, mt)
		}
		types = append(types, norm)
	}

	plan, err := g.repo.GetOrCreatePlan(ctx, user.ID, weekStart)
	if err != nil {
		return nil, err
	}
	res := &WeekResult{}

	for i := 0; i < 7; i++ {
		day := store.DateOf(plan.WeekStart).AddDate(0, 0, i)
		for _, mt := range types {
			if plan.Slot(day, mt) != nil {
				res.Skipped++
				continue
			}
			_, err := g.Generate(ctx, GenerateRequest{User: user, MealType: mt, Day: day, Plan: plan})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Warn("MEALGEN: Slot failed", "day", day.Format("2006-01-02"), "meal_type", mt, "error", err)
				res.Failures = append(res.Failures, SlotFailure{Day: day, MealType: mt, Error: err.Error()})
				continue
			}
			res.Generated++
		}
	}

	res.Plan, err = g.repo.GetPlan(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	slog.Info("MEALGEN: Week generated",
		"plan_id", plan.ID,
		"generated", res.Generated,
		"skipped", res.Skipped,
		"failed", len(res.Failures),
	)
	return res, nil
}

// ReplaceMeal generates a new meal for a slot. The current meal counts as
// recent so the replacement must differ from it; the slot keeps its meal
// when generation fails.
func (g *Generator) ReplaceMeal(ctx context.Context, user *store.User, planID string, day time.Time, mealType, notes string) (*Result, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	plan, err := g.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != user.ID {
		return nil, ErrPlanNotOwned
	}
	mt, ok := store.NormalizeMealType(mealType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown meal type %q", ErrInvalidRequest, mealType)
	}
	d := store.DateOf(day)
	if d.Before(store.DateOf(plan.WeekStart)) || d.After(store.DateOf(plan.WeekEnd)) {
		return nil, fmt.Errorf("%w: %s is outside the plan's week", ErrInvalidRequest, d.Format("2006-01-02"))
	}

	var exclude []store.Meal
	if slot := plan.Slot(d, mt); slot != nil && slot.Meal != nil {
		exclude = append(exclude, *slot.Meal)
	}
	return g.Generate(ctx, GenerateRequest{
		User:     user,
		MealType: mt,
		Day:      d,
		Plan:     plan,
		Notes:    notes,
		Exclude:  exclude,
	})
}

// SuggestExisting returns stored meals of a type that pass the user's safety
// checks and were not planned within the lookback window. Verdicts come from
// the cache where possible, so suggestions are much cheaper than generating.
func (g *Generator) SuggestExisting(ctx context.Context, user *store.User, mealType string, day time.Time, limit int) ([]store.Meal, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	mt, ok := store.NormalizeMealType(mealType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown meal type %q", ErrInvalidRequest, mealType)
	}
	if limit <= 0 {
		limit = 5
	}

	since := store.WeekStart(day).AddDate(0, 0, -7*g.opts.LookbackWeeks)
	recent, err := g.repo.RecentMeals(ctx, user.ID, since)
	if err != nil {
		return nil, err
	}
	candidates, err := g.repo.ListMealsByType(ctx, mt, limit*5)
	if err != nil {
		return nil, err
	}

	out := make([]store.Meal, 0, limit)
	for _, m := range candidates {
		if len(out) == limit {
			break
		}
		if _, dup := findDuplicate(m.Name, m.Embedding, recent, g.opts.SimilarityThreshold); dup {
			continue
		}
		verdict, err := g.safety.Check(ctx, FromStoreMeal(m), storedSignature(m), user)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			slog.Warn("MEALGEN: Skipping suggestion after failed safety check", "meal_id", m.ID, "error", err)
			continue
		}
		if verdict.Passed {
			out = append(out, m)
		}
	}
	return out, nil
}
