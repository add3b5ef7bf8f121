package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GetOrCreatePlan returns the user's plan for the week containing weekStart.
func (s *Store) GetOrCreatePlan(ctx context.Context, userID string, weekStart time.Time) (*MealPlan, error) {
	start := WeekStart(weekStart)
	plan := MealPlan{UserID: userID, WeekStart: start, WeekEnd: start.AddDate(0, 0, 6)}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND week_start = ?", userID, start).
		FirstOrCreate(&plan).Error
	if err != nil {
		return nil, fmt.Errorf("get or create plan: %w", err)
	}
	return s.GetPlan(ctx, plan.ID)
}

// GetPlan loads a plan with its slots, meals and dishes.
func (s *Store) GetPlan(ctx context.Context, id string) (*MealPlan, error) {
	var plan MealPlan
	err := s.db.WithContext(ctx).
		Preload("Meals", func(db *gorm.DB) *gorm.DB { return db.Order("day, meal_type") }).
		Preload("Meals.Meal.Dishes").
		First(&plan, "id = ?", id).Error
	if err != nil {
		return nil, wrapNotFound(err, "get plan "+id)
	}
	return &plan, nil
}

func (s *Store) PlanForWeek(ctx context.Context, userID string, weekStart time.Time) (*MealPlan, error) {
	var plan MealPlan
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND week_start = ?", userID, WeekStart(weekStart)).
		First(&plan).Error
	if err != nil {
		return nil, wrapNotFound(err, "plan for week")
	}
	return s.GetPlan(ctx, plan.ID)
}

// AssignSlot places a meal in the (day, meal type) slot of a plan, replacing
// whatever was there. Usages recorded for a replaced meal are dropped.
func (s *Store) AssignSlot(ctx context.Context, planID string, day time.Time, mealType, mealID string) (*MealPlanMeal, error) {
	d := DateOf(day)
	var slot MealPlanMeal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("meal_plan_id = ? AND day = ? AND meal_type = ?", planID, d, mealType).First(&slot).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			slot = MealPlanMeal{MealPlanID: planID, Day: d, MealType: mealType, MealID: mealID}
			return tx.Create(&slot).Error
		case err != nil:
			return err
		}
		if err := tx.Where("meal_plan_meal_id = ?", slot.ID).Delete(&PantryUsage{}).Error; err != nil {
			return err
		}
		slot.MealID = mealID
		return tx.Model(&slot).Update("meal_id", mealID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("assign slot: %w", err)
	}
	return &slot, nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (*MealPlanMeal, error) {
	var slot MealPlanMeal
	if err := s.db.WithContext(ctx).Preload("Meal.Dishes").First(&slot, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err, "get slot "+id)
	}
	return &slot, nil
}
