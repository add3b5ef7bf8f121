package store

import (
	"context"
	"fmt"
	"time"
)

// CreateMeal persists a meal together with its dishes.
func (s *Store) CreateMeal(ctx context.Context, m *Meal) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create meal: %w", err)
	}
	return nil
}

func (s *Store) GetMeal(ctx context.Context, id string) (*Meal, error) {
	var m Meal
	if err := s.db.WithContext(ctx).Preload("Dishes").First(&m, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err, "get meal "+id)
	}
	return &m, nil
}

// RecentMeals returns the distinct meals placed in the user's plans whose
// week starts on or after since.
func (s *Store) RecentMeals(ctx context.Context, userID string, since time.Time) ([]Meal, error) {
	db := s.db.WithContext(ctx)
	planned := db.Table("meal_plan_meals").
		Select("meal_plan_meals.meal_id").
		Joins("JOIN meal_plans ON meal_plans.id = meal_plan_meals.meal_plan_id").
		Where("meal_plans.user_id = ? AND meal_plans.week_start >= ?", userID, DateOf(since))

	var meals []Meal
	if err := db.Preload("Dishes").Where("id IN (?)", planned).Order("created_at").Find(&meals).Error; err != nil {
		return nil, fmt.Errorf("recent meals: %w", err)
	}
	return meals, nil
}

// ListMealsByType returns stored meals of a type, newest first.
func (s *Store) ListMealsByType(ctx context.Context, mealType string, limit int) ([]Meal, error) {
	q := s.db.WithContext(ctx).Preload("Dishes").Where("meal_type = ?", mealType).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var meals []Meal
	if err := q.Find(&meals).Error; err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	return meals, nil
}
