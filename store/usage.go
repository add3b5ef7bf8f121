package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ReplacePantryUsages swaps the usages recorded for one plan slot.
func (s *Store) ReplacePantryUsages(ctx context.Context, planMealID string, usages []PantryUsage) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meal_plan_meal_id = ?", planMealID).Delete(&PantryUsage{}).Error; err != nil {
			return err
		}
		if len(usages) == 0 {
			return nil
		}
		for i := range usages {
			usages[i].MealPlanMealID = planMealID
		}
		return tx.Create(&usages).Error
	})
	if err != nil {
		return fmt.Errorf("replace pantry usages: %w", err)
	}
	return nil
}

func (s *Store) PantryUsagesForSlot(ctx context.Context, planMealID string) ([]PantryUsage, error) {
	var usages []PantryUsage
	if err := s.db.WithContext(ctx).Where("meal_plan_meal_id = ?", planMealID).Find(&usages).Error; err != nil {
		return nil, fmt.Errorf("pantry usages: %w", err)
	}
	return usages, nil
}

// ReservedQuantities sums the usage of each of the user's pantry items by
// plans other than excludePlanID.
func (s *Store) ReservedQuantities(ctx context.Context, userID, excludePlanID string) (map[string]float64, error) {
	return s.reserved(ctx, userID, "meal_plan_meals.meal_plan_id <> ?", excludePlanID)
}

// ReservedQuantitiesExcept sums the usage of each of the user's pantry items
// by every plan slot other than excludePlanMealID, including the other slots
// of the same plan.
func (s *Store) ReservedQuantitiesExcept(ctx context.Context, userID, excludePlanMealID string) (map[string]float64, error) {
	return s.reserved(ctx, userID, "meal_plan_meals.id <> ?", excludePlanMealID)
}

func (s *Store) reserved(ctx context.Context, userID, exclude, arg string) (map[string]float64, error) {
	var rows []struct {
		PantryItemID string
		Total        float64
	}
	err := s.db.WithContext(ctx).
		Table("pantry_usages").
		Select("pantry_usages.pantry_item_id AS pantry_item_id, SUM(pantry_usages.quantity_used) AS total").
		Joins("JOIN pantry_items ON pantry_items.id = pantry_usages.pantry_item_id").
		Joins("JOIN meal_plan_meals ON meal_plan_meals.id = pantry_usages.meal_plan_meal_id").
		Where("pantry_items.user_id = ?", userID).
		Where(exclude, arg).
		Group("pantry_usages.pantry_item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("reserved quantities: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.PantryItemID] = r.Total
	}
	return out, nil
}
