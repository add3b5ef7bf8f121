package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

func (s *Store) GetSafetyCheck(ctx context.Context, signatureHash, preferenceKey string) (*MealSafetyCheck, error) {
	var c MealSafetyCheck
	err := s.db.WithContext(ctx).
		First(&c, "signature_hash = ? AND preference_key = ?", signatureHash, preferenceKey).Error
	if err != nil {
		return nil, wrapNotFound(err, "safety check")
	}
	return &c, nil
}

// SaveSafetyCheck upserts a verdict on (signature hash, preference key).
func (s *Store) SaveSafetyCheck(ctx context.Context, c *MealSafetyCheck) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature_hash"}, {Name: "preference_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"passed", "reason", "checked_at"}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("save safety check: %w", err)
	}
	return nil
}
