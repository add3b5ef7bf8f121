package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ListPantry returns the user's pantry, soonest expiry first and
// non-expiring items last.
func (s *Store) ListPantry(ctx context.Context, userID string) ([]PantryItem, error) {
	var items []PantryItem
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list pantry: %w", err)
	}
	SortByExpiry(items)
	return items, nil
}

func (s *Store) AddPantryItem(ctx context.Context, item *PantryItem) error {
	if item.ExpirationDate != nil {
		d := DateOf(*item.ExpirationDate)
		item.ExpirationDate = &d
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("add pantry item: %w", err)
	}
	return nil
}

// ExpiringWithin returns items whose expiry falls within days of now,
// already-expired items included.
func ExpiringWithin(items []PantryItem, now time.Time, days int) []PantryItem {
	out := make([]PantryItem, 0)
	for _, it := range items {
		if it.ExpirationDate != nil && it.DaysLeft(now) <= days {
			out = append(out, it)
		}
	}
	return out
}

func SortByExpiry(items []PantryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].ExpirationDate, items[j].ExpirationDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}
