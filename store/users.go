package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Preload("DietaryPreferences").First(&u, "id = ?", id).Error
	if err != nil {
		return nil, wrapNotFound(err, "get user "+id)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Preload("DietaryPreferences").First(&u, "username = ?", username).Error
	if err != nil {
		return nil, wrapNotFound(err, "get user "+username)
	}
	return &u, nil
}

// SetDietaryProfile replaces the user's dietary preferences, creating
// unknown preference names. A nil allergies slice leaves allergies as they are.
func (s *Store) SetDietaryProfile(ctx context.Context, userID string, preferences []string, allergies []string) (*User, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.First(&u, "id = ?", userID).Error; err != nil {
			return wrapNotFound(err, "get user "+userID)
		}

		prefs := make([]DietaryPreference, 0, len(preferences))
		for _, name := range preferences {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			var p DietaryPreference
			if err := tx.Where(DietaryPreference{Name: name}).FirstOrCreate(&p).Error; err != nil {
				return fmt.Errorf("dietary preference %q: %w", name, err)
			}
			prefs = append(prefs, p)
		}
		if err := tx.Model(&u).Association("DietaryPreferences").Replace(prefs); err != nil {
			return fmt.Errorf("replace dietary preferences: %w", err)
		}

		if allergies != nil {
			cleaned := make([]string, 0, len(allergies))
			for _, a := range allergies {
				if a = strings.TrimSpace(a); a != "" {
					cleaned = append(cleaned, a)
				}
			}
			u.Allergies = cleaned
			if err := tx.Model(&u).Select("Allergies").Updates(&u).Error; err != nil {
				return fmt.Errorf("update allergies: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// UserByChannel resolves an external chat identity to its linked user.
func (s *Store) UserByChannel(ctx context.Context, channel, externalID string) (*User, error) {
	var link ChannelLink
	err := s.db.WithContext(ctx).First(&link, "channel = ? AND external_id = ?", channel, externalID).Error
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("channel link %s/%s", channel, externalID))
	}
	return s.GetUser(ctx, link.UserID)
}

func (s *Store) LinkChannel(ctx context.Context, userID, channel, externalID string) error {
	link := ChannelLink{UserID: userID, Channel: channel, ExternalID: externalID}
	err := s.db.WithContext(ctx).
		Where(ChannelLink{Channel: channel, ExternalID: externalID}).
		Assign(ChannelLink{UserID: userID}).
		FirstOrCreate(&link).Error
	if err != nil {
		return fmt.Errorf("link %s/%s: %w", channel, externalID, err)
	}
	return nil
}

func (s *Store) SendChefMessage(ctx context.Context, msg *ChefMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("send chef message: %w", err)
	}
	return nil
}
