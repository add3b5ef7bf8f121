package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"souschef"
	"souschef/store"
)

var validate = validator.New()

// Seed is the JSON document loaded by Import.
type Seed struct {
	Users []SeedUser `json:"users" validate:"dive"`
}

type SeedUser struct {
	Username           string           `json:"username" validate:"required"`
	Email              string           `json:"email" validate:"omitempty,email"`
	HouseholdSize      int              `json:"household_size" validate:"gte=0"`
	DietaryPreferences []string         `json:"dietary_preferences"`
	Allergies          []string         `json:"allergies"`
	Goals              string           `json:"goals"`
	TelegramChatID     string           `json:"telegram_chat_id"`
	LineUserID         string           `json:"line_user_id"`
	Pantry             []SeedPantryItem `json:"pantry" validate:"dive"`
}

type SeedPantryItem struct {
	Name           string  `json:"name" validate:"required"`
	Quantity       float64 `json:"quantity" validate:"gte=0"`
	Unit           string  `json:"unit"`
	ItemType       string  `json:"item_type" validate:"omitempty,oneof=Canned Dry Fresh Frozen Other"`
	ExpirationDate string  `json:"expiration_date" validate:"omitempty,datetime=2006-01-02"`
}

type SeedRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	CreateUser(ctx context.Context, u *store.User) error
	SetDietaryProfile(ctx context.Context, userID string, preferences []string, allergies []string) (*store.User, error)
	AddPantryItem(ctx context.Context, item *store.PantryItem) error
	LinkChannel(ctx context.Context, userID, channel, externalID string) error
}

type ImportResult struct {
	UsersCreated int      `json:"users_created"`
	UsersSkipped []string `json:"users_skipped,omitempty"`
	PantryItems  int      `json:"pantry_items"`
}

// ParseSeed decodes and validates a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := validate.Struct(seed); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &seed, nil
}

// Import loads a seed and creates its users with their pantries. Users that
// already exist are left untouched.
func Import(ctx context.Context, loader Loader, repo SeedRepository) (*ImportResult, error) {
	data, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for _, su := range seed.Users {
		_, err := repo.GetUserByUsername(ctx, su.Username)
		if err == nil {
			res.UsersSkipped = append(res.UsersSkipped, su.Username)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return res, err
		}

		n, err := importUser(ctx, repo, su)
		if err != nil {
			return res, fmt.Errorf("user %s: %w", su.Username, err)
		}
		res.UsersCreated++
		res.PantryItems += n
	}
	slog.Info("SEED: Import complete", "created", res.UsersCreated, "skipped", len(res.UsersSkipped), "pantry_items", res.PantryItems)
	return res, nil
}

func importUser(ctx context.Context, repo SeedRepository, su SeedUser) (int, error) {
	u := &store.User{
		Username:      su.Username,
		Email:         su.Email,
		HouseholdSize: max(su.HouseholdSize, 1),
		Goals:         su.Goals,
	}
	if err := repo.CreateUser(ctx, u); err != nil {
		return 0, err
	}
	if len(su.DietaryPreferences) > 0 || len(su.Allergies) > 0 {
		if _, err := repo.SetDietaryProfile(ctx, u.ID, su.DietaryPreferences, su.Allergies); err != nil {
			return 0, err
		}
	}
	links := map[souschef.Channel]string{
		souschef.ChannelTelegram: su.TelegramChatID,
		souschef.ChannelLine:     su.LineUserID,
	}
	for ch, id := range links {
		if id == "" {
			continue
		}
		if err := repo.LinkChannel(ctx, u.ID, string(ch), id); err != nil {
			return 0, err
		}
	}

	for _, sp := range su.Pantry {
		item := &store.PantryItem{
			UserID:   u.ID,
			Name:     strings.TrimSpace(sp.Name),
			Quantity: sp.Quantity,
			Unit:     sp.Unit,
			ItemType: sp.ItemType,
		}
		if item.ItemType == "" {
			item.ItemType = store.ItemTypeOther
		}
		if sp.ExpirationDate != "" {
			d, err := time.Parse(time.DateOnly, sp.ExpirationDate)
			if err != nil {
				return 0, err
			}
			item.ExpirationDate = &d
		}
		if err := repo.AddPantryItem(ctx, item); err != nil {
			return 0, err
		}
	}
	return len(su.Pantry), nil
}
