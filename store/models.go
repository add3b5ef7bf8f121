package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Meal types a plan slot can hold.
const (
	MealTypeBreakfast = "Breakfast"
	MealTypeLunch     = "Lunch"
	MealTypeDinner    = "Dinner"
)

var MealTypes = []string{MealTypeBreakfast, MealTypeLunch, MealTypeDinner}

// NormalizeMealType maps any casing of a meal type to its canonical name.
func NormalizeMealType(s string) (string, bool) {
	for _, mt := range MealTypes {
		if strings.EqualFold(strings.TrimSpace(s), mt) {
			return mt, true
		}
	}
	return "", false
}

// Pantry item types.
const (
	ItemTypeCanned = "Canned"
	ItemTypeDry    = "Dry"
	ItemTypeFresh  = "Fresh"
	ItemTypeFrozen = "Frozen"
	ItemTypeOther  = "Other"
)

// NoExpiryDaysLeft is reported for items without an expiration date.
const NoExpiryDaysLeft = 9999

func newID() string { return uuid.NewString() }

type User struct {
	ID                 string              `gorm:"type:char(36);primaryKey" json:"id"`
	Username           string              `gorm:"type:varchar(150);uniqueIndex;not null" json:"username"`
	Email              string              `gorm:"type:varchar(255)" json:"email"`
	PhoneNumber        string              `gorm:"type:varchar(32)" json:"phone_number"`
	Address            string              `gorm:"type:text" json:"address"`
	DateOfBirth        *time.Time          `json:"date_of_birth,omitempty"`
	HouseholdSize      int                 `gorm:"default:1" json:"household_size"`
	DietaryPreferences []DietaryPreference `gorm:"many2many:user_dietary_preferences" json:"dietary_preferences"`
	CustomDietaryNotes string              `gorm:"type:text" json:"custom_dietary_notes"`
	Allergies          []string            `gorm:"type:text;serializer:json" json:"allergies"`
	Goals              string              `gorm:"type:text" json:"goals"`
	HealthNotes        string              `gorm:"type:text" json:"health_notes"`
	PreferredLanguage  string              `gorm:"type:varchar(16);default:'en'" json:"preferred_language"`
	Timezone           string              `gorm:"type:varchar(64);default:'UTC'" json:"timezone"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.HouseholdSize <= 0 {
		u.HouseholdSize = 1
	}
	return nil
}

// PreferenceNames lists the user's dietary preference names.
func (u *User) PreferenceNames() []string {
	names := make([]string, 0, len(u.DietaryPreferences))
	for _, p := range u.DietaryPreferences {
		names = append(names, p.Name)
	}
	return names
}

type DietaryPreference struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
}

type PantryItem struct {
	ID             string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID         string     `gorm:"type:char(36);index;not null" json:"user_id"`
	Name           string     `gorm:"type:varchar(255);not null" json:"name"`
	Quantity       float64    `json:"quantity"`
	Unit           string     `gorm:"type:varchar(32)" json:"unit"`
	ItemType       string     `gorm:"type:varchar(16);default:'Other'" json:"item_type"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (p *PantryItem) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

// DaysLeft returns whole days until expiry relative to now, negative once
// expired and NoExpiryDaysLeft when the item never expires.
func (p PantryItem) DaysLeft(now time.Time) int {
	if p.ExpirationDate == nil {
		return NoExpiryDaysLeft
	}
	return int(DateOf(*p.ExpirationDate).Sub(DateOf(now)).Hours() / 24)
}

type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

type Dish struct {
	ID          string       `gorm:"type:char(36);primaryKey" json:"id"`
	MealID      string       `gorm:"type:char(36);index;not null" json:"meal_id"`
	Name        string       `gorm:"type:varchar(255);not null" json:"name"`
	Ingredients []Ingredient `gorm:"type:text;serializer:json" json:"ingredients"`
}

func (d *Dish) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = newID()
	}
	return nil
}

type Meal struct {
	ID              string    `gorm:"type:char(36);primaryKey" json:"id"`
	CreatorID       string    `gorm:"type:char(36);index" json:"creator_id"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	Description     string    `gorm:"type:text" json:"description"`
	MealType        string    `gorm:"type:varchar(16);index" json:"meal_type"`
	DietaryTags     []string  `gorm:"type:text;serializer:json" json:"dietary_tags"`
	PantryItemsUsed []string  `gorm:"type:text;serializer:json" json:"pantry_items_used"`
	Signature       string    `gorm:"type:text" json:"-"`
	Embedding       []float32 `gorm:"type:text;serializer:json" json:"-"`
	Dishes          []Dish    `gorm:"foreignKey:MealID;constraint:OnDelete:CASCADE" json:"dishes"`
	CreatedAt       time.Time `json:"created_at"`
}

func (m *Meal) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = newID()
	}
	return nil
}

type MealPlan struct {
	ID        string         `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    string         `gorm:"type:char(36);uniqueIndex:idx_plan_user_week;not null" json:"user_id"`
	WeekStart time.Time      `gorm:"uniqueIndex:idx_plan_user_week;not null" json:"week_start"`
	WeekEnd   time.Time      `json:"week_end"`
	Meals     []MealPlanMeal `gorm:"foreignKey:MealPlanID;constraint:OnDelete:CASCADE" json:"meals"`
	CreatedAt time.Time      `json:"created_at"`
}

func (p *MealPlan) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

// Slot returns the plan meal at (day, meal type), if any.
func (p *MealPlan) Slot(day time.Time, mealType string) *MealPlanMeal {
	d := DateOf(day)
	for i := range p.Meals {
		if p.Meals[i].Day.Equal(d) && p.Meals[i].MealType == mealType {
			return &p.Meals[i]
		}
	}
	return nil
}

// MealPlanMeal is a filled slot of a weekly plan.
type MealPlanMeal struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	MealPlanID string    `gorm:"type:char(36);uniqueIndex:idx_slot;not null" json:"meal_plan_id"`
	Day        time.Time `gorm:"uniqueIndex:idx_slot;not null" json:"day"`
	MealType   string    `gorm:"type:varchar(16);uniqueIndex:idx_slot;not null" json:"meal_type"`
	MealID     string    `gorm:"type:char(36);index;not null" json:"meal_id"`
	Meal       *Meal     `json:"meal,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *MealPlanMeal) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = newID()
	}
	return nil
}

// MealSafetyCheck caches the verdict of a dietary/allergen review for one
// meal signature under one preference key.
type MealSafetyCheck struct {
	ID            uint      `gorm:"primaryKey"`
	SignatureHash string    `gorm:"type:char(64);uniqueIndex:idx_safety_key;not null"`
	PreferenceKey string    `gorm:"type:varchar(255);uniqueIndex:idx_safety_key;not null"`
	Passed        bool      `gorm:"not null"`
	Reason        string    `gorm:"type:text"`
	CheckedAt     time.Time `gorm:"not null"`
}

type PantryUsage struct {
	ID             string    `gorm:"type:char(36);primaryKey" json:"id"`
	MealPlanMealID string    `gorm:"type:char(36);index;not null" json:"meal_plan_meal_id"`
	MealID         string    `gorm:"type:char(36);not null" json:"meal_id"`
	PantryItemID   string    `gorm:"type:char(36);index;not null" json:"pantry_item_id"`
	QuantityUsed   float64   `json:"quantity_used"`
	Unit           string    `gorm:"type:varchar(32)" json:"unit"`
	CreatedAt      time.Time `json:"created_at"`
}

func (p *PantryUsage) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

// Chat roles persisted in a thread.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:char(36);index;not null" json:"user_id"`
	Channel   string    `gorm:"type:varchar(16)" json:"channel"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// ChannelLink binds an external chat identity to a user.
type ChannelLink struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     string    `gorm:"type:char(36);index;not null"`
	Channel    string    `gorm:"type:varchar(16);uniqueIndex:idx_channel_external;not null"`
	ExternalID string    `gorm:"type:varchar(255);uniqueIndex:idx_channel_external;not null"`
	CreatedAt  time.Time
}

type ChefMessage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FromUserID   string    `gorm:"type:char(36);index;not null" json:"from_user_id"`
	ChefUsername string    `gorm:"type:varchar(150);index;not null" json:"chef_username"`
	Body         string    `gorm:"type:text;not null" json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

func allModels() []any {
	return []any{
		&User{}, &DietaryPreference{}, &PantryItem{}, &Meal{}, &Dish{},
		&MealPlan{}, &MealPlanMeal{}, &MealSafetyCheck{}, &PantryUsage{},
		&ChatMessage{}, &ChannelLink{}, &ChefMessage{},
	}
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekStart returns the Monday of t's week at midnight UTC.
func WeekStart(t time.Time) time.Time {
	d := DateOf(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
