package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"souschef/store"
)

type pantryItemOut struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Quantity       float64 `json:"quantity"`
	Unit           string  `json:"unit"`
	ItemType       string  `json:"item_type"`
	ExpirationDate string  `json:"expiration_date,omitempty"`
	DaysLeft       int     `json:"days_left"`
}

func pantryOut(it store.PantryItem, now time.Time) pantryItemOut {
	out := pantryItemOut{
		ID:       it.ID,
		Name:     it.Name,
		Quantity: it.Quantity,
		Unit:     it.Unit,
		ItemType: it.ItemType,
		DaysLeft: it.DaysLeft(now),
	}
	if it.ExpirationDate != nil {
		out.ExpirationDate = it.ExpirationDate.Format(time.DateOnly)
	}
	return out
}

type GetPantryItems struct{ deps Deps }

func NewGetPantryItems(deps Deps) *GetPantryItems { return &GetPantryItems{deps: deps} }

func (t *GetPantryItems) Name() string  { return "get_pantry_items" }
func (t *GetPantryItems) Title() string { return "Get Pantry (with freshness)" }
func (t *GetPantryItems) Description() string {
	return "Lists the user's pantry items with quantities and days_left until expiry, soonest first. days_left is 9999 for items that do not expire."
}

func (t *GetPantryItems) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"expiring_within_days": {
				Type:        "integer",
				Description: "Only return items expiring within this many days.",
			},
		},
	}
}

func (t *GetPantryItems) OutputSchema() *jsonschema.Schema {
	minQty := 0.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"items": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"id":              str(),
						"name":            str(),
						"quantity":        {Type: "number", Minimum: &minQty},
						"unit":            str(),
						"item_type":       str(),
						"expiration_date": str(),
						"days_left":       {Type: "integer"},
					},
					Required: []string{"id", "name", "quantity", "unit", "days_left"},
				},
			},
			"count": {Type: "integer"},
		},
		Required: []string{"items", "count"},
	}
}

func (t *GetPantryItems) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	items, err := t.deps.Store.ListPantry(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read pantry: %w", err)
	}
	now := t.deps.Now()
	if days, ok := numberArg(input, "expiring_within_days"); ok {
		items = store.ExpiringWithin(items, now, int(days))
	}

	out := struct {
		Items []pantryItemOut `json:"items"`
		Count int             `json:"count"`
	}{Items: make([]pantryItemOut, 0, len(items))}
	for _, it := range items {
		out.Items = append(out.Items, pantryOut(it, now))
	}
	out.Count = len(out.Items)
	return toMap(out)
}

type AddPantryItem struct{ deps Deps }

func NewAddPantryItem(deps Deps) *AddPantryItem { return &AddPantryItem{deps: deps} }

func (t *AddPantryItem) Name() string  { return "add_pantry_item" }
func (t *AddPantryItem) Title() string { return "Add Pantry Item" }
func (t *AddPantryItem) Description() string {
	return "Adds an item to the user's pantry."
}

func (t *AddPantryItem) InputSchema() *jsonschema.Schema {
	minQty := 0.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":            str(),
			"quantity":        {Type: "number", ExclusiveMinimum: &minQty},
			"unit":            describedString("Unit such as g, ml, piece or can."),
			"item_type":       {Type: "string", Enum: []any{store.ItemTypeCanned, store.ItemTypeDry, store.ItemTypeFresh, store.ItemTypeFrozen, store.ItemTypeOther}},
			"expiration_date": describedString("YYYY-MM-DD"),
		},
		Required: []string{"name", "quantity"},
	}
}

func (t *AddPantryItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"status": str(),
			"item":   {Type: "object"},
		},
		Required: []string{"status", "item"},
	}
}

func (t *AddPantryItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	name, err := requiredString(input, "name")
	if err != nil {
		return nil, err
	}
	qty, ok := numberArg(input, "quantity")
	if !ok || qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be a positive number", ErrInvalidInput)
	}
	item := &store.PantryItem{
		UserID:   userID,
		Name:     name,
		Quantity: qty,
		Unit:     stringArg(input, "unit"),
		ItemType: stringArg(input, "item_type"),
	}
	if item.ItemType == "" {
		item.ItemType = store.ItemTypeOther
	}
	if stringArg(input, "expiration_date") != "" {
		exp, err := dateArg(input, "expiration_date", time.Time{})
		if err != nil {
			return nil, err
		}
		item.ExpirationDate = &exp
	}
	if err := t.deps.Store.AddPantryItem(ctx, item); err != nil {
		return nil, err
	}
	return toMap(map[string]any{"status": "added", "item": pantryOut(*item, t.deps.Now())})
}
