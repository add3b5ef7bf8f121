package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"souschef/shopping"
)

// ExportShoppingList writes the list as JSON and as plain text and returns
// the JSON artifact's name.
func ExportShoppingList(ctx context.Context, w Writer, list *shopping.List) (string, error) {
	base := fmt.Sprintf("shopping-list-%s-%s", list.WeekStart.Format("2006-01-02"), list.PlanID)

	data, err := json.MarshalIndent(map[string]any{
		"plan_id":      list.PlanID,
		"week_start":   list.WeekStart.Format("2006-01-02"),
		"generated_at": list.GeneratedAt,
		"categories":   list.ByCategory(),
		"conflicts":    list.Conflicts,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal shopping list: %w", err)
	}
	if err := w.Write(ctx, base+".json", data); err != nil {
		return "", err
	}
	if err := w.Write(ctx, base+".txt", []byte(shopping.Text(list))); err != nil {
		return "", err
	}
	return base + ".json", nil
}
