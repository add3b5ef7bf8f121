package shopping

import (
	"fmt"
	"strings"
)

// Text renders the items still to buy, grouped by aisle, for chat replies.
func Text(l *List) string {
	groups := l.ByCategory()
	if len(groups) == 0 {
		return "Your pantry already covers this week's meals."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Shopping list for the week of %s\n", l.WeekStart.Format("Jan 2"))
	for _, g := range groups {
		fmt.Fprintf(&b, "\n%s\n", g.Category)
		for _, it := range g.Items {
			if it.UnitConflict {
				fmt.Fprintf(&b, "- %s (check quantities)\n", it.Name)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s %s\n", it.Name, formatQty(it.ToBuy), it.Unit)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatQty(q float64) string {
	s := fmt.Sprintf("%.2f", q)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
