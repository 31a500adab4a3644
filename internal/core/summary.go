package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// Summary holds the figures shown above the expense table.
type Summary struct {
	Count int
	Total decimal.Decimal
	Week  decimal.Decimal
	Month decimal.Decimal
	Year  decimal.Decimal
}

// Summarize computes count, grand total and the three period totals
// against the same reference instant. A zero now means the current time.
func Summarize(records []ExpenseRecord, now time.Time) Summary {
	if now.IsZero() {
		now = time.Now()
	}
	return Summary{
		Count: len(records),
		Total: SumAll(records),
		Week:  SumForWindow(records, Week, now),
		Month: SumForWindow(records, Month, now),
		Year:  SumForWindow(records, Year, now),
	}
}

// TotalsByCategory groups amounts by category name, largest first.
// Records without a name are grouped under uncategorized.
func TotalsByCategory(records []ExpenseRecord, uncategorized string) []CategoryAmount {
	sums := map[string]decimal.Decimal{}
	for _, r := range records {
		name := r.CategoryName
		if name == "" {
			name = uncategorized
		}
		sums[name] = sums[name].Add(r.Amount)
	}
	out := make([]CategoryAmount, 0, len(sums))
	for name, amount := range sums {
		out = append(out, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}
