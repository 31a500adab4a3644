package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PeriodWindow is a calendar interval relative to a reference instant.
type PeriodWindow int

const (
	Week PeriodWindow = iota + 1
	Month
	Year
)

func (w PeriodWindow) String() string {
	switch w {
	case Week:
		return "week"
	case Month:
		return "month"
	case Year:
		return "year"
	default:
		return fmt.Sprintf("PeriodWindow(%d)", int(w))
	}
}

// Valid reports whether w is one of Week, Month or Year.
func (w PeriodWindow) Valid() bool {
	return w == Week || w == Month || w == Year
}

// ParsePeriodWindow accepts "week", "month" or "year", case-insensitively.
func ParsePeriodWindow(s string) (PeriodWindow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "week", "weekly":
		return Week, nil
	case "month", "monthly":
		return Month, nil
	case "year", "yearly":
		return Year, nil
	}
	return 0, fmt.Errorf("invalid period window %q", s)
}

// Bounds returns the half-open interval [start, end) of the window that
// contains now, in now's location. Weeks start on Monday 00:00.
// An invalid window yields two zero times.
func (w PeriodWindow) Bounds(now time.Time) (start, end time.Time) {
	loc := now.Location()
	y, m, d := now.Date()
	switch w {
	case Week:
		sinceMonday := (int(now.Weekday()) + 6) % 7
		start = time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, loc)
		end = time.Date(y, m, d-sinceMonday+7, 0, 0, 0, 0, loc)
	case Month:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		end = time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	case Year:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end = time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc)
	}
	return start, end
}

// Contains reports whether t falls in the window around now.
func (w PeriodWindow) Contains(t, now time.Time) bool {
	if !w.Valid() {
		return false
	}
	start, end := w.Bounds(now)
	return !t.Before(start) && t.Before(end)
}

// SumForWindow sums the amounts of records whose timestamp falls in the
// window around now. A zero now means the current time. Records without a
// timestamp are skipped.
func SumForWindow(records []ExpenseRecord, w PeriodWindow, now time.Time) decimal.Decimal {
	if !w.Valid() {
		return decimal.Zero
	}
	if now.IsZero() {
		now = time.Now()
	}
	start, end := w.Bounds(now)
	sum := decimal.Zero
	for _, r := range records {
		if !r.HasTimestamp() {
			continue
		}
		if r.OccurredAt.Before(start) || !r.OccurredAt.Before(end) {
			continue
		}
		sum = sum.Add(r.Amount)
	}
	return sum
}

// SumAll sums every record regardless of timestamp.
func SumAll(records []ExpenseRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Amount)
	}
	return sum
}
