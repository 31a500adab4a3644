package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const mobileMoneyMarker = "momo"

type (
	// ExpenseRecord is a single expense as reported by the backend.
	// OccurredAt is nil when the backend sent no usable timestamp.
	ExpenseRecord struct {
		ID           string
		Amount       decimal.Decimal
		Description  string
		OccurredAt   *time.Time
		CategoryID   string
		CategoryName string
	}

	Category struct {
		ID   string
		Name string
	}

	// ExpenseInput is the payload for creating or updating an expense.
	// Category is sent by name; the backend resolves it to an id.
	ExpenseInput struct {
		Amount      decimal.Decimal
		Description string
		Category    string
		Date        *time.Time
	}

	// Filter narrows an expense listing. Zero fields are not applied.
	// StartDate and EndDate are inclusive calendar days.
	Filter struct {
		Category  string
		StartDate time.Time
		EndDate   time.Time
	}

	// GrowthEvent describes a poll tick that observed more records than before.
	GrowthEvent struct {
		ID            string
		PreviousCount int
		CurrentCount  int
		NewRecords    int
		MobileMoney   int
		DetectedAt    time.Time
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrInvalidDescription = errors.New("invalid description")
	ErrEmptyCategory      = errors.New("empty category")
)

// HasTimestamp reports whether the record can take part in period totals.
func (r ExpenseRecord) HasTimestamp() bool {
	return r.OccurredAt != nil && !r.OccurredAt.IsZero()
}

// IsMobileMoney reports whether the record came in through the mobile-money feed.
func (r ExpenseRecord) IsMobileMoney() bool {
	return strings.Contains(strings.ToLower(r.Description), mobileMoneyMarker)
}

var validate = validator.New()

// expenseInputRules holds the ExpenseInput fields that carry tag rules.
type expenseInputRules struct {
	Description string `validate:"required,max=200"`
	Category    string `validate:"required"`
}

// Validate checks an input before it is stored or sent to the backend.
// Description and category are checked after trimming spaces.
func (in ExpenseInput) Validate() error {
	if in.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	err := validate.Struct(expenseInputRules{
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
	})
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "Description" && fe.Tag() == "required":
		return ErrEmptyDescription
	case fe.Field() == "Description":
		return fmt.Errorf("%w: too long (max %s characters)", ErrInvalidDescription, fe.Param())
	default:
		return ErrEmptyCategory
	}
}

// IsZero reports whether no field of the filter is set.
func (f Filter) IsZero() bool {
	return f.Category == "" && f.StartDate.IsZero() && f.EndDate.IsZero()
}

// Matches applies the filter locally, the same way the backend does for
// category, start_date and end_date. Records without a timestamp never
// match a date bound.
func (f Filter) Matches(r ExpenseRecord) bool {
	if f.Category != "" && r.CategoryName != f.Category {
		return false
	}
	if f.StartDate.IsZero() && f.EndDate.IsZero() {
		return true
	}
	if !r.HasTimestamp() {
		return false
	}
	at := *r.OccurredAt
	if !f.StartDate.IsZero() && at.Before(startOfDay(f.StartDate)) {
		return false
	}
	if !f.EndDate.IsZero() && !at.Before(startOfDay(f.EndDate).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// ResolveCategoryNames returns a copy of records with empty category names
// filled from categories by id. Records that already carry a name keep it.
func ResolveCategoryNames(records []ExpenseRecord, categories []Category) []ExpenseRecord {
	byID := make(map[string]string, len(categories))
	for _, c := range categories {
		if c.ID != "" {
			byID[c.ID] = c.Name
		}
	}
	out := make([]ExpenseRecord, len(records))
	for i, r := range records {
		if r.CategoryName == "" && r.CategoryID != "" {
			r.CategoryName = byID[r.CategoryID]
		}
		out[i] = r
	}
	return out
}

// CountMobileMoney returns how many records came from the mobile-money feed.
func CountMobileMoney(records []ExpenseRecord) int {
	n := 0
	for _, r := range records {
		if r.IsMobileMoney() {
			n++
		}
	}
	return n
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
