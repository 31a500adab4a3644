// Package source defines where expense records come from and builds the
// configured implementation.
package source

import (
	"context"

	"expensewatch/internal/core"
)

// Ports for the data the aggregator and refresher consume.
type (
	RecordSource interface {
		ListExpenses(ctx context.Context, f core.Filter) ([]core.ExpenseRecord, error)
	}

	CategorySource interface {
		ListCategories(ctx context.Context) ([]core.Category, error)
	}

	// Source is what a backend must provide to drive the dashboard.
	Source interface {
		RecordSource
		CategorySource
	}
)

// CleanupFunc releases resources held by a source
type CleanupFunc func() error

// Result contains the source instance and optional cleanup function
type Result struct {
	Source  Source
	Cleanup CleanupFunc
}

// Close runs the cleanup function, if any.
func (r *Result) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}
