package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"expensewatch/internal/core"
	applog "expensewatch/internal/log"
	"expensewatch/internal/source"

	"golang.org/x/sync/errgroup"
)

// Uncategorized labels records whose category could not be resolved.
const Uncategorized = "Uncategorized"

// DashboardView is everything the expense overview shows at one instant.
type DashboardView struct {
	Records     []core.ExpenseRecord
	Categories  []core.Category
	Summary     core.Summary
	ByCategory  []core.CategoryAmount
	GeneratedAt time.Time
}

// Dashboard loads records and categories and aggregates them.
type Dashboard struct {
	records    source.RecordSource
	categories source.CategorySource
	logger     *applog.Logger
}

func NewDashboard(records source.RecordSource, categories source.CategorySource, logger *applog.Logger) *Dashboard {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Dashboard{
		records:    records,
		categories: categories,
		logger:     logger.WithComponent(applog.ComponentDashboard),
	}
}

// Load fetches expenses and categories concurrently. A category failure
// only leaves names unresolved; an expense failure is returned.
func (d *Dashboard) Load(ctx context.Context, filter core.Filter, now time.Time) (DashboardView, error) {
	g, gctx := errgroup.WithContext(ctx)

	var records []core.ExpenseRecord
	var categories []core.Category

	g.Go(func() error {
		var err error
		records, err = d.records.ListExpenses(gctx, filter)
		if err != nil {
			return fmt.Errorf("load expenses: %w", err)
		}
		return nil
	})

	if d.categories != nil {
		g.Go(func() error {
			cats, err := d.categories.ListCategories(gctx)
			if err != nil {
				if gctx.Err() == nil {
					d.logger.LogFields(ctx, slog.LevelWarn, "Error loading categories",
						applog.NewFields().WithOperation(applog.OpList).WithError(err))
				}
				return nil
			}
			categories = cats
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return DashboardView{}, err
	}

	return d.Build(records, categories, now), nil
}

// categoryInvalidator is implemented by sources that cache categories.
type categoryInvalidator interface {
	InvalidateCategories()
}

// Refresh rebuilds the view from records already fetched, e.g. by the
// refresher. When a record points at a category id the cached list does
// not know, the cache is dropped and the categories fetched once more.
func (d *Dashboard) Refresh(ctx context.Context, records []core.ExpenseRecord, now time.Time) DashboardView {
	if d.categories == nil {
		return d.Build(records, nil, now)
	}

	categories, err := d.categories.ListCategories(ctx)
	if err == nil && hasUnknownCategory(records, categories) {
		if inv, ok := d.categories.(categoryInvalidator); ok {
			d.logger.DebugContext(ctx, "Unknown category id, reloading categories")
			inv.InvalidateCategories()
			categories, err = d.categories.ListCategories(ctx)
		}
	}
	if err != nil {
		d.logger.LogFields(ctx, slog.LevelWarn, "Error loading categories",
			applog.NewFields().WithOperation(applog.OpList).WithError(err))
		categories = nil
	}
	return d.Build(records, categories, now)
}

func hasUnknownCategory(records []core.ExpenseRecord, categories []core.Category) bool {
	known := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		known[c.ID] = struct{}{}
	}
	for _, r := range records {
		if r.CategoryName != "" || r.CategoryID == "" {
			continue
		}
		if _, ok := known[r.CategoryID]; !ok {
			return true
		}
	}
	return false
}

// Build aggregates already fetched data. A zero now means the current time.
func (d *Dashboard) Build(records []core.ExpenseRecord, categories []core.Category, now time.Time) DashboardView {
	if now.IsZero() {
		now = time.Now()
	}
	resolved := core.ResolveCategoryNames(records, categories)
	view := DashboardView{
		Records:     resolved,
		Categories:  categories,
		Summary:     core.Summarize(resolved, now),
		ByCategory:  core.TotalsByCategory(resolved, Uncategorized),
		GeneratedAt: now,
	}

	d.logger.Debug("Dashboard built",
		applog.FieldOperation, applog.OpSummary,
		applog.FieldCount, view.Summary.Count)
	return view
}

// SummaryLine renders the headline figures, e.g. for a log line or terminal.
func (v DashboardView) SummaryLine(currency string) string {
	s := v.Summary
	return fmt.Sprintf("%d expenses, total %s | week %s | month %s | year %s",
		s.Count,
		core.FormatAmount(s.Total, currency),
		core.FormatAmount(s.Week, currency),
		core.FormatAmount(s.Month, currency),
		core.FormatAmount(s.Year, currency))
}
