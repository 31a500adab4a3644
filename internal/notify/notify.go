// Package notify fans growth events out to the configured sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expensewatch/internal/core"
	applog "expensewatch/internal/log"
	"expensewatch/internal/observability"

	"github.com/google/uuid"
)

// Notifier receives growth events.
type Notifier interface {
	NotifyGrowth(ctx context.Context, ev core.GrowthEvent) error
}

// NewGrowthEvent describes a tick that went from previous to len(records).
func NewGrowthEvent(records []core.ExpenseRecord, previous int, now time.Time) core.GrowthEvent {
	if now.IsZero() {
		now = time.Now()
	}
	current := len(records)
	newRecords := current - previous
	if newRecords < 0 {
		newRecords = 0
	}
	return core.GrowthEvent{
		ID:            uuid.NewString(),
		PreviousCount: previous,
		CurrentCount:  current,
		NewRecords:    newRecords,
		MobileMoney:   core.CountMobileMoney(records),
		DetectedAt:    now,
	}
}

// LogNotifier writes every event to the log.
type LogNotifier struct {
	logger *applog.Logger
}

func NewLogNotifier(logger *applog.Logger) *LogNotifier {
	if logger == nil {
		logger = applog.Discard()
	}
	return &LogNotifier{logger: logger.WithComponent(applog.ComponentNotify)}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) NotifyGrowth(ctx context.Context, ev core.GrowthEvent) error {
	n.logger.InfoContext(ctx, "New transaction received",
		applog.FieldEventID, ev.ID,
		applog.FieldPreviousCount, ev.PreviousCount,
		applog.FieldCount, ev.CurrentCount,
		applog.FieldNewRecords, ev.NewRecords,
		"mobile_money", ev.MobileMoney)
	return nil
}

// Multi delivers each event to every notifier, even when some fail.
type Multi struct {
	notifiers []Notifier
	logger    *applog.Logger
}

func NewMulti(logger *applog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = applog.Discard()
	}
	m := &Multi{logger: logger.WithComponent(applog.ComponentNotify)}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

// NotifyGrowth returns the joined errors of the notifiers that failed.
func (m *Multi) NotifyGrowth(ctx context.Context, ev core.GrowthEvent) error {
	var errs []error
	for _, n := range m.notifiers {
		name := nameOf(n)
		err := n.NotifyGrowth(ctx, ev)
		observability.RecordNotification(name, err)
		if err != nil {
			m.logger.WarnContext(ctx, "Notifier failed",
				"notifier", name,
				applog.FieldEventID, ev.ID,
				applog.FieldError, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func nameOf(n Notifier) string {
	if named, ok := n.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", n)
}
