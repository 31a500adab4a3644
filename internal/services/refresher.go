package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"expensewatch/internal/api"
	"expensewatch/internal/core"
	applog "expensewatch/internal/log"
	"expensewatch/internal/observability"
	"expensewatch/internal/source"
)

// GrowthFunc receives the full record list of a tick that saw more records
// than the previous baseline, together with that baseline. It runs on the
// refresher's goroutine and must not call Stop.
type GrowthFunc func(ctx context.Context, records []core.ExpenseRecord, previous int)

// RefresherConfig holds configuration for the polling refresher
type RefresherConfig struct {
	// Interval is how often the record list is fetched (default: 5s)
	Interval time.Duration

	// Filter is applied to every fetch. The zero filter counts everything.
	Filter core.Filter

	// FetchTimeout bounds a single fetch (default: Interval)
	FetchTimeout time.Duration
}

// DefaultRefresherConfig returns sensible defaults
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:     5 * time.Second,
		FetchTimeout: 5 * time.Second,
	}
}

// Refresher polls a record source and reports when the record count grows.
type Refresher struct {
	source    source.RecordSource
	config    RefresherConfig
	logger    *applog.Logger
	newTicker func(time.Duration) (<-chan time.Time, func())

	// Lifecycle management
	mu      sync.Mutex
	running bool
	gen     uint64
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc

	// Baseline, unknown until primed or first fetched
	lastCount int
	primed    bool
}

// NewRefresher creates a new refresher
func NewRefresher(src source.RecordSource, config RefresherConfig, logger *applog.Logger) *Refresher {
	defaults := DefaultRefresherConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = config.Interval
	}
	if logger == nil {
		logger = applog.Discard()
	}
	return &Refresher{
		source:    src,
		config:    config,
		logger:    logger.WithComponent(applog.ComponentRefresher),
		newTicker: realTicker,
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start begins polling. Returns an error if already running.
func (r *Refresher) Start(ctx context.Context, onGrowth GrowthFunc) error {
	if onGrowth == nil {
		return fmt.Errorf("refresher needs a growth callback")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher is already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.gen++
	gen := r.gen
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.cancel = cancel
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	go r.runLoop(loopCtx, gen, stopCh, doneCh, onGrowth)

	r.logger.InfoContext(ctx, "Refresher started",
		applog.FieldInterval, r.config.Interval,
		applog.FieldGeneration, gen)

	return nil
}

// Stop halts polling and waits for the loop to exit. A fetch still in
// flight is cancelled and its result discarded. A tick that already passed
// its generation check when Stop was called still delivers its onGrowth
// call, and Stop returns only after that call finishes, so no onGrowth
// runs once Stop has returned. Stopping an idle refresher is a no-op.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.gen++
	close(r.stopCh)
	r.cancel()
	doneCh := r.doneCh
	r.mu.Unlock()

	select {
	case <-doneCh:
		r.logger.InfoContext(ctx, "Refresher stopped")
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Refresher stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the refresher is currently polling
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastObservedCount returns the baseline and whether one has been set.
func (r *Refresher) LastObservedCount() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCount, r.primed
}

// Prime sets the baseline, typically from the count shown at startup.
func (r *Refresher) Prime(count int) {
	if count < 0 {
		count = 0
	}
	r.mu.Lock()
	r.lastCount = count
	r.primed = true
	r.mu.Unlock()
}

// runLoop is the main polling loop. Ticks are handled inline, so a slow
// fetch makes the ticker drop ticks instead of overlapping fetches.
func (r *Refresher) runLoop(ctx context.Context, gen uint64, stopCh <-chan struct{}, doneCh chan<- struct{}, onGrowth GrowthFunc) {
	defer close(doneCh)
	defer r.finish(gen)

	ticks, stopTicker := r.newTicker(r.config.Interval)
	defer stopTicker()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticks:
			r.tick(ctx, gen, onGrowth)
		}
	}
}

// finish marks the refresher idle when the loop ends on its own, for
// example because the parent context was cancelled.
func (r *Refresher) finish(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen || !r.running {
		return
	}
	r.running = false
	r.gen++
	r.cancel()
}

// fetchFailureLevel keeps transient backend trouble at warn. Failures the
// next tick cannot fix, such as a 404 or a malformed body, log at error.
func fetchFailureLevel(err error) slog.Level {
	if api.IsFetchFailure(err) && !api.IsRetryable(err) {
		return slog.LevelError
	}
	return slog.LevelWarn
}

// tick fetches once and fires onGrowth when the count went up.
func (r *Refresher) tick(ctx context.Context, gen uint64, onGrowth GrowthFunc) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	start := time.Now()
	records, err := r.source.ListExpenses(fetchCtx, r.config.Filter)
	elapsed := time.Since(start)
	cancel()

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "Discarding result of stopped poll", applog.FieldGeneration, gen)
		return
	}
	if err != nil {
		r.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		observability.RecordFetchFailure(elapsed)
		fields := applog.NewFields().
			WithOperation(applog.OpPoll).
			WithError(err)
		fields[applog.FieldDuration] = elapsed.Milliseconds()
		r.logger.LogFields(ctx, fetchFailureLevel(err), "Poll fetch failed, skipping tick", fields)
		return
	}
	count := len(records)
	previous, primed := r.lastCount, r.primed
	r.lastCount, r.primed = count, true
	r.mu.Unlock()

	observability.RecordFetch(elapsed, count)

	switch {
	case !primed:
		r.logger.DebugContext(ctx, "Baseline established", applog.FieldCount, count)
		return
	case count < previous:
		r.logger.InfoContext(ctx, "Record count dropped",
			applog.FieldPreviousCount, previous,
			applog.FieldCount, count)
		return
	case count == previous:
		return
	}

	observability.RecordGrowth(count - previous)
	r.logger.LogFields(ctx, slog.LevelInfo, "New records detected",
		applog.NewFields().
			WithOperation(applog.OpPoll).
			WithCounts(previous, count))

	onGrowth(ctx, records, previous)
}
