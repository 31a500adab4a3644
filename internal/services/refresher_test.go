package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"expensewatch/internal/api"
	"expensewatch/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns counts[i] records on call i+1, repeating the last
// entry once the script runs out. errs overrides a call with an error.
type scriptedSource struct {
	mu     sync.Mutex
	counts []int
	errs   map[int]error
	calls  int
}

func (s *scriptedSource) ListExpenses(_ context.Context, _ core.Filter) ([]core.ExpenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[s.calls]; err != nil {
		return nil, err
	}
	i := s.calls - 1
	if i >= len(s.counts) {
		i = len(s.counts) - 1
	}
	return makeRecords(s.counts[i]), nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type growthCall struct {
	tick     int
	count    int
	previous int
}

type growthRecorder struct {
	mu    sync.Mutex
	calls []growthCall
	src   *scriptedSource
}

func (g *growthRecorder) onGrowth(_ context.Context, records []core.ExpenseRecord, previous int) {
	tick := 0
	if g.src != nil {
		tick = g.src.Calls()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, growthCall{tick: tick, count: len(records), previous: previous})
}

func (g *growthRecorder) Calls() []growthCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]growthCall(nil), g.calls...)
}

func makeRecords(n int) []core.ExpenseRecord {
	out := make([]core.ExpenseRecord, n)
	for i := range out {
		out[i] = core.ExpenseRecord{Amount: decimal.NewFromInt(int64(i + 1))}
	}
	return out
}

// newManualRefresher returns a refresher whose ticks are sent by the test.
// The channel is unbuffered, so a send returns only once the loop has
// picked the tick up, which means every earlier tick has finished.
func newManualRefresher(src *scriptedSource) (*Refresher, chan time.Time) {
	r := NewRefresher(src, RefresherConfig{Interval: time.Hour}, nil)
	ticks := make(chan time.Time)
	r.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}
	return r, ticks
}

// drive sends n ticks plus one more, so the n-th tick has completed when
// it returns. The extra tick must not change the outcome.
func drive(ticks chan<- time.Time, n int) {
	for i := 0; i <= n; i++ {
		ticks <- time.Now()
	}
}

func TestRefresher_FiresOnceOnGrowth(t *testing.T) {
	src := &scriptedSource{counts: []int{3, 3, 5, 5}}
	rec := &growthRecorder{src: src}
	r, ticks := newManualRefresher(src)

	require.NoError(t, r.Start(context.Background(), rec.onGrowth))
	drive(ticks, 4)
	require.NoError(t, r.Stop(context.Background()))

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, growthCall{tick: 3, count: 5, previous: 3}, calls[0])

	count, ok := r.LastObservedCount()
	assert.True(t, ok)
	assert.Equal(t, 5, count)
}

func TestRefresher_FirstFetchSetsBaseline(t *testing.T) {
	src := &scriptedSource{counts: []int{10}}
	rec := &growthRecorder{src: src}
	r, ticks := newManualRefresher(src)

	_, ok := r.LastObservedCount()
	assert.False(t, ok)

	require.NoError(t, r.Start(context.Background(), rec.onGrowth))
	drive(ticks, 2)
	require.NoError(t, r.Stop(context.Background()))

	assert.Empty(t, rec.Calls())
	count, ok := r.LastObservedCount()
	assert.True(t, ok)
	assert.Equal(t, 10, count)
}

func TestRefresher_Prime(t *testing.T) {
	src := &scriptedSource{counts: []int{4}}
	rec := &growthRecorder{src: src}
	r, ticks := newManualRefresher(src)
	r.Prime(2)

	require.NoError(t, r.Start(context.Background(), rec.onGrowth))
	drive(ticks, 1)
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, []growthCall{{tick: 1, count: 4, previous: 2}}, rec.Calls())
}

func TestRefresher_BaselineFollowsDeletions(t *testing.T) {
	src := &scriptedSource{counts: []int{5, 3, 4}}
	rec := &growthRecorder{src: src}
	r, ticks := newManualRefresher(src)

	require.NoError(t, r.Start(context.Background(), rec.onGrowth))
	drive(ticks, 3)
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, []growthCall{{tick: 3, count: 4, previous: 3}}, rec.Calls())
}

func TestRefresher_FetchErrorSkipsTick(t *testing.T) {
	src := &scriptedSource{
		counts: []int{3, 5},
		errs:   map[int]error{1: errors.New("connection refused")},
	}
	rec := &growthRecorder{src: src}
	r, ticks := newManualRefresher(src)
	r.Prime(3)

	require.NoError(t, r.Start(context.Background(), rec.onGrowth))
	drive(ticks, 2)
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, []growthCall{{tick: 2, count: 5, previous: 3}}, rec.Calls())
	assert.False(t, r.IsRunning())
}

// lateSource answers its second call only after the fetch context is
// cancelled, with a list that would otherwise count as growth.
type lateSource struct {
	started chan struct{}
	calls   int32
}

func (s *lateSource) ListExpenses(ctx context.Context, _ core.Filter) ([]core.ExpenseRecord, error) {
	if atomic.AddInt32(&s.calls, 1) == 1 {
		return makeRecords(3), nil
	}
	close(s.started)
	<-ctx.Done()
	return makeRecords(10), nil
}

func TestRefresher_StopDiscardsInFlightFetch(t *testing.T) {
	src := &lateSource{started: make(chan struct{})}
	r := NewRefresher(src, RefresherConfig{Interval: time.Hour}, nil)
	ticks := make(chan time.Time)
	r.newTicker = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }

	var fired int32
	require.NoError(t, r.Start(context.Background(), func(context.Context, []core.ExpenseRecord, int) {
		atomic.AddInt32(&fired, 1)
	}))

	ticks <- time.Now()
	ticks <- time.Now()
	<-src.started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))

	assert.Zero(t, atomic.LoadInt32(&fired))
	assert.False(t, r.IsRunning())
	count, ok := r.LastObservedCount()
	assert.True(t, ok)
	assert.Equal(t, 3, count)
}

func TestRefresher_RestartAfterStop(t *testing.T) {
	src := &scriptedSource{counts: []int{1, 1, 2}}
	rec := &growthRecorder{src: src}
	r, ticks := newManualRefresher(src)

	require.NoError(t, r.Start(context.Background(), rec.onGrowth))
	ticks <- time.Now()
	require.NoError(t, r.Stop(context.Background()))
	assert.False(t, r.IsRunning())

	require.NoError(t, r.Start(context.Background(), rec.onGrowth))
	assert.True(t, r.IsRunning())
	drive(ticks, 2)
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, []growthCall{{tick: 3, count: 2, previous: 1}}, rec.Calls())
}

// slowSource tracks how many fetches overlap.
type slowSource struct {
	delay    time.Duration
	inFlight int32
	maxSeen  int32
	calls    int32
}

func (s *slowSource) ListExpenses(ctx context.Context, _ core.Filter) ([]core.ExpenseRecord, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		m := atomic.LoadInt32(&s.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&s.maxSeen, m, n) {
			break
		}
	}
	atomic.AddInt32(&s.calls, 1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return makeRecords(int(atomic.LoadInt32(&s.calls))), nil
}

func TestRefresher_TicksDoNotOverlap(t *testing.T) {
	src := &slowSource{delay: 20 * time.Millisecond}
	r := NewRefresher(src, RefresherConfig{Interval: 2 * time.Millisecond, FetchTimeout: time.Second}, nil)

	var fired int32
	require.NoError(t, r.Start(context.Background(), func(context.Context, []core.ExpenseRecord, int) {
		atomic.AddInt32(&fired, 1)
	}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&src.calls) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.maxSeen))
	assert.Positive(t, atomic.LoadInt32(&fired))
}

func TestRefresher_StartTwice(t *testing.T) {
	r, _ := newManualRefresher(&scriptedSource{counts: []int{0}})
	noop := func(context.Context, []core.ExpenseRecord, int) {}

	require.NoError(t, r.Start(context.Background(), noop))
	defer r.Stop(context.Background())

	assert.Error(t, r.Start(context.Background(), noop))
}

func TestRefresher_StartRequiresCallback(t *testing.T) {
	r, _ := newManualRefresher(&scriptedSource{counts: []int{0}})
	assert.Error(t, r.Start(context.Background(), nil))
	assert.False(t, r.IsRunning())
}

func TestRefresher_StopNotRunning(t *testing.T) {
	r, _ := newManualRefresher(&scriptedSource{counts: []int{0}})
	assert.NoError(t, r.Stop(context.Background()))
	assert.NoError(t, r.Stop(context.Background()))
}

func TestRefresher_ParentContextCancel(t *testing.T) {
	r, _ := newManualRefresher(&scriptedSource{counts: []int{0}})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Start(ctx, func(context.Context, []core.ExpenseRecord, int) {}))
	cancel()

	require.Eventually(t, func() bool { return !r.IsRunning() }, time.Second, time.Millisecond)
	assert.NoError(t, r.Stop(context.Background()))
}

func TestNewRefresher_Defaults(t *testing.T) {
	r := NewRefresher(&scriptedSource{counts: []int{0}}, RefresherConfig{}, nil)
	assert.Equal(t, 5*time.Second, r.config.Interval)
	assert.Equal(t, 5*time.Second, r.config.FetchTimeout)
}

func TestFetchFailureLevel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want slog.Level
	}{
		{"server error", &api.Error{Code: "SERVER_ERROR", StatusCode: 502, Err: api.ErrServerError}, slog.LevelWarn},
		{"circuit open", &api.Error{Code: "CIRCUIT_OPEN", Err: api.ErrCircuitOpen}, slog.LevelWarn},
		{"network", &api.Error{Code: "NETWORK_ERROR", Err: errors.New("connection refused")}, slog.LevelWarn},
		{"not found", &api.Error{Code: "NOT_FOUND", StatusCode: 404, Err: api.ErrNotFound}, slog.LevelError},
		{"malformed body", &api.Error{Code: "MALFORMED_RESPONSE", Err: api.ErrMalformedResponse}, slog.LevelError},
		{"other source", errors.New("disk unavailable"), slog.LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fetchFailureLevel(tt.err))
		})
	}
}

func TestRefresher_StopWaitsForRunningCallback(t *testing.T) {
	src := &scriptedSource{counts: []int{2}}
	r, ticks := newManualRefresher(src)
	r.Prime(1)

	entered := make(chan struct{})
	release := make(chan struct{})
	var fired int32
	require.NoError(t, r.Start(context.Background(), func(context.Context, []core.ExpenseRecord, int) {
		atomic.AddInt32(&fired, 1)
		close(entered)
		<-release
	}))

	ticks <- time.Now()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while onGrowth was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}
