// Package observability holds the Prometheus metrics exported by the
// refresher and notifiers, and the small HTTP server that exposes them.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "expensewatch"

var (
	pollTicksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "ticks_total",
		Help:      "Number of poll ticks that fetched the record list.",
	})

	fetchFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "fetch_failures_total",
		Help:      "Number of poll ticks skipped because the fetch failed.",
	})

	fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching the record list on a poll tick.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	growthCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "growth_events_total",
		Help:      "Number of ticks that observed more records than the previous baseline.",
	})

	newRecordsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "new_records_total",
		Help:      "Number of records that appeared between ticks.",
	})

	observedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "observed_records",
		Help:      "Record count seen by the most recent successful fetch.",
	})

	notificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Growth notifications sent, labeled by notifier and result.",
	}, []string{"notifier", "result"})
)

func init() {
	prometheus.MustRegister(
		pollTicksCounter,
		fetchFailuresCounter,
		fetchDuration,
		growthCounter,
		newRecordsCounter,
		observedGauge,
		notificationsCounter,
	)
}

// RecordFetch records a completed poll fetch and the count it returned.
func RecordFetch(d time.Duration, count int) {
	pollTicksCounter.Inc()
	fetchDuration.Observe(d.Seconds())
	observedGauge.Set(float64(count))
}

// RecordFetchFailure records a skipped tick.
func RecordFetchFailure(d time.Duration) {
	pollTicksCounter.Inc()
	fetchFailuresCounter.Inc()
	fetchDuration.Observe(d.Seconds())
}

func RecordGrowth(newRecords int) {
	growthCounter.Inc()
	if newRecords > 0 {
		newRecordsCounter.Add(float64(newRecords))
	}
}

// RecordNotification counts one notifier attempt.
func RecordNotification(notifier string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	notificationsCounter.WithLabelValues(notifier, result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
