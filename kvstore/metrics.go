package kvstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "flushes_total",
		Help:      "Flushes executed per container, by result.",
	}, []string{"container", "result"})

	flushRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "flush_requests_total",
		Help:      "Persistence requests received per container before coalescing.",
	}, []string{"container"})

	flushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vault",
		Name:      "flush_duration_seconds",
		Help:      "Time spent in Backend.Flush.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"container"})

	recoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault",
		Name:      "recoveries_total",
		Help:      "Loads that fell back to a secondary source, by source (backup or empty).",
	}, []string{"container", "source"})
)

// Recovery sources reported by RecordRecovery.
const (
	RecoveredFromBackup = "backup"
	RecoveredEmpty      = "empty"
)

// RecordRecovery counts a load that could not use the primary snapshot.
func RecordRecovery(container, source string) {
	recoveryTotal.WithLabelValues(container, source).Inc()
}

func observeFlush(container string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	flushTotal.WithLabelValues(container, result).Inc()
	flushDuration.WithLabelValues(container).Observe(time.Since(start).Seconds())
}
