package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gymStreakAPI/internal/types/streak"
)

// EngineMetrics counts what the write and read paths do. A nil
// *EngineMetrics records nothing.
type EngineMetrics struct {
	entries       *prometheus.CounterVec
	skipped       prometheus.Counter
	streakRetries prometheus.Counter
	batchDuration prometheus.Histogram
	degradedRows  prometheus.Counter
	cacheLookups  *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attendance_entries_total",
				Help: "Batch entries processed, by resulting streak action",
			},
			[]string{"action"},
		),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_entries_skipped_total",
			Help: "Batch entries skipped because the athlete is not a gym member",
		}),
		streakRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streak_version_conflicts_total",
			Help: "Streak updates recomputed after a concurrent change",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_batch_duration_seconds",
			Help:    "Duration of attendance batch submissions",
			Buckets: prometheus.DefBuckets,
		}),
		degradedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_view_degraded_rows_total",
			Help: "Gym day view rows served with defaults after a lookup failure",
		}),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attendance_view_cache_lookups_total",
				Help: "Gym day view cache lookups",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.entries, m.skipped, m.streakRetries, m.batchDuration, m.degradedRows, m.cacheLookups)
	return m
}

func (m *EngineMetrics) entryProcessed(action streak.Action) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(string(action)).Inc()
}

func (m *EngineMetrics) entrySkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *EngineMetrics) streakRetried() {
	if m == nil {
		return
	}
	m.streakRetries.Inc()
}

func (m *EngineMetrics) observeBatch(start time.Time) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(time.Since(start).Seconds())
}

func (m *EngineMetrics) rowDegraded() {
	if m == nil {
		return
	}
	m.degradedRows.Inc()
}

func (m *EngineMetrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
