package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/testhelpers"
	"gymStreakAPI/internal/types/attendance"
)

var testNow = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

type engine struct {
	fx           *testhelpers.Fixture
	clock        *testclock.Clock
	metrics      *EngineMetrics
	cache        *memoryCache
	store        *AttendanceStore
	history      *HistoryRecorder
	tracker      *StreakTracker
	orchestrator *AttendanceOrchestrator
	projector    *QueryProjector
}

type engineOption func(*engineDeps)

type engineDeps struct {
	attendance persistence.AttendanceRepository
	streaks    persistence.StreakRepository
	members    MembershipChecker
	roster     RosterProvider
	attempts   int
}

func withAttendanceRepo(r persistence.AttendanceRepository) engineOption {
	return func(d *engineDeps) { d.attendance = r }
}

func withStreakRepo(r persistence.StreakRepository) engineOption {
	return func(d *engineDeps) { d.streaks = r }
}

func withMembers(m MembershipChecker) engineOption {
	return func(d *engineDeps) { d.members = m }
}

func withAttempts(n int) engineOption {
	return func(d *engineDeps) { d.attempts = n }
}

func newEngine(t *testing.T, opts ...engineOption) *engine {
	t.Helper()
	fx := testhelpers.NewSQLiteFixture(t)
	deps := engineDeps{
		attendance: fx.Attendance,
		streaks:    fx.Streaks,
		members:    fx.Directory,
		roster:     fx.Directory,
		attempts:   3,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	clk := testclock.NewClock(testNow)
	logger := zaptest.NewLogger(t)
	metrics := NewEngineMetrics(prometheus.NewRegistry())
	cache := newMemoryCache()

	store := NewAttendanceStore(deps.attendance, clk)
	history := NewHistoryRecorder(deps.streaks, clk)
	tracker := NewStreakTracker(deps.streaks, history, clk, deps.attempts, metrics, logger)

	return &engine{
		fx:           fx,
		clock:        clk,
		metrics:      metrics,
		cache:        cache,
		store:        store,
		history:      history,
		tracker:      tracker,
		orchestrator: NewAttendanceOrchestrator(store, tracker, deps.members, cache, metrics, logger),
		projector:    NewQueryProjector(store, tracker, history, deps.roster, cache, clk, metrics, logger),
	}
}

func mustDay(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := attendance.ParseDay(raw)
	require.NoError(t, err)
	return d
}

// memoryCache is a ViewCache kept in a map.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]any
	gens    map[string]int64
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]any), gens: make(map[string]int64)}
}

func (c *memoryCache) Generation(_ context.Context, prefix string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[prefix], true
}

func (c *memoryCache) Get(_ context.Context, key string, dest any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return false
	}
	view, ok := v.(GymDayView)
	if !ok {
		return false
	}
	*dest.(*GymDayView) = view
	return true
}

func (c *memoryCache) Set(_ context.Context, key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
	c.sets++
}

func (c *memoryCache) InvalidatePrefix(_ context.Context, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[prefix]++
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
