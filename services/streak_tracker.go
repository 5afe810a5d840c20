package services

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"go.uber.org/zap"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/attendance"
	"gymStreakAPI/internal/types/streak"
)

const (
	defaultStreakAttempts = 5
	streakRetryDelay      = 5 * time.Millisecond
)

// StreakTracker applies attendance events to one athlete's streak. Each event
// is a single unit: load, transition, save and ledger update commit together
// or not at all.
type StreakTracker struct {
	repo     persistence.StreakRepository
	history  *HistoryRecorder
	clock    clock.Clock
	attempts int
	metrics  *EngineMetrics
	logger   *zap.Logger
}

func NewStreakTracker(
	repo persistence.StreakRepository,
	history *HistoryRecorder,
	clk clock.Clock,
	attempts int,
	metrics *EngineMetrics,
	logger *zap.Logger,
) *StreakTracker {
	if attempts < 1 {
		attempts = defaultStreakAttempts
	}
	return &StreakTracker{
		repo:     repo,
		history:  history,
		clock:    clk,
		attempts: attempts,
		metrics:  metrics,
		logger:   logger,
	}
}

// Record applies status to the athlete's streak. A lost version race reruns
// the whole unit from the stored row.
func (t *StreakTracker) Record(ctx context.Context, athleteID string, day time.Time, status attendance.Status) (streak.Delta, error) {
	if athleteID == "" {
		return streak.Delta{}, errors.NotValidf("empty athlete id")
	}
	if !status.Valid() {
		return streak.Delta{}, errors.NotValidf("attendance status %q", status)
	}

	var delta streak.Delta
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			d, err := t.recordOnce(ctx, athleteID, day, status)
			if err != nil {
				return err
			}
			delta = d
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, persistence.ErrVersionConflict)
		},
		NotifyFunc: func(err error, attempt int) {
			t.metrics.streakRetried()
			t.logger.Debug("streak changed concurrently, recomputing",
				zap.String("athlete_id", athleteID),
				zap.Int("attempt", attempt),
			)
		},
		Attempts:    t.attempts,
		Delay:       streakRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) {
			return streak.Delta{}, errors.NewAlreadyExists(err, "streak of "+athleteID+" kept changing")
		}
		return streak.Delta{}, err
	}
	return delta, nil
}

func (t *StreakTracker) recordOnce(ctx context.Context, athleteID string, day time.Time, status attendance.Status) (streak.Delta, error) {
	var delta streak.Delta
	err := t.repo.WithAthlete(ctx, athleteID, func(tx persistence.StreakTx) error {
		now := t.clock.Now()
		current, err := tx.LoadOrCreate(ctx, streak.New(athleteID, now))
		if err != nil {
			return err
		}

		next, d, err := streak.Apply(current, status, now)
		if err != nil {
			return err
		}
		if err := tx.Save(ctx, next); err != nil {
			return err
		}
		if t.history != nil {
			if err := t.history.Apply(ctx, tx, next, d, day); err != nil {
				return errors.Annotate(err, "recording streak history")
			}
		}
		delta = d
		return nil
	})
	return delta, err
}

// Snapshot returns the stored streak, creating the initial one if the
// athlete has none.
func (t *StreakTracker) Snapshot(ctx context.Context, athleteID string) (streak.Streak, error) {
	if athleteID == "" {
		return streak.Streak{}, errors.NotValidf("empty athlete id")
	}
	return t.repo.FindOrCreate(ctx, streak.New(athleteID, t.clock.Now()))
}
