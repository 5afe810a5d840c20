package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/attendance"
)

func TestAttendanceStoreResubmissionUpdatesInPlace(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	first, err := e.store.UpsertRaw(ctx, "gym-1", "ath-1", "2024-03-01", "present")
	require.NoError(t, err)

	e.clock.Advance(30 * time.Second)
	second, err := e.store.UpsertRaw(ctx, "gym-1", "ath-1", "2024-03-01T18:45:00Z", "excused")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, attendance.StatusExcused, second.Status)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	all, err := e.store.FindAllByGymAndDay(ctx, "gym-1", mustDay(t, "2024-03-01"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, attendance.StatusExcused, all[0].Status)
}

func TestAttendanceStoreRejectsMalformedInput(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.store.UpsertRaw(ctx, "gym-1", "ath-1", "2024-02-30", "present")
	assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)

	_, err = e.store.UpsertRaw(ctx, "gym-1", "ath-1", "yesterday", "present")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = e.store.UpsertRaw(ctx, "gym-1", "ath-1", "2024-03-01", "falto")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = e.store.FindRange(ctx, "ath-1", mustDay(t, "2024-03-05"), mustDay(t, "2024-03-01"))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestAttendanceStoreConcurrentUpsertsConverge(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	day := mustDay(t, "2024-03-01")

	var wg sync.WaitGroup
	for _, status := range []attendance.Status{attendance.StatusPresent, attendance.StatusExcused} {
		status := status
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.store.Upsert(ctx, "gym-1", "ath-1", day, status)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := e.store.FindByGymAthleteAndDay(ctx, "gym-1", "ath-1", day)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, []attendance.Status{attendance.StatusPresent, attendance.StatusExcused}, rec.Status)

	all, err := e.store.FindAllByGymAndDay(ctx, "gym-1", day)
	require.NoError(t, err)
	assert.Len(t, all, 1, "never two rows for one key")
}

// racingAttendance reports a uniqueness violation for the first upserts,
// as a backend without native upsert would when another writer wins.
type racingAttendance struct {
	persistence.AttendanceRepository
	failures int
	calls    int
}

func (r *racingAttendance) Upsert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	r.calls++
	if r.failures > 0 {
		r.failures--
		return attendance.Record{}, errors.AlreadyExistsf("attendance %s", rec.Key())
	}
	return r.AttendanceRepository.Upsert(ctx, rec)
}

func TestAttendanceStoreRetriesUniquenessViolation(t *testing.T) {
	base := newEngine(t)
	repo := &racingAttendance{AttendanceRepository: base.fx.Attendance, failures: 1}
	e := newEngine(t, withAttendanceRepo(repo))

	rec, err := e.store.Upsert(context.Background(), "gym-1", "ath-1", mustDay(t, "2024-03-01"), attendance.StatusPresent)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.Equal(t, 2, repo.calls)

	repo.failures = upsertAttempts
	_, err = e.store.Upsert(context.Background(), "gym-1", "ath-1", mustDay(t, "2024-03-01"), attendance.StatusAbsent)
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}

func TestAttendanceStorePurge(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	day := mustDay(t, "2024-03-01")

	_, err := e.store.Upsert(ctx, "gym-1", "ath-1", day, attendance.StatusPresent)
	require.NoError(t, err)

	require.NoError(t, e.store.Purge(ctx, "gym-1", "ath-1", day))
	rec, err := e.store.FindByAthleteAndDay(ctx, "ath-1", day)
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.True(t, errors.Is(e.store.Purge(ctx, "gym-1", "ath-1", day), errors.NotFound))
}
