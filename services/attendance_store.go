package services

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/attendance"
)

// upsertAttempts bounds the insert-or-update loop when a writer loses the
// race on a fresh key.
const upsertAttempts = 3

// AttendanceStore keeps exactly one attendance fact per (gym, athlete, day).
// Every day it receives is normalized to UTC midnight before it reaches
// storage.
type AttendanceStore struct {
	repo  persistence.AttendanceRepository
	clock clock.Clock
}

func NewAttendanceStore(repo persistence.AttendanceRepository, clk clock.Clock) *AttendanceStore {
	return &AttendanceStore{repo: repo, clock: clk}
}

// Upsert writes status for the key in one statement. A uniqueness violation
// means another writer created the row first; the write is retried and lands
// on the update branch. Persistent violations surface as AlreadyExists.
func (s *AttendanceStore) Upsert(ctx context.Context, gymID, athleteID string, day time.Time, status attendance.Status) (attendance.Record, error) {
	var lastErr error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		rec, err := attendance.NewRecord(gymID, athleteID, day, status, s.clock.Now())
		if err != nil {
			return attendance.Record{}, err
		}
		stored, err := s.repo.Upsert(ctx, rec)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, errors.AlreadyExists) {
			return attendance.Record{}, err
		}
		lastErr = err
	}
	return attendance.Record{}, errors.Annotatef(lastErr, "attendance %s unresolved after %d attempts", attendance.FormatDay(day), upsertAttempts)
}

// UpsertRaw parses day and status from their wire forms.
func (s *AttendanceStore) UpsertRaw(ctx context.Context, gymID, athleteID, rawDay, rawStatus string) (attendance.Record, error) {
	day, err := attendance.ParseDay(rawDay)
	if err != nil {
		return attendance.Record{}, err
	}
	status, err := attendance.ParseStatus(rawStatus)
	if err != nil {
		return attendance.Record{}, err
	}
	return s.Upsert(ctx, gymID, athleteID, day, status)
}

func (s *AttendanceStore) FindByAthleteAndDay(ctx context.Context, athleteID string, day time.Time) (*attendance.Record, error) {
	return s.repo.FindByAthleteAndDay(ctx, athleteID, attendance.NormalizeDay(day))
}

func (s *AttendanceStore) FindByGymAthleteAndDay(ctx context.Context, gymID, athleteID string, day time.Time) (*attendance.Record, error) {
	return s.repo.FindByGymAthleteAndDay(ctx, gymID, athleteID, attendance.NormalizeDay(day))
}

func (s *AttendanceStore) FindAllByGymAndDay(ctx context.Context, gymID string, day time.Time) ([]attendance.Record, error) {
	return s.repo.FindAllByGymAndDay(ctx, gymID, attendance.NormalizeDay(day))
}

// FindLatestOnOrBefore returns the most recent fact for the athlete in any
// gym up to and including day.
func (s *AttendanceStore) FindLatestOnOrBefore(ctx context.Context, athleteID string, day time.Time) (*attendance.Record, error) {
	return s.repo.FindLatestOnOrBefore(ctx, athleteID, attendance.NormalizeDay(day))
}

func (s *AttendanceStore) FindRange(ctx context.Context, athleteID string, from, to time.Time) ([]attendance.Record, error) {
	from, to = attendance.NormalizeDay(from), attendance.NormalizeDay(to)
	if to.Before(from) {
		return nil, errors.NotValidf("range %s..%s", attendance.FormatDay(from), attendance.FormatDay(to))
	}
	return s.repo.FindRange(ctx, athleteID, from, to)
}

// Purge removes one fact. The athlete's streak is left as it is.
func (s *AttendanceStore) Purge(ctx context.Context, gymID, athleteID string, day time.Time) error {
	return s.repo.Delete(ctx, gymID, athleteID, attendance.NormalizeDay(day))
}
