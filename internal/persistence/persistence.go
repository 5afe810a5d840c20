// Package persistence defines the storage contracts of the attendance engine.
// Backends live in the postgres and sqlite subpackages.
package persistence

import (
	"context"
	"time"

	"github.com/juju/errors"

	"gymStreakAPI/internal/types/attendance"
	"gymStreakAPI/internal/types/gym"
	"gymStreakAPI/internal/types/streak"
)

// ErrVersionConflict is returned by StreakTx.Save when the row changed since
// it was loaded. The whole unit must be recomputed from storage.
const ErrVersionConflict = errors.ConstError("streak version changed concurrently")

// AttendanceRepository stores one attendance fact per (gym, athlete, day).
// Days passed in are already normalized; lookups return nil, nil on a miss.
type AttendanceRepository interface {
	// Upsert inserts rec or, when the key exists, updates status and
	// updated_at in the same statement. The stored row is returned.
	Upsert(ctx context.Context, rec attendance.Record) (attendance.Record, error)
	FindByAthleteAndDay(ctx context.Context, athleteID string, day time.Time) (*attendance.Record, error)
	FindByGymAthleteAndDay(ctx context.Context, gymID, athleteID string, day time.Time) (*attendance.Record, error)
	FindAllByGymAndDay(ctx context.Context, gymID string, day time.Time) ([]attendance.Record, error)
	FindLatestOnOrBefore(ctx context.Context, athleteID string, day time.Time) (*attendance.Record, error)
	FindRange(ctx context.Context, athleteID string, from, to time.Time) ([]attendance.Record, error)
	Delete(ctx context.Context, gymID, athleteID string, day time.Time) error
}

// StreakTx is one athlete's streak inside a single atomic unit.
type StreakTx interface {
	// LoadOrCreate returns the durable streak, inserting seed first when the
	// athlete has none.
	LoadOrCreate(ctx context.Context, seed streak.Streak) (streak.Streak, error)
	// Save persists s if the stored version still equals s.Version.
	Save(ctx context.Context, s streak.Streak) error
	OpenHistory(ctx context.Context) (*streak.HistoryEntry, error)
	InsertHistory(ctx context.Context, e streak.HistoryEntry) error
	UpdateHistory(ctx context.Context, e streak.HistoryEntry) error
}

type StreakRepository interface {
	// WithAthlete runs fn in one transaction scoped to athleteID. Nothing fn
	// wrote survives if it returns an error.
	WithAthlete(ctx context.Context, athleteID string, fn func(tx StreakTx) error) error
	FindOrCreate(ctx context.Context, seed streak.Streak) (streak.Streak, error)
	History(ctx context.Context, athleteID string) ([]streak.HistoryEntry, error)
}

// Directory is the gym roster maintained by the identity side of the system.
type Directory interface {
	FindGym(ctx context.Context, gymID string) (*gym.Gym, error)
	FindMember(ctx context.Context, memberID string) (*gym.Member, error)
	IsMember(ctx context.Context, gymID, memberID string) (bool, error)
	ListMembers(ctx context.Context, gymID string, role gym.Role) ([]gym.Member, error)
	UpsertGym(ctx context.Context, g gym.Gym) error
	UpsertMember(ctx context.Context, m gym.Member) error
	DeleteMember(ctx context.Context, memberID string) error
}
