package streak

import (
	"time"

	"github.com/google/uuid"

	"gymStreakAPI/internal/types/attendance"
)

const (
	EndReasonReset  = "reset"
	EndReasonClosed = "closed"
)

// HistoryEntry is one run of a streak. End and EndReason stay nil while the
// run is open; at most one entry per athlete is open at a time.
type HistoryEntry struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	AthleteID    string     `json:"athleteId" db:"athlete_id"`
	StreakID     uuid.UUID  `json:"streakId" db:"streak_id"`
	Start        time.Time  `json:"start" db:"start_day"`
	End          *time.Time `json:"end" db:"end_day"`
	DurationDays int        `json:"durationDays" db:"duration_days"`
	EndReason    *string    `json:"endReason" db:"end_reason"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
}

type HistoryOp int

const (
	HistoryNone HistoryOp = iota
	HistoryOpen
	HistoryClose
)

// PlanHistory maps a transition to its ledger effect. Any increment asks for
// an open entry, which is a no-op while one is open and restarts the ledger
// for a run whose entry was closed by hand. A reset that ends a non-empty run
// closes the entry.
func PlanHistory(d Delta) HistoryOp {
	switch {
	case d.Action == ActionIncremented:
		return HistoryOpen
	case d.Action == ActionReset && d.PreviousCount > 0:
		return HistoryClose
	}
	return HistoryNone
}

func OpenEntry(s Streak, day time.Time, now time.Time) HistoryEntry {
	return HistoryEntry{
		ID:        uuid.New(),
		AthleteID: s.AthleteID,
		StreakID:  s.ID,
		Start:     attendance.NormalizeDay(day),
		CreatedAt: now.UTC(),
	}
}

func (e HistoryEntry) IsOpen() bool {
	return e.End == nil
}

// Close ends the run on day. DurationDays counts whole calendar days between
// the start day and the end day.
func (e HistoryEntry) Close(day time.Time, reason string) HistoryEntry {
	end := attendance.NormalizeDay(day)
	if end.Before(e.Start) {
		end = e.Start
	}
	e.End = &end
	e.EndReason = &reason
	e.DurationDays = int(end.Sub(e.Start).Hours() / 24)
	return e
}
