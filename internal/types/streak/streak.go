package streak

import (
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"gymStreakAPI/internal/types/attendance"
)

type State string

const (
	StateActive State = "active"
	StateFrozen State = "frozen"
)

type Action string

const (
	ActionIncremented Action = "incremented"
	ActionUnfrozen    Action = "unfrozen"
	ActionReset       Action = "reset"
	ActionFrozen      Action = "frozen"
	ActionNoChange    Action = "no_change"
	// ActionError marks a batch entry whose processing failed.
	ActionError Action = "error"
)

type Streak struct {
	ID             uuid.UUID `json:"id" db:"id"`
	AthleteID      string    `json:"athleteId" db:"athlete_id"`
	CurrentCount   int       `json:"currentStreak" db:"current_count"`
	State          State     `json:"state" db:"state"`
	PersonalRecord int       `json:"personalRecord" db:"personal_record"`
	LastUpdated    time.Time `json:"lastUpdated" db:"last_updated"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	// Version is bumped on every persisted transition and guards the
	// compare-and-swap in storage backends without row locks.
	Version int64 `json:"-" db:"version"`
}

// Delta describes the effect of one transition.
type Delta struct {
	AthleteID     string `json:"athleteId"`
	PreviousCount int    `json:"previousStreak"`
	NewCount      int    `json:"currentStreak"`
	Action        Action `json:"action"`
}

// New returns the initial streak for an athlete that has none yet.
func New(athleteID string, now time.Time) Streak {
	return Streak{
		ID:          uuid.New(),
		AthleteID:   athleteID,
		State:       StateActive,
		LastUpdated: now.UTC(),
		CreatedAt:   now.UTC(),
	}
}

func (s Streak) Validate() error {
	switch {
	case s.AthleteID == "":
		return errors.NotValidf("streak without athlete id")
	case s.State != StateActive && s.State != StateFrozen:
		return errors.NotValidf("streak state %q", s.State)
	case s.CurrentCount < 0:
		return errors.NotValidf("negative streak count %d", s.CurrentCount)
	case s.PersonalRecord < s.CurrentCount:
		return errors.NotValidf("personal record %d below count %d", s.PersonalRecord, s.CurrentCount)
	}
	return nil
}

type countEffect int

const (
	keepCount countEffect = iota
	incrementCount
	resetCount
)

type rule struct {
	next   State
	effect countEffect
	action Action
}

type ruleKey struct {
	state  State
	status attendance.Status
}

var transitions = map[ruleKey]rule{
	{StateActive, attendance.StatusPresent}: {StateActive, incrementCount, ActionIncremented},
	{StateFrozen, attendance.StatusPresent}: {StateActive, keepCount, ActionUnfrozen},
	{StateActive, attendance.StatusAbsent}:  {StateActive, resetCount, ActionReset},
	{StateFrozen, attendance.StatusAbsent}:  {StateActive, resetCount, ActionReset},
	{StateActive, attendance.StatusExcused}: {StateFrozen, keepCount, ActionFrozen},
	{StateFrozen, attendance.StatusExcused}: {StateFrozen, keepCount, ActionNoChange},
}

// Transition reports the next state and action for (state, status). It never
// looks at the count.
func Transition(state State, status attendance.Status) (State, Action, error) {
	r, ok := transitions[ruleKey{state, status}]
	if !ok {
		return "", "", errors.NotValidf("transition from %q on %q", state, status)
	}
	return r.next, r.action, nil
}

// Apply returns the streak that results from one attendance status, together
// with its delta. s is not modified; at only stamps LastUpdated.
func Apply(s Streak, status attendance.Status, at time.Time) (Streak, Delta, error) {
	r, ok := transitions[ruleKey{s.State, status}]
	if !ok {
		return s, Delta{}, errors.NotValidf("transition from %q on %q", s.State, status)
	}

	next := s
	next.State = r.next
	switch r.effect {
	case incrementCount:
		next.CurrentCount = s.CurrentCount + 1
	case resetCount:
		next.CurrentCount = 0
	}
	if next.CurrentCount > next.PersonalRecord {
		next.PersonalRecord = next.CurrentCount
	}
	next.LastUpdated = at.UTC()

	return next, Delta{
		AthleteID:     s.AthleteID,
		PreviousCount: s.CurrentCount,
		NewCount:      next.CurrentCount,
		Action:        r.action,
	}, nil
}

// ErrorDelta is the uniform result row for an entry that failed.
func ErrorDelta(athleteID string) Delta {
	return Delta{AthleteID: athleteID, Action: ActionError}
}
