package attendance

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
)

// DayLayout is the wire and storage format of an attendance day.
const DayLayout = "2006-01-02"

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusExcused:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", errors.NotValidf("attendance status %q", raw)
	}
	return s, nil
}

// ParseDay accepts a calendar date ("2006-01-02") or a full RFC 3339 timestamp
// and returns the canonical UTC-midnight instant for that day.
func ParseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.NotValidf("empty day")
	}
	if t, err := time.Parse(DayLayout, raw); err == nil {
		return NormalizeDay(t), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return NormalizeDay(t), nil
	}
	return time.Time{}, errors.NotValidf("day %q", raw)
}

// NormalizeDay truncates t to midnight UTC of its UTC calendar day.
func NormalizeDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func FormatDay(t time.Time) string {
	return NormalizeDay(t).Format(DayLayout)
}

// Record is the single attendance fact for one (gym, athlete, day) key.
type Record struct {
	ID        uuid.UUID `json:"id"`
	GymID     string    `json:"gymId"`
	AthleteID string    `json:"athleteId"`
	Day       time.Time `json:"day"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord builds a validated record with its day normalized. The id is only
// used when the key has no row yet; an existing row keeps its own id.
func NewRecord(gymID, athleteID string, day time.Time, status Status, now time.Time) (Record, error) {
	rec := Record{
		ID:        uuid.New(),
		GymID:     gymID,
		AthleteID: athleteID,
		Day:       NormalizeDay(day),
		Status:    status,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r Record) Validate() error {
	switch {
	case r.GymID == "":
		return errors.NotValidf("attendance record without gym id")
	case r.AthleteID == "":
		return errors.NotValidf("attendance record without athlete id")
	case r.Day.IsZero():
		return errors.NotValidf("attendance record without day")
	case !r.Status.Valid():
		return errors.NotValidf("attendance status %q", r.Status)
	}
	return nil
}

// Key is the dedup key of the record.
func (r Record) Key() string {
	return r.GymID + "/" + r.AthleteID + "/" + FormatDay(r.Day)
}
