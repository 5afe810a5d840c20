package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gymStreakAPI/internal/types/attendance"
	"gymStreakAPI/internal/types/gym"
	"gymStreakAPI/internal/types/streak"
)

const (
	defaultRowParallelism = 8
	recentDays            = 7
)

// RosterProvider supplies gym identity and members.
type RosterProvider interface {
	FindGym(ctx context.Context, gymID string) (*gym.Gym, error)
	ListMembers(ctx context.Context, gymID string, role gym.Role) ([]gym.Member, error)
}

type GymRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AthleteRow struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Email              string             `json:"email"`
	Status             *attendance.Status `json:"status"`
	CurrentStreak      int                `json:"currentStreak"`
	LastAttendanceDate *string            `json:"lastAttendanceDate"`
}

type GymDayView struct {
	Day      string       `json:"day"`
	Gym      GymRef       `json:"gym"`
	Athletes []AthleteRow `json:"athletes"`
}

type DayStatus struct {
	Date   string             `json:"date"`
	Status *attendance.Status `json:"status"`
}

type StreakView struct {
	AthleteID      string       `json:"athleteId"`
	CurrentStreak  int          `json:"currentStreak"`
	State          streak.State `json:"state"`
	PersonalRecord int          `json:"personalRecord"`
	LastUpdated    time.Time    `json:"lastUpdated"`
	Last7Days      []DayStatus  `json:"last7Days"`
}

type HistoryRow struct {
	ID           uuid.UUID `json:"id"`
	Start        string    `json:"start"`
	End          *string   `json:"end"`
	DurationDays int       `json:"durationDays"`
	EndReason    *string   `json:"endReason"`
}

type HistoryView struct {
	AthleteID       string       `json:"athleteId"`
	CurrentStreak   int          `json:"currentStreak"`
	PersonalRecord  int          `json:"personalRecord"`
	PreviousStreaks []HistoryRow `json:"previousStreaks"`
}

// QueryProjector builds the read views. It never writes attendance facts;
// the only write it may cause is the lazy creation of a streak.
type QueryProjector struct {
	store       *AttendanceStore
	tracker     *StreakTracker
	history     *HistoryRecorder
	roster      RosterProvider
	cache       ViewCache
	clock       clock.Clock
	metrics     *EngineMetrics
	logger      *zap.Logger
	parallelism int
}

func NewQueryProjector(
	store *AttendanceStore,
	tracker *StreakTracker,
	history *HistoryRecorder,
	roster RosterProvider,
	cache ViewCache,
	clk clock.Clock,
	metrics *EngineMetrics,
	logger *zap.Logger,
) *QueryProjector {
	if cache == nil {
		cache = NoopViewCache{}
	}
	return &QueryProjector{
		store:       store,
		tracker:     tracker,
		history:     history,
		roster:      roster,
		cache:       cache,
		clock:       clk,
		metrics:     metrics,
		logger:      logger,
		parallelism: defaultRowParallelism,
	}
}

// GymDay lists every athlete of the gym with their status on rawDay. A row
// whose lookups fail is served with defaults instead of failing the view.
func (p *QueryProjector) GymDay(ctx context.Context, gymID, rawDay string) (GymDayView, error) {
	day, err := attendance.ParseDay(rawDay)
	if err != nil {
		return GymDayView{}, err
	}

	g, err := p.roster.FindGym(ctx, gymID)
	if err != nil {
		return GymDayView{}, err
	}
	if g == nil {
		return GymDayView{}, errors.NotFoundf("gym %s", gymID)
	}

	// The generation is read before any row so that a write committed while
	// the view is being built leaves this Set on a retired key.
	gen, cacheable := p.cache.Generation(ctx, gymViewPrefix(gymID))
	key := gymDayKey(gymID, gen, attendance.FormatDay(day))
	if cacheable {
		var cached GymDayView
		if p.cache.Get(ctx, key, &cached) {
			p.metrics.cacheLookup(true)
			return cached, nil
		}
	}
	p.metrics.cacheLookup(false)

	members, err := p.roster.ListMembers(ctx, gymID, gym.RoleAthlete)
	if err != nil {
		return GymDayView{}, errors.Annotatef(err, "listing athletes of %s", gymID)
	}

	rows := make([]AthleteRow, len(members))
	degraded := make([]bool, len(members))

	var group errgroup.Group
	group.SetLimit(p.parallelism)
	for i, m := range members {
		i, m := i, m
		group.Go(func() error {
			row, err := p.athleteRow(ctx, gymID, m, day)
			if err != nil {
				p.metrics.rowDegraded()
				p.logger.Warn("serving athlete row with defaults",
					zap.String("gym_id", gymID),
					zap.String("athlete_id", m.ID),
					zap.Error(err),
				)
				row = AthleteRow{ID: m.ID, Name: m.Name, Email: m.Email}
				degraded[i] = true
			}
			rows[i] = row
			return nil
		})
	}
	_ = group.Wait()

	view := GymDayView{
		Day:      attendance.FormatDay(day),
		Gym:      GymRef{ID: g.ID, Name: g.Name},
		Athletes: rows,
	}

	for _, d := range degraded {
		if d {
			cacheable = false
			break
		}
	}
	if cacheable {
		p.cache.Set(ctx, key, view)
	}
	return view, nil
}

func (p *QueryProjector) athleteRow(ctx context.Context, gymID string, m gym.Member, day time.Time) (AthleteRow, error) {
	row := AthleteRow{ID: m.ID, Name: m.Name, Email: m.Email}

	rec, err := p.store.FindByGymAthleteAndDay(ctx, gymID, m.ID, day)
	if err != nil {
		return AthleteRow{}, errors.Annotate(err, "attendance of the day")
	}
	if rec != nil {
		status := rec.Status
		row.Status = &status
	}

	s, err := p.tracker.Snapshot(ctx, m.ID)
	if err != nil {
		return AthleteRow{}, errors.Annotate(err, "streak snapshot")
	}
	row.CurrentStreak = s.CurrentCount

	last, err := p.store.FindLatestOnOrBefore(ctx, m.ID, day)
	if err != nil {
		return AthleteRow{}, errors.Annotate(err, "latest attendance")
	}
	if last != nil {
		d := attendance.FormatDay(last.Day)
		row.LastAttendanceDate = &d
	}
	return row, nil
}

// AthleteStreak returns the streak with the statuses of the last seven days
// counted back from today, newest first.
func (p *QueryProjector) AthleteStreak(ctx context.Context, athleteID string) (StreakView, error) {
	s, err := p.tracker.Snapshot(ctx, athleteID)
	if err != nil {
		return StreakView{}, err
	}

	today := attendance.NormalizeDay(p.clock.Now())
	from := today.AddDate(0, 0, -(recentDays - 1))
	records, err := p.store.FindRange(ctx, athleteID, from, today)
	if err != nil {
		return StreakView{}, err
	}

	byDay := make(map[string]attendance.Status, len(records))
	for _, r := range records {
		key := attendance.FormatDay(r.Day)
		// newest update wins when the athlete attended more than one gym
		if _, seen := byDay[key]; !seen {
			byDay[key] = r.Status
		}
	}

	days := make([]DayStatus, 0, recentDays)
	for i := 0; i < recentDays; i++ {
		key := attendance.FormatDay(today.AddDate(0, 0, -i))
		ds := DayStatus{Date: key}
		if status, ok := byDay[key]; ok {
			ds.Status = &status
		}
		days = append(days, ds)
	}

	return StreakView{
		AthleteID:      s.AthleteID,
		CurrentStreak:  s.CurrentCount,
		State:          s.State,
		PersonalRecord: s.PersonalRecord,
		LastUpdated:    s.LastUpdated,
		Last7Days:      days,
	}, nil
}

func (p *QueryProjector) AthleteHistory(ctx context.Context, athleteID string) (HistoryView, error) {
	s, err := p.tracker.Snapshot(ctx, athleteID)
	if err != nil {
		return HistoryView{}, err
	}
	entries, err := p.history.History(ctx, athleteID)
	if err != nil {
		return HistoryView{}, err
	}

	rows := make([]HistoryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, NewHistoryRow(e))
	}
	return HistoryView{
		AthleteID:       s.AthleteID,
		CurrentStreak:   s.CurrentCount,
		PersonalRecord:  s.PersonalRecord,
		PreviousStreaks: rows,
	}, nil
}

// NewHistoryRow renders a history entry with plain calendar days.
func NewHistoryRow(e streak.HistoryEntry) HistoryRow {
	row := HistoryRow{
		ID:           e.ID,
		Start:        attendance.FormatDay(e.Start),
		DurationDays: e.DurationDays,
		EndReason:    e.EndReason,
	}
	if e.End != nil {
		end := attendance.FormatDay(*e.End)
		row.End = &end
	}
	return row
}
