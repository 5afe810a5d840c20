package services

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"gymStreakAPI/internal/types/attendance"
	"gymStreakAPI/internal/types/streak"
)

const batchMessage = "Attendance updated successfully"

// MembershipChecker confirms that an athlete belongs to a gym.
type MembershipChecker interface {
	IsMember(ctx context.Context, gymID, memberID string) (bool, error)
}

type BatchEntry struct {
	AthleteID string `json:"athleteId"`
	Status    string `json:"status"`
}

// AthleteDelta is one row of a batch result. Failed rows carry
// action "error" with zero counts.
type AthleteDelta struct {
	AthleteID      string        `json:"athleteId"`
	PreviousStreak int           `json:"previousStreak"`
	CurrentStreak  int           `json:"currentStreak"`
	Action         streak.Action `json:"action"`
	Error          string        `json:"error,omitempty"`
}

type BatchResult struct {
	Message          string         `json:"message"`
	Day              string         `json:"day"`
	TotalProcessed   int            `json:"totalProcessed"`
	PerAthleteDeltas []AthleteDelta `json:"perAthleteDeltas"`
}

type entryOutcome int

const (
	outcomeProcessed entryOutcome = iota
	outcomeFailed
	outcomeSkippedNonMember
)

type parsedEntry struct {
	athleteID string
	status    attendance.Status
}

// AttendanceOrchestrator drives a gym day's batch through the attendance
// store and the streak tracker, one entry at a time.
type AttendanceOrchestrator struct {
	store   *AttendanceStore
	tracker *StreakTracker
	members MembershipChecker
	cache   ViewCache
	metrics *EngineMetrics
	logger  *zap.Logger
}

func NewAttendanceOrchestrator(
	store *AttendanceStore,
	tracker *StreakTracker,
	members MembershipChecker,
	cache ViewCache,
	metrics *EngineMetrics,
	logger *zap.Logger,
) *AttendanceOrchestrator {
	if cache == nil {
		cache = NoopViewCache{}
	}
	return &AttendanceOrchestrator{
		store:   store,
		tracker: tracker,
		members: members,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// SubmitBatch records entries for gymID on rawDay. The whole call fails
// before any write when the day, an id or a status is malformed. After that
// each entry stands alone: athletes outside the gym are skipped and a failing
// entry becomes an error row while the rest carry on.
func (o *AttendanceOrchestrator) SubmitBatch(ctx context.Context, gymID, rawDay string, entries []BatchEntry, requesterID string) (BatchResult, error) {
	start := time.Now()
	defer o.metrics.observeBatch(start)

	day, parsed, err := validateBatch(gymID, rawDay, entries, requesterID)
	if err != nil {
		return BatchResult{}, err
	}

	deltas := make([]AthleteDelta, 0, len(parsed))
	for _, e := range parsed {
		delta, outcome, err := o.processEntry(ctx, gymID, day, e)
		switch outcome {
		case outcomeSkippedNonMember:
			o.metrics.entrySkipped()
			o.logger.Debug("skipping non-member",
				zap.String("gym_id", gymID),
				zap.String("athlete_id", e.athleteID),
			)
			continue
		case outcomeFailed:
			o.logger.Warn("attendance entry failed",
				zap.String("gym_id", gymID),
				zap.String("athlete_id", e.athleteID),
				zap.String("day", attendance.FormatDay(day)),
				zap.Error(err),
			)
		}
		o.metrics.entryProcessed(delta.Action)
		deltas = append(deltas, delta)
	}

	InvalidateGymViews(ctx, o.cache, gymID)

	o.logger.Info("attendance batch processed",
		zap.String("gym_id", gymID),
		zap.String("requester_id", requesterID),
		zap.String("day", attendance.FormatDay(day)),
		zap.Int("submitted", len(parsed)),
		zap.Int("processed", len(deltas)),
	)

	return BatchResult{
		Message:          batchMessage,
		Day:              attendance.FormatDay(day),
		TotalProcessed:   len(deltas),
		PerAthleteDeltas: deltas,
	}, nil
}

// SubmitOne records a single athlete's status. Unlike a batch, a non-member
// is NotFound and a failed write is returned as the error.
func (o *AttendanceOrchestrator) SubmitOne(ctx context.Context, gymID, rawDay, athleteID, rawStatus, requesterID string) (AthleteDelta, error) {
	day, parsed, err := validateBatch(gymID, rawDay, []BatchEntry{{AthleteID: athleteID, Status: rawStatus}}, requesterID)
	if err != nil {
		return AthleteDelta{}, err
	}

	delta, outcome, err := o.processEntry(ctx, gymID, day, parsed[0])
	switch outcome {
	case outcomeSkippedNonMember:
		return AthleteDelta{}, errors.NotFoundf("athlete %s in gym %s", athleteID, gymID)
	case outcomeFailed:
		return AthleteDelta{}, err
	}

	o.metrics.entryProcessed(delta.Action)
	InvalidateGymViews(ctx, o.cache, gymID)
	return delta, nil
}

// Purge deletes one athlete's fact for rawDay and drops the cached views of
// the gym. Streaks are not recomputed.
func (o *AttendanceOrchestrator) Purge(ctx context.Context, gymID, rawDay, athleteID, requesterID string) error {
	day, err := attendance.ParseDay(rawDay)
	if err != nil {
		return err
	}
	if err := o.store.Purge(ctx, gymID, athleteID, day); err != nil {
		return err
	}
	InvalidateGymViews(ctx, o.cache, gymID)

	o.logger.Info("attendance purged",
		zap.String("gym_id", gymID),
		zap.String("athlete_id", athleteID),
		zap.String("requester_id", requesterID),
		zap.String("day", attendance.FormatDay(day)),
	)
	return nil
}

// processEntry applies skip-non-member first, then writes the fact and the
// streak transition.
func (o *AttendanceOrchestrator) processEntry(ctx context.Context, gymID string, day time.Time, e parsedEntry) (AthleteDelta, entryOutcome, error) {
	member, err := o.members.IsMember(ctx, gymID, e.athleteID)
	if err != nil {
		return errorDelta(e.athleteID, err), outcomeFailed, errors.Annotate(err, "checking membership")
	}
	if !member {
		return AthleteDelta{}, outcomeSkippedNonMember, nil
	}

	if _, err := o.store.Upsert(ctx, gymID, e.athleteID, day, e.status); err != nil {
		return errorDelta(e.athleteID, err), outcomeFailed, err
	}

	d, err := o.tracker.Record(ctx, e.athleteID, day, e.status)
	if err != nil {
		return errorDelta(e.athleteID, err), outcomeFailed, err
	}

	return AthleteDelta{
		AthleteID:      d.AthleteID,
		PreviousStreak: d.PreviousCount,
		CurrentStreak:  d.NewCount,
		Action:         d.Action,
	}, outcomeProcessed, nil
}

func errorDelta(athleteID string, err error) AthleteDelta {
	d := streak.ErrorDelta(athleteID)
	return AthleteDelta{
		AthleteID: d.AthleteID,
		Action:    d.Action,
		Error:     publicEntryError(err),
	}
}

// publicEntryError keeps storage detail out of responses.
func publicEntryError(err error) string {
	switch {
	case errors.Is(err, errors.NotValid):
		return "invalid entry"
	case errors.Is(err, errors.AlreadyExists):
		return "conflicting update"
	default:
		return "entry could not be processed"
	}
}

func validateBatch(gymID, rawDay string, entries []BatchEntry, requesterID string) (time.Time, []parsedEntry, error) {
	day, err := attendance.ParseDay(rawDay)
	if err != nil {
		return time.Time{}, nil, err
	}
	if strings.TrimSpace(gymID) == "" {
		return time.Time{}, nil, errors.NotValidf("empty gym id")
	}
	if strings.TrimSpace(requesterID) == "" {
		return time.Time{}, nil, errors.NotValidf("empty requester id")
	}
	if entries == nil {
		return time.Time{}, nil, errors.NotValidf("missing entries")
	}

	parsed := make([]parsedEntry, 0, len(entries))
	for i, e := range entries {
		athleteID := strings.TrimSpace(e.AthleteID)
		if athleteID == "" {
			return time.Time{}, nil, errors.NotValidf("entry %d without athlete id", i)
		}
		status, err := attendance.ParseStatus(e.Status)
		if err != nil {
			return time.Time{}, nil, errors.Annotatef(err, "entry %d", i)
		}
		parsed = append(parsed, parsedEntry{athleteID: athleteID, status: status})
	}
	return day, parsed, nil
}
