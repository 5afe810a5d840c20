package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/attendance"
	"gymStreakAPI/internal/types/streak"
)

const streakColumns = `id, athlete_id, current_count, state, personal_record, last_updated, created_at, version`

const historyColumns = `id, athlete_id, streak_id, start_day, end_day, duration_days, end_reason, created_at`

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type StreakRepository struct {
	db *pgxpool.Pool
}

func NewStreakRepository(db *pgxpool.Pool) *StreakRepository {
	return &StreakRepository{db: db}
}

func (r *StreakRepository) WithAthlete(ctx context.Context, athleteID string, fn func(tx persistence.StreakTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Annotate(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&streakTx{q: tx, athleteID: athleteID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Annotate(err, "failed to commit transaction")
	}
	return nil
}

func (r *StreakRepository) FindOrCreate(ctx context.Context, seed streak.Streak) (streak.Streak, error) {
	return loadOrCreate(ctx, r.db, seed, false)
}

func (r *StreakRepository) History(ctx context.Context, athleteID string) ([]streak.HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
	SELECT `+historyColumns+`
	FROM streak_history
	WHERE athlete_id = $1
	ORDER BY start_day DESC, created_at DESC
	`, athleteID)
	if err != nil {
		return nil, errors.Annotate(err, "querying streak history")
	}
	defer rows.Close()

	var entries []streak.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, errors.Annotate(err, "scanning streak history")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterating streak history")
	}
	return entries, nil
}

type streakTx struct {
	q         querier
	athleteID string
}

// LoadOrCreate locks the athlete's row until the unit ends.
func (t *streakTx) LoadOrCreate(ctx context.Context, seed streak.Streak) (streak.Streak, error) {
	if seed.AthleteID != t.athleteID {
		return streak.Streak{}, errors.NotValidf("streak for %q inside unit of %q", seed.AthleteID, t.athleteID)
	}
	return loadOrCreate(ctx, t.q, seed, true)
}

func (t *streakTx) Save(ctx context.Context, s streak.Streak) error {
	if s.AthleteID != t.athleteID {
		return errors.NotValidf("streak for %q inside unit of %q", s.AthleteID, t.athleteID)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	tag, err := t.q.Exec(ctx, `
	UPDATE streaks
	SET current_count = $1, state = $2, personal_record = $3, last_updated = $4, version = version + 1
	WHERE athlete_id = $5 AND version = $6
	`, s.CurrentCount, string(s.State), s.PersonalRecord, s.LastUpdated, s.AthleteID, s.Version)
	if err != nil {
		return errors.Annotatef(err, "saving streak of %s", s.AthleteID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Trace(persistence.ErrVersionConflict)
	}
	return nil
}

func (t *streakTx) OpenHistory(ctx context.Context) (*streak.HistoryEntry, error) {
	row := t.q.QueryRow(ctx, `
	SELECT `+historyColumns+`
	FROM streak_history
	WHERE athlete_id = $1 AND end_day IS NULL
	`, t.athleteID)
	e, err := scanHistory(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Annotate(err, "querying open streak history")
	}
	return &e, nil
}

func (t *streakTx) InsertHistory(ctx context.Context, e streak.HistoryEntry) error {
	if e.AthleteID != t.athleteID {
		return errors.NotValidf("history of %q inside unit of %q", e.AthleteID, t.athleteID)
	}
	_, err := t.q.Exec(ctx, `
	INSERT INTO streak_history (`+historyColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.AthleteID, e.StreakID, e.Start, e.End, e.DurationDays, e.EndReason, e.CreatedAt)
	return mapError(err, "inserting streak history for %s", e.AthleteID)
}

func (t *streakTx) UpdateHistory(ctx context.Context, e streak.HistoryEntry) error {
	tag, err := t.q.Exec(ctx, `
	UPDATE streak_history
	SET end_day = $1, duration_days = $2, end_reason = $3
	WHERE id = $4 AND athlete_id = $5
	`, e.End, e.DurationDays, e.EndReason, e.ID, t.athleteID)
	if err != nil {
		return errors.Annotate(err, "updating streak history")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundf("streak history entry %s", e.ID)
	}
	return nil
}

func loadOrCreate(ctx context.Context, q querier, seed streak.Streak, lock bool) (streak.Streak, error) {
	if err := seed.Validate(); err != nil {
		return streak.Streak{}, err
	}
	_, err := q.Exec(ctx, `
	INSERT INTO streaks (`+streakColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
	ON CONFLICT (athlete_id) DO NOTHING
	`, seed.ID, seed.AthleteID, seed.CurrentCount, string(seed.State), seed.PersonalRecord, seed.LastUpdated, seed.CreatedAt)
	if err != nil {
		return streak.Streak{}, mapError(err, "creating streak of %s", seed.AthleteID)
	}

	query := `SELECT ` + streakColumns + ` FROM streaks WHERE athlete_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	s, err := scanStreak(q.QueryRow(ctx, query, seed.AthleteID))
	if err != nil {
		return streak.Streak{}, errors.Annotatef(err, "loading streak of %s", seed.AthleteID)
	}
	return s, nil
}

func scanStreak(row pgx.Row) (streak.Streak, error) {
	var (
		s     streak.Streak
		state string
	)
	if err := row.Scan(&s.ID, &s.AthleteID, &s.CurrentCount, &state, &s.PersonalRecord, &s.LastUpdated, &s.CreatedAt, &s.Version); err != nil {
		return streak.Streak{}, err
	}
	s.State = streak.State(state)
	s.LastUpdated = s.LastUpdated.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if err := s.Validate(); err != nil {
		return streak.Streak{}, errors.Annotate(err, "stored streak")
	}
	return s, nil
}

func scanHistory(row pgx.Row) (streak.HistoryEntry, error) {
	var e streak.HistoryEntry
	if err := row.Scan(&e.ID, &e.AthleteID, &e.StreakID, &e.Start, &e.End, &e.DurationDays, &e.EndReason, &e.CreatedAt); err != nil {
		return streak.HistoryEntry{}, err
	}
	e.Start = attendance.NormalizeDay(e.Start)
	if e.End != nil {
		end := attendance.NormalizeDay(*e.End)
		e.End = &end
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
