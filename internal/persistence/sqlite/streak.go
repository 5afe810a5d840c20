package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/streak"
)

const streakColumns = `id, athlete_id, current_count, state, personal_record, last_updated, created_at, version`

const historyColumns = `id, athlete_id, streak_id, start_day, end_day, duration_days, end_reason, created_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type StreakRepository struct {
	db *sql.DB
}

func NewStreakRepository(db *sql.DB) *StreakRepository {
	return &StreakRepository{db: db}
}

func (r *StreakRepository) WithAthlete(ctx context.Context, athleteID string, fn func(tx persistence.StreakTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&streakTx{q: tx, athleteID: athleteID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Annotate(err, "failed to commit transaction")
	}
	return nil
}

func (r *StreakRepository) FindOrCreate(ctx context.Context, seed streak.Streak) (streak.Streak, error) {
	return loadOrCreate(ctx, r.db, seed)
}

func (r *StreakRepository) History(ctx context.Context, athleteID string) ([]streak.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+historyColumns+`
	FROM streak_history
	WHERE athlete_id = ?
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
	q         queryer
	athleteID string
}

func (t *streakTx) LoadOrCreate(ctx context.Context, seed streak.Streak) (streak.Streak, error) {
	if seed.AthleteID != t.athleteID {
		return streak.Streak{}, errors.NotValidf("streak for %q inside unit of %q", seed.AthleteID, t.athleteID)
	}
	return loadOrCreate(ctx, t.q, seed)
}

func (t *streakTx) Save(ctx context.Context, s streak.Streak) error {
	if s.AthleteID != t.athleteID {
		return errors.NotValidf("streak for %q inside unit of %q", s.AthleteID, t.athleteID)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	res, err := t.q.ExecContext(ctx, `
	UPDATE streaks
	SET current_count = ?, state = ?, personal_record = ?, last_updated = ?, version = version + 1
	WHERE athlete_id = ? AND version = ?
	`, s.CurrentCount, string(s.State), s.PersonalRecord, formatTime(s.LastUpdated), s.AthleteID, s.Version)
	if err != nil {
		return errors.Annotatef(err, "saving streak of %s", s.AthleteID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Annotatef(err, "saving streak of %s", s.AthleteID)
	}
	if n == 0 {
		return errors.Trace(persistence.ErrVersionConflict)
	}
	return nil
}

func (t *streakTx) OpenHistory(ctx context.Context) (*streak.HistoryEntry, error) {
	row := t.q.QueryRowContext(ctx, `
	SELECT `+historyColumns+`
	FROM streak_history
	WHERE athlete_id = ? AND end_day IS NULL
	`, t.athleteID)
	e, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	_, err := t.q.ExecContext(ctx, `
	INSERT INTO streak_history (`+historyColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.AthleteID, e.StreakID.String(), formatDay(e.Start), nullDay(e.End),
		e.DurationDays, nullString(e.EndReason), formatTime(e.CreatedAt))
	return mapError(err, "inserting streak history for %s", e.AthleteID)
}

func (t *streakTx) UpdateHistory(ctx context.Context, e streak.HistoryEntry) error {
	res, err := t.q.ExecContext(ctx, `
	UPDATE streak_history
	SET end_day = ?, duration_days = ?, end_reason = ?
	WHERE id = ? AND athlete_id = ?
	`, nullDay(e.End), e.DurationDays, nullString(e.EndReason), e.ID.String(), t.athleteID)
	if err != nil {
		return errors.Annotate(err, "updating streak history")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Annotate(err, "updating streak history")
	}
	if n == 0 {
		return errors.NotFoundf("streak history entry %s", e.ID)
	}
	return nil
}

func loadOrCreate(ctx context.Context, q queryer, seed streak.Streak) (streak.Streak, error) {
	if err := seed.Validate(); err != nil {
		return streak.Streak{}, err
	}
	_, err := q.ExecContext(ctx, `
	INSERT INTO streaks (`+streakColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT (athlete_id) DO NOTHING
	`, seed.ID.String(), seed.AthleteID, seed.CurrentCount, string(seed.State), seed.PersonalRecord,
		formatTime(seed.LastUpdated), formatTime(seed.CreatedAt))
	if err != nil {
		return streak.Streak{}, mapError(err, "creating streak of %s", seed.AthleteID)
	}

	row := q.QueryRowContext(ctx, `SELECT `+streakColumns+` FROM streaks WHERE athlete_id = ?`, seed.AthleteID)
	s, err := scanStreak(row)
	if err != nil {
		return streak.Streak{}, errors.Annotatef(err, "loading streak of %s", seed.AthleteID)
	}
	return s, nil
}

func scanStreak(row scanner) (streak.Streak, error) {
	var (
		s                      streak.Streak
		id, state              string
		lastUpdated, createdAt string
	)
	if err := row.Scan(&id, &s.AthleteID, &s.CurrentCount, &state, &s.PersonalRecord, &lastUpdated, &createdAt, &s.Version); err != nil {
		return streak.Streak{}, err
	}

	var err error
	if s.ID, err = uuid.Parse(id); err != nil {
		return streak.Streak{}, errors.Annotatef(err, "stored streak id %q", id)
	}
	s.State = streak.State(state)
	if s.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return streak.Streak{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return streak.Streak{}, err
	}
	if err := s.Validate(); err != nil {
		return streak.Streak{}, errors.Annotate(err, "stored streak")
	}
	return s, nil
}

func scanHistory(row scanner) (streak.HistoryEntry, error) {
	var (
		e                            streak.HistoryEntry
		id, streakID, start, created string
		end, reason                  sql.NullString
	)
	if err := row.Scan(&id, &e.AthleteID, &streakID, &start, &end, &e.DurationDays, &reason, &created); err != nil {
		return streak.HistoryEntry{}, err
	}

	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return streak.HistoryEntry{}, errors.Annotatef(err, "stored history id %q", id)
	}
	if e.StreakID, err = uuid.Parse(streakID); err != nil {
		return streak.HistoryEntry{}, errors.Annotatef(err, "stored streak id %q", streakID)
	}
	if e.Start, err = parseDay(start); err != nil {
		return streak.HistoryEntry{}, err
	}
	if end.Valid {
		d, err := parseDay(end.String)
		if err != nil {
			return streak.HistoryEntry{}, err
		}
		e.End = &d
	}
	if reason.Valid {
		r := reason.String
		e.EndReason = &r
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return streak.HistoryEntry{}, err
	}
	return e, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDay(d *time.Time) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDay(*d), Valid: true}
}
