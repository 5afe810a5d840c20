package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"gymStreakAPI/internal/types/attendance"
)

const attendanceColumns = `id, gym_id, athlete_id, day, status, created_at, updated_at`

type AttendanceRepository struct {
	db *pgxpool.Pool
}

func NewAttendanceRepository(db *pgxpool.Pool) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert relies on the (gym_id, athlete_id, day) constraint so concurrent
// writers of one key converge on a single row.
func (r *AttendanceRepository) Upsert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if err := rec.Validate(); err != nil {
		return attendance.Record{}, err
	}

	query := `
	INSERT INTO attendance (` + attendanceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (gym_id, athlete_id, day)
	DO UPDATE SET
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at
	RETURNING ` + attendanceColumns

	row := r.db.QueryRow(ctx, query,
		rec.ID, rec.GymID, rec.AthleteID, rec.Day, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	stored, err := scanRecord(row)
	if err != nil {
		return attendance.Record{}, mapError(err, "upserting attendance %s", rec.Key())
	}
	return stored, nil
}

func (r *AttendanceRepository) FindByAthleteAndDay(ctx context.Context, athleteID string, day time.Time) (*attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE athlete_id = $1 AND day = $2
	ORDER BY updated_at DESC
	LIMIT 1
	`
	return r.findOne(ctx, query, athleteID, day)
}

func (r *AttendanceRepository) FindByGymAthleteAndDay(ctx context.Context, gymID, athleteID string, day time.Time) (*attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE gym_id = $1 AND athlete_id = $2 AND day = $3
	`
	return r.findOne(ctx, query, gymID, athleteID, day)
}

func (r *AttendanceRepository) FindAllByGymAndDay(ctx context.Context, gymID string, day time.Time) ([]attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE gym_id = $1 AND day = $2
	ORDER BY athlete_id
	`
	return r.findMany(ctx, query, gymID, day)
}

func (r *AttendanceRepository) FindLatestOnOrBefore(ctx context.Context, athleteID string, day time.Time) (*attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE athlete_id = $1 AND day <= $2
	ORDER BY day DESC, updated_at DESC
	LIMIT 1
	`
	return r.findOne(ctx, query, athleteID, day)
}

func (r *AttendanceRepository) FindRange(ctx context.Context, athleteID string, from, to time.Time) ([]attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE athlete_id = $1 AND day BETWEEN $2 AND $3
	ORDER BY day DESC, updated_at DESC
	`
	return r.findMany(ctx, query, athleteID, from, to)
}

func (r *AttendanceRepository) Delete(ctx context.Context, gymID, athleteID string, day time.Time) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM attendance WHERE gym_id = $1 AND athlete_id = $2 AND day = $3`,
		gymID, athleteID, day)
	if err != nil {
		return errors.Annotate(err, "deleting attendance")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundf("attendance for %s on %s", athleteID, attendance.FormatDay(day))
	}
	return nil
}

func (r *AttendanceRepository) findOne(ctx context.Context, query string, args ...any) (*attendance.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Annotate(err, "querying attendance")
	}
	return &rec, nil
}

func (r *AttendanceRepository) findMany(ctx context.Context, query string, args ...any) ([]attendance.Record, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Annotate(err, "querying attendance")
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Annotate(err, "scanning attendance")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterating attendance")
	}
	return records, nil
}

func scanRecord(row pgx.Row) (attendance.Record, error) {
	var (
		rec    attendance.Record
		status string
	)
	if err := row.Scan(&rec.ID, &rec.GymID, &rec.AthleteID, &rec.Day, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return attendance.Record{}, err
	}

	var err error
	if rec.Status, err = attendance.ParseStatus(status); err != nil {
		return attendance.Record{}, err
	}
	rec.Day = attendance.NormalizeDay(rec.Day)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
