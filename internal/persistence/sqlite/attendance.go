package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"gymStreakAPI/internal/types/attendance"
)

const attendanceColumns = `id, gym_id, athlete_id, day, status, created_at, updated_at`

type AttendanceRepository struct {
	db *sql.DB
}

func NewAttendanceRepository(db *sql.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) Upsert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if err := rec.Validate(); err != nil {
		return attendance.Record{}, err
	}

	query := `
	INSERT INTO attendance (` + attendanceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (gym_id, athlete_id, day)
	DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at
	RETURNING ` + attendanceColumns

	row := r.db.QueryRowContext(ctx, query,
		rec.ID.String(),
		rec.GymID,
		rec.AthleteID,
		formatDay(rec.Day),
		string(rec.Status),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
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
	WHERE athlete_id = ? AND day = ?
	ORDER BY updated_at DESC
	LIMIT 1
	`
	return r.findOne(ctx, query, athleteID, formatDay(day))
}

func (r *AttendanceRepository) FindByGymAthleteAndDay(ctx context.Context, gymID, athleteID string, day time.Time) (*attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE gym_id = ? AND athlete_id = ? AND day = ?
	`
	return r.findOne(ctx, query, gymID, athleteID, formatDay(day))
}

func (r *AttendanceRepository) FindAllByGymAndDay(ctx context.Context, gymID string, day time.Time) ([]attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE gym_id = ? AND day = ?
	ORDER BY athlete_id
	`
	return r.findMany(ctx, query, gymID, formatDay(day))
}

func (r *AttendanceRepository) FindLatestOnOrBefore(ctx context.Context, athleteID string, day time.Time) (*attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE athlete_id = ? AND day <= ?
	ORDER BY day DESC, updated_at DESC
	LIMIT 1
	`
	return r.findOne(ctx, query, athleteID, formatDay(day))
}

func (r *AttendanceRepository) FindRange(ctx context.Context, athleteID string, from, to time.Time) ([]attendance.Record, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE athlete_id = ? AND day >= ? AND day <= ?
	ORDER BY day DESC, updated_at DESC
	`
	return r.findMany(ctx, query, athleteID, formatDay(from), formatDay(to))
}

func (r *AttendanceRepository) Delete(ctx context.Context, gymID, athleteID string, day time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM attendance WHERE gym_id = ? AND athlete_id = ? AND day = ?`,
		gymID, athleteID, formatDay(day))
	if err != nil {
		return errors.Annotate(err, "deleting attendance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Annotate(err, "deleting attendance")
	}
	if n == 0 {
		return errors.NotFoundf("attendance for %s on %s", athleteID, formatDay(day))
	}
	return nil
}

func (r *AttendanceRepository) findOne(ctx context.Context, query string, args ...any) (*attendance.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Annotate(err, "querying attendance")
	}
	return &rec, nil
}

func (r *AttendanceRepository) findMany(ctx context.Context, query string, args ...any) ([]attendance.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

func scanRecord(row scanner) (attendance.Record, error) {
	var (
		rec                  attendance.Record
		id, day, status      string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &rec.GymID, &rec.AthleteID, &day, &status, &createdAt, &updatedAt); err != nil {
		return attendance.Record{}, err
	}

	var err error
	if rec.ID, err = uuid.Parse(id); err != nil {
		return attendance.Record{}, errors.Annotatef(err, "stored attendance id %q", id)
	}
	if rec.Day, err = parseDay(day); err != nil {
		return attendance.Record{}, err
	}
	if rec.Status, err = attendance.ParseStatus(status); err != nil {
		return attendance.Record{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return attendance.Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return attendance.Record{}, err
	}
	return rec, nil
}
