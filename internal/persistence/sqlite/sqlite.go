// Package sqlite is the embedded storage backend built on modernc.org/sqlite.
// It serializes writers on a single connection and guards streak updates with
// an optimistic version check.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"gymStreakAPI/internal/types/attendance"
)

const timeLayout = time.RFC3339Nano

var schema = []string{
	`CREATE TABLE IF NOT EXISTS gyms (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS gym_members (
		id         TEXT PRIMARY KEY,
		gym_id     TEXT NOT NULL REFERENCES gyms(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		role       TEXT NOT NULL CHECK (role IN ('admin', 'coach', 'athlete')),
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS gym_members_gym_role_idx ON gym_members (gym_id, role)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id         TEXT PRIMARY KEY,
		gym_id     TEXT NOT NULL,
		athlete_id TEXT NOT NULL,
		day        TEXT NOT NULL,
		status     TEXT NOT NULL CHECK (status IN ('present', 'absent', 'excused')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CONSTRAINT attendance_gym_athlete_day_key UNIQUE (gym_id, athlete_id, day)
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_athlete_day_idx ON attendance (athlete_id, day)`,
	`CREATE TABLE IF NOT EXISTS streaks (
		id              TEXT PRIMARY KEY,
		athlete_id      TEXT NOT NULL UNIQUE,
		current_count   INTEGER NOT NULL CHECK (current_count >= 0),
		state           TEXT NOT NULL CHECK (state IN ('active', 'frozen')),
		personal_record INTEGER NOT NULL CHECK (personal_record >= current_count),
		last_updated    TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		version         INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS streak_history (
		id            TEXT PRIMARY KEY,
		athlete_id    TEXT NOT NULL,
		streak_id     TEXT NOT NULL REFERENCES streaks(id) ON DELETE CASCADE,
		start_day     TEXT NOT NULL,
		end_day       TEXT,
		duration_days INTEGER NOT NULL DEFAULT 0,
		end_reason    TEXT,
		created_at    TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS streak_history_one_open_idx ON streak_history (athlete_id) WHERE end_day IS NULL`,
}

// Open opens (creating if needed) the database file at path and applies the
// schema. A single connection is kept so writers never see SQLITE_BUSY.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Annotatef(err, "creating sqlite directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Annotate(err, "opening sqlite database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, errors.Annotatef(err, "applying %q", p)
		}
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Annotate(err, "applying sqlite schema")
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, errors.Annotatef(err, "parsing stored timestamp %q", raw)
	}
	return t, nil
}

func formatDay(t time.Time) string {
	return attendance.FormatDay(t)
}

func parseDay(raw string) (time.Time, error) {
	t, err := time.Parse(attendance.DayLayout, raw)
	if err != nil {
		return time.Time{}, errors.Annotatef(err, "parsing stored day %q", raw)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}

// mapError converts driver errors to the engine's error kinds.
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if isUniqueViolation(err) {
		return errors.NewAlreadyExists(err, msg)
	}
	return errors.Annotate(err, msg)
}
