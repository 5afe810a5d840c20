// Package postgres is the production storage backend on pgx. Streak units
// lock the athlete's row with SELECT ... FOR UPDATE and still bump the
// version column so both backends share one conflict contract.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

const uniqueViolation = "23505"

type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS gyms (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS gym_members (
		id         TEXT PRIMARY KEY,
		gym_id     TEXT NOT NULL REFERENCES gyms(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		role       TEXT NOT NULL CHECK (role IN ('admin', 'coach', 'athlete')),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS gym_members_gym_role_idx ON gym_members (gym_id, role)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id         UUID PRIMARY KEY,
		gym_id     TEXT NOT NULL,
		athlete_id TEXT NOT NULL,
		day        DATE NOT NULL,
		status     TEXT NOT NULL CHECK (status IN ('present', 'absent', 'excused')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT attendance_gym_athlete_day_key UNIQUE (gym_id, athlete_id, day)
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_athlete_day_idx ON attendance (athlete_id, day DESC)`,
	`CREATE TABLE IF NOT EXISTS streaks (
		id              UUID PRIMARY KEY,
		athlete_id      TEXT NOT NULL UNIQUE,
		current_count   INTEGER NOT NULL CHECK (current_count >= 0),
		state           TEXT NOT NULL CHECK (state IN ('active', 'frozen')),
		personal_record INTEGER NOT NULL CHECK (personal_record >= current_count),
		last_updated    TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		version         BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS streak_history (
		id            UUID PRIMARY KEY,
		athlete_id    TEXT NOT NULL,
		streak_id     UUID NOT NULL REFERENCES streaks(id) ON DELETE CASCADE,
		start_day     DATE NOT NULL,
		end_day       DATE,
		duration_days INTEGER NOT NULL DEFAULT 0,
		end_reason    TEXT,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS streak_history_one_open_idx ON streak_history (athlete_id) WHERE end_day IS NULL`,
}

// Open connects a pool to databaseURL, pings it and applies the schema.
func Open(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Annotate(err, "failed to parse database URL")
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Annotate(err, "failed to ping database")
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errors.Annotate(err, "applying postgres schema")
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

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
