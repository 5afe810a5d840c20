package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/juju/errors"

	"gymStreakAPI/internal/types/gym"
)

type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) FindGym(ctx context.Context, gymID string) (*gym.Gym, error) {
	var g gym.Gym
	err := d.db.QueryRowContext(ctx, `SELECT id, name FROM gyms WHERE id = ?`, gymID).Scan(&g.ID, &g.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "querying gym %s", gymID)
	}
	return &g, nil
}

func (d *Directory) FindMember(ctx context.Context, memberID string) (*gym.Member, error) {
	row := d.db.QueryRowContext(ctx, `
	SELECT id, gym_id, name, email, role
	FROM gym_members
	WHERE id = ?
	`, memberID)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "querying member %s", memberID)
	}
	return &m, nil
}

func (d *Directory) IsMember(ctx context.Context, gymID, memberID string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM gym_members WHERE gym_id = ? AND id = ?)`,
		gymID, memberID).Scan(&exists)
	if err != nil {
		return false, errors.Annotate(err, "checking membership")
	}
	return exists, nil
}

// ListMembers returns the members of gymID holding role, ordered by id.
func (d *Directory) ListMembers(ctx context.Context, gymID string, role gym.Role) ([]gym.Member, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT id, gym_id, name, email, role
	FROM gym_members
	WHERE gym_id = ? AND role = ?
	ORDER BY id
	`, gymID, string(role))
	if err != nil {
		return nil, errors.Annotate(err, "listing members")
	}
	defer rows.Close()

	var members []gym.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, errors.Annotate(err, "scanning member")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterating members")
	}
	return members, nil
}

func (d *Directory) UpsertGym(ctx context.Context, g gym.Gym) error {
	if strings.TrimSpace(g.ID) == "" {
		return errors.NotValidf("gym without id")
	}
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO gyms (id, name, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, g.ID, g.Name, formatTime(time.Now()))
	return mapError(err, "upserting gym %s", g.ID)
}

func (d *Directory) UpsertMember(ctx context.Context, m gym.Member) error {
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.GymID) == "" {
		return errors.NotValidf("member without id or gym")
	}
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO gym_members (id, gym_id, name, email, role, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		gym_id = excluded.gym_id,
		name = excluded.name,
		email = excluded.email,
		role = excluded.role,
		updated_at = excluded.updated_at
	`, m.ID, m.GymID, m.Name, m.Email, string(m.Role), formatTime(time.Now()))
	return mapError(err, "upserting member %s", m.ID)
}

func (d *Directory) DeleteMember(ctx context.Context, memberID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM gym_members WHERE id = ?`, memberID)
	if err != nil {
		return errors.Annotatef(err, "deleting member %s", memberID)
	}
	return nil
}

func scanMember(row scanner) (gym.Member, error) {
	var (
		m    gym.Member
		role string
	)
	if err := row.Scan(&m.ID, &m.GymID, &m.Name, &m.Email, &role); err != nil {
		return gym.Member{}, err
	}
	m.Role = gym.Role(role)
	return m, nil
}
