package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"gymStreakAPI/internal/types/gym"
)

type Directory struct {
	db *pgxpool.Pool
}

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

func (d *Directory) FindGym(ctx context.Context, gymID string) (*gym.Gym, error) {
	var g gym.Gym
	err := d.db.QueryRow(ctx, `SELECT id, name FROM gyms WHERE id = $1`, gymID).Scan(&g.ID, &g.Name)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "querying gym %s", gymID)
	}
	return &g, nil
}

func (d *Directory) FindMember(ctx context.Context, memberID string) (*gym.Member, error) {
	var (
		m    gym.Member
		role string
	)
	err := d.db.QueryRow(ctx, `
	SELECT id, gym_id, name, email, role
	FROM gym_members
	WHERE id = $1
	`, memberID).Scan(&m.ID, &m.GymID, &m.Name, &m.Email, &role)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "querying member %s", memberID)
	}
	m.Role = gym.Role(role)
	return &m, nil
}

func (d *Directory) IsMember(ctx context.Context, gymID, memberID string) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM gym_members WHERE gym_id = $1 AND id = $2)`,
		gymID, memberID).Scan(&exists)
	if err != nil {
		return false, errors.Annotate(err, "checking membership")
	}
	return exists, nil
}

func (d *Directory) ListMembers(ctx context.Context, gymID string, role gym.Role) ([]gym.Member, error) {
	rows, err := d.db.Query(ctx, `
	SELECT id, gym_id, name, email, role
	FROM gym_members
	WHERE gym_id = $1 AND role = $2
	ORDER BY id
	`, gymID, string(role))
	if err != nil {
		return nil, errors.Annotate(err, "listing members")
	}
	defer rows.Close()

	var members []gym.Member
	for rows.Next() {
		var (
			m    gym.Member
			role string
		)
		if err := rows.Scan(&m.ID, &m.GymID, &m.Name, &m.Email, &role); err != nil {
			return nil, errors.Annotate(err, "scanning member")
		}
		m.Role = gym.Role(role)
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
	_, err := d.db.Exec(ctx, `
	INSERT INTO gyms (id, name)
	VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, g.ID, g.Name)
	return mapError(err, "upserting gym %s", g.ID)
}

func (d *Directory) UpsertMember(ctx context.Context, m gym.Member) error {
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.GymID) == "" {
		return errors.NotValidf("member without id or gym")
	}
	_, err := d.db.Exec(ctx, `
	INSERT INTO gym_members (id, gym_id, name, email, role, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (id) DO UPDATE SET
		gym_id = EXCLUDED.gym_id,
		name = EXCLUDED.name,
		email = EXCLUDED.email,
		role = EXCLUDED.role,
		updated_at = NOW()
	`, m.ID, m.GymID, m.Name, m.Email, string(m.Role))
	return mapError(err, "upserting member %s", m.ID)
}

func (d *Directory) DeleteMember(ctx context.Context, memberID string) error {
	if _, err := d.db.Exec(ctx, `DELETE FROM gym_members WHERE id = $1`, memberID); err != nil {
		return errors.Annotatef(err, "deleting member %s", memberID)
	}
	return nil
}
