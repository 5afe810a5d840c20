package gym

import (
	"strings"

	"github.com/juju/errors"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCoach   Role = "coach"
	RoleAthlete Role = "athlete"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleCoach, RoleAthlete:
		return r, nil
	}
	return "", errors.NotValidf("member role %q", raw)
}

// IsStaff reports whether the role may manage attendance.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleCoach
}

type Gym struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Member struct {
	ID    string `json:"id" db:"id"`
	GymID string `json:"gymId" db:"gym_id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
	Role  Role   `json:"role" db:"role"`
}
