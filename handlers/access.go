package handlers

import (
	"context"

	"github.com/juju/errors"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/gym"
)

// AccessPolicy decides who may touch a gym's attendance or an athlete's
// streak, using the member directory.
type AccessPolicy struct {
	directory persistence.Directory
}

func NewAccessPolicy(directory persistence.Directory) *AccessPolicy {
	return &AccessPolicy{directory: directory}
}

// GymStaff requires an admin or coach of gymID. An unknown gym is NotFound.
func (p *AccessPolicy) GymStaff(ctx context.Context, gymID, requesterID string) (gym.Member, error) {
	g, err := p.directory.FindGym(ctx, gymID)
	if err != nil {
		return gym.Member{}, errors.Trace(err)
	}
	if g == nil {
		return gym.Member{}, errors.NotFoundf("gym %s", gymID)
	}

	m, err := p.directory.FindMember(ctx, requesterID)
	if err != nil {
		return gym.Member{}, errors.Trace(err)
	}
	if m == nil || m.GymID != gymID || !m.Role.IsStaff() {
		return gym.Member{}, errors.Forbiddenf("%s on gym %s", requesterID, gymID)
	}
	return *m, nil
}

func (p *AccessPolicy) GymAdmin(ctx context.Context, gymID, requesterID string) error {
	m, err := p.GymStaff(ctx, gymID, requesterID)
	if err != nil {
		return err
	}
	if m.Role != gym.RoleAdmin {
		return errors.Forbiddenf("%s is not an admin of gym %s", requesterID, gymID)
	}
	return nil
}

// StreakReader allows athletes to read their own streak and staff to read
// the streaks of their gym's members.
func (p *AccessPolicy) StreakReader(ctx context.Context, athleteID, requesterID string) error {
	athlete, err := p.athlete(ctx, athleteID)
	if err != nil {
		return err
	}
	if requesterID == athleteID {
		return nil
	}

	requester, err := p.directory.FindMember(ctx, requesterID)
	if err != nil {
		return errors.Trace(err)
	}
	if requester == nil || requester.GymID != athlete.GymID || !requester.Role.IsStaff() {
		return errors.Forbiddenf("%s reading streak of %s", requesterID, athleteID)
	}
	return nil
}

func (p *AccessPolicy) AthleteAdmin(ctx context.Context, athleteID, requesterID string) error {
	athlete, err := p.athlete(ctx, athleteID)
	if err != nil {
		return err
	}
	return p.GymAdmin(ctx, athlete.GymID, requesterID)
}

func (p *AccessPolicy) athlete(ctx context.Context, athleteID string) (*gym.Member, error) {
	m, err := p.directory.FindMember(ctx, athleteID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if m == nil {
		return nil, errors.NotFoundf("user %s", athleteID)
	}
	return m, nil
}
