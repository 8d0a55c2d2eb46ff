// Package directory defines the boundary to the external team/application
// directory service that answers membership, ownership, and admin queries.
package directory

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Application describes an application's ownership as the directory knows it.
type Application struct {
	ID      string
	OwnerID string
	// TeamID is the owning team, if any.
	TeamID string
}

// Directory answers the membership and ownership queries used by scope
// authorization. Implementations may call out to a remote service; all
// methods take a context for cancellation.
type Directory interface {
	// IsTeamMember reports whether userID belongs to teamID.
	// Returns memory.ErrNotFound for an unknown team.
	IsTeamMember(ctx context.Context, userID, teamID string) (bool, error)

	// IsTeamAdmin reports whether userID administers teamID.
	// Returns memory.ErrNotFound for an unknown team.
	IsTeamAdmin(ctx context.Context, userID, teamID string) (bool, error)

	// TeamsFor lists the teams userID belongs to.
	TeamsFor(ctx context.Context, userID string) ([]string, error)

	// Application resolves an application by id.
	// Returns memory.ErrNotFound for an unknown application.
	Application(ctx context.Context, appID string) (*Application, error)

	// ApplicationsFor lists the applications userID can access, either as
	// owner or through the owning team.
	ApplicationsFor(ctx context.Context, userID string) ([]string, error)

	// IsSystemAdmin reports whether userID is a system administrator.
	IsSystemAdmin(ctx context.Context, userID string) (bool, error)
}

// team holds one team's membership for the static directory.
type team struct {
	members map[string]bool
	admins  map[string]bool
}

// Static is a config-seeded Directory. It stands in for the external
// directory service in single-node deployments and tests.
type Static struct {
	teams  map[string]*team
	apps   map[string]*Application
	admins map[string]bool
}

// NewStatic builds a Static directory from seed data.
func NewStatic() *Static {
	return &Static{
		teams:  make(map[string]*team),
		apps:   make(map[string]*Application),
		admins: make(map[string]bool),
	}
}

// AddTeam registers a team with its members and admins. Admins are members.
func (s *Static) AddTeam(teamID string, members, admins []string) {
	t := &team{members: make(map[string]bool), admins: make(map[string]bool)}
	for _, m := range members {
		t.members[m] = true
	}
	for _, a := range admins {
		t.members[a] = true
		t.admins[a] = true
	}
	s.teams[teamID] = t
}

// AddApplication registers an application with its owner and owning team.
func (s *Static) AddApplication(appID, ownerID, teamID string) {
	s.apps[appID] = &Application{ID: appID, OwnerID: ownerID, TeamID: teamID}
}

// AddSystemAdmin flags a user as system administrator.
func (s *Static) AddSystemAdmin(userID string) {
	s.admins[userID] = true
}

func (s *Static) IsTeamMember(_ context.Context, userID, teamID string) (bool, error) {
	t, ok := s.teams[teamID]
	if !ok {
		return false, fmt.Errorf("%w: team %q", memory.ErrNotFound, teamID)
	}
	return t.members[userID], nil
}

func (s *Static) IsTeamAdmin(_ context.Context, userID, teamID string) (bool, error) {
	t, ok := s.teams[teamID]
	if !ok {
		return false, fmt.Errorf("%w: team %q", memory.ErrNotFound, teamID)
	}
	return t.admins[userID], nil
}

func (s *Static) TeamsFor(_ context.Context, userID string) ([]string, error) {
	var teams []string
	for id, t := range s.teams {
		if t.members[userID] {
			teams = append(teams, id)
		}
	}
	return teams, nil
}

func (s *Static) Application(_ context.Context, appID string) (*Application, error) {
	app, ok := s.apps[appID]
	if !ok {
		return nil, fmt.Errorf("%w: application %q", memory.ErrNotFound, appID)
	}
	return app, nil
}

func (s *Static) ApplicationsFor(ctx context.Context, userID string) ([]string, error) {
	var apps []string
	for id, app := range s.apps {
		if app.OwnerID == userID {
			apps = append(apps, id)
			continue
		}
		if app.TeamID != "" {
			if member, err := s.IsTeamMember(ctx, userID, app.TeamID); err == nil && member {
				apps = append(apps, id)
			}
		}
	}
	return apps, nil
}

func (s *Static) IsSystemAdmin(_ context.Context, userID string) (bool, error) {
	return s.admins[userID], nil
}
