package directory

import "github.com/fyrsmithlabs/memoryd/internal/config"

// FromConfig builds a Static directory from the seeded directory section.
func FromConfig(cfg config.DirectoryConfig) *Static {
	s := NewStatic()
	for id, t := range cfg.Teams {
		s.AddTeam(id, t.Members, t.Admins)
	}
	for id, a := range cfg.Applications {
		s.AddApplication(id, a.Owner, a.Team)
	}
	for _, admin := range cfg.Admins {
		s.AddSystemAdmin(admin)
	}
	return s
}
