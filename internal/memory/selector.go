package memory

// ScopeSelector names one visibility domain a query may draw from. A read
// filter is a union of selectors: a memory is visible when any selector
// matches it.
type ScopeSelector struct {
	// Scope is the visibility domain to match.
	Scope Scope

	// ScopeID restricts team/application selectors to one scope id.
	// Empty matches every scope id of the scope type.
	ScopeID string

	// OwnerID restricts personal selectors to one author. Personal
	// memories are never visible across owners, so resolvers always set
	// this for personal selectors.
	OwnerID string
}

// Matches reports whether the selector admits the memory.
func (s ScopeSelector) Matches(m *Memory) bool {
	if m.Scope != s.Scope {
		return false
	}
	switch s.Scope {
	case ScopePersonal:
		return s.OwnerID == "" || m.AuthorID == s.OwnerID
	case ScopeTeam, ScopeApplication:
		return s.ScopeID == "" || m.ScopeID == s.ScopeID
	case ScopeGlobal:
		return true
	}
	return false
}

// MatchesAny reports whether any selector admits the memory.
func MatchesAny(selectors []ScopeSelector, m *Memory) bool {
	for _, s := range selectors {
		if s.Matches(m) {
			return true
		}
	}
	return false
}
