// Package scope computes the effective visibility scope of reads and writes
// and authorizes them against the team/application directory.
package scope

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/directory"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Credential is the request context supplied by the auth/session layer:
// caller identity, whether the credential is team-bound, and an admin flag.
type Credential struct {
	// Subject is the authenticated user id.
	Subject string

	// TeamID is set when the credential is team-scoped rather than
	// individual. A team-bound credential defaults writes to team scope.
	TeamID string

	// Admin marks a system administrator credential.
	Admin bool
}

// Resolver authorizes scopes against the external directory.
type Resolver struct {
	dir    directory.Directory
	logger *logging.Logger
}

// NewResolver creates a scope resolver.
func NewResolver(dir directory.Directory, logger *logging.Logger) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{dir: dir, logger: logger}, nil
}

// ResolveAndAuthorize computes the effective scope for a write or an
// explicit-scope read and authorizes the actor against it.
//
// Effective scope: the explicit request value, else the credential default
// (a team-bound credential defaults to its team), else personal.
func (r *Resolver) ResolveAndAuthorize(ctx context.Context, cred Credential, requested memory.Scope, requestedID string) (memory.Scope, string, error) {
	scope, scopeID := requested, requestedID
	if scope == "" {
		if cred.TeamID != "" {
			scope, scopeID = memory.ScopeTeam, cred.TeamID
		} else {
			scope = memory.ScopePersonal
		}
	}

	if !scope.Valid() {
		return "", "", fmt.Errorf("%w: unknown scope %q", memory.ErrValidation, scope)
	}
	if scope.RequiresScopeID() && scopeID == "" {
		return "", "", fmt.Errorf("%w: scope %q requires a scope id", memory.ErrValidation, scope)
	}
	if !scope.RequiresScopeID() && scopeID != "" {
		return "", "", fmt.Errorf("%w: scope %q must not carry a scope id", memory.ErrValidation, scope)
	}

	switch scope {
	case memory.ScopePersonal:
		// Always permitted.

	case memory.ScopeTeam:
		member, err := r.dir.IsTeamMember(ctx, cred.Subject, scopeID)
		if err != nil {
			return "", "", err
		}
		if !member {
			return "", "", fmt.Errorf("%w: %s is not a member of team %s", memory.ErrPermissionDenied, cred.Subject, scopeID)
		}

	case memory.ScopeApplication:
		if err := r.authorizeApplication(ctx, cred.Subject, scopeID); err != nil {
			return "", "", err
		}

	case memory.ScopeGlobal:
		admin, err := r.isSystemAdmin(ctx, cred)
		if err != nil {
			return "", "", err
		}
		if !admin {
			return "", "", fmt.Errorf("%w: global scope requires a system administrator", memory.ErrPermissionDenied)
		}
	}

	r.logger.Debug(ctx, "scope resolved",
		zap.String("scope", string(scope)),
		zap.String("scope_id", scopeID))
	return scope, scopeID, nil
}

// authorizeApplication permits the application's owner or a member of the
// owning team.
func (r *Resolver) authorizeApplication(ctx context.Context, userID, appID string) error {
	app, err := r.dir.Application(ctx, appID)
	if err != nil {
		return err
	}
	if app.OwnerID == userID {
		return nil
	}
	if app.TeamID != "" {
		member, err := r.dir.IsTeamMember(ctx, userID, app.TeamID)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not use application %s", memory.ErrPermissionDenied, userID, appID)
}

// AuthorizeDelete checks delete permission against the memory's current
// scope and author: personal requires the author; team and application
// allow the author or the scope's team admin; global requires a system
// administrator.
func (r *Resolver) AuthorizeDelete(ctx context.Context, cred Credential, m *memory.Memory) error {
	switch m.Scope {
	case memory.ScopePersonal:
		if m.AuthorID != cred.Subject {
			return fmt.Errorf("%w: only the author may forget a personal memory", memory.ErrPermissionDenied)
		}
		return nil

	case memory.ScopeTeam:
		if m.AuthorID == cred.Subject {
			return nil
		}
		admin, err := r.dir.IsTeamAdmin(ctx, cred.Subject, m.ScopeID)
		if err != nil {
			return err
		}
		if !admin {
			return fmt.Errorf("%w: forget requires the author or a team admin", memory.ErrPermissionDenied)
		}
		return nil

	case memory.ScopeApplication:
		if m.AuthorID == cred.Subject {
			return nil
		}
		app, err := r.dir.Application(ctx, m.ScopeID)
		if err != nil {
			return err
		}
		if app.OwnerID == cred.Subject {
			return nil
		}
		if app.TeamID != "" {
			admin, err := r.dir.IsTeamAdmin(ctx, cred.Subject, app.TeamID)
			if err != nil {
				return err
			}
			if admin {
				return nil
			}
		}
		return fmt.Errorf("%w: forget requires the author, the application owner, or an owning-team admin", memory.ErrPermissionDenied)

	case memory.ScopeGlobal:
		admin, err := r.isSystemAdmin(ctx, cred)
		if err != nil {
			return err
		}
		if !admin {
			return fmt.Errorf("%w: forgetting a global memory requires a system administrator", memory.ErrPermissionDenied)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown scope %q", memory.ErrValidation, m.Scope)
}

// VisibleSelectors returns the union of scope selectors the caller can read:
// personal (caller-owned), every team they belong to, every application they
// can access, and global.
func (r *Resolver) VisibleSelectors(ctx context.Context, cred Credential) ([]memory.ScopeSelector, error) {
	selectors := []memory.ScopeSelector{
		{Scope: memory.ScopePersonal, OwnerID: cred.Subject},
	}

	teams, err := r.dir.TeamsFor(ctx, cred.Subject)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	for _, teamID := range teams {
		selectors = append(selectors, memory.ScopeSelector{Scope: memory.ScopeTeam, ScopeID: teamID})
	}

	apps, err := r.dir.ApplicationsFor(ctx, cred.Subject)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	for _, appID := range apps {
		selectors = append(selectors, memory.ScopeSelector{Scope: memory.ScopeApplication, ScopeID: appID})
	}

	selectors = append(selectors, memory.ScopeSelector{Scope: memory.ScopeGlobal})
	return selectors, nil
}

// NarrowSelectors restricts the caller's visible selectors to an explicitly
// requested scope type and optional scope id. An explicit scope the caller
// cannot see yields no selectors, which reads as an empty result, not an
// error.
func (r *Resolver) NarrowSelectors(ctx context.Context, cred Credential, requested memory.Scope, requestedID string) ([]memory.ScopeSelector, error) {
	if !requested.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", memory.ErrValidation, requested)
	}

	visible, err := r.VisibleSelectors(ctx, cred)
	if err != nil {
		return nil, err
	}

	var narrowed []memory.ScopeSelector
	for _, sel := range visible {
		if sel.Scope != requested {
			continue
		}
		if requestedID != "" && sel.ScopeID != requestedID {
			continue
		}
		narrowed = append(narrowed, sel)
	}
	return narrowed, nil
}

func (r *Resolver) isSystemAdmin(ctx context.Context, cred Credential) (bool, error) {
	if cred.Admin {
		return true, nil
	}
	return r.dir.IsSystemAdmin(ctx, cred.Subject)
}
