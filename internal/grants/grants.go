// Package grants defines the shared vocabulary of the access-control
// subsystem: collaborator roles, effective permissions, and the error
// taxonomy every grant operation reports against.
package grants

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role is a collaborator role on a trip. Owner is implicit: the trip
// record carries the owner id and no Collaborator row is ever stored
// for it.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// ParseRole parses a storable role (viewer, editor, admin). Owner is
// rejected: it is derived from trip ownership, never assigned.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleViewer:
		return RoleViewer, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be one of viewer, editor, admin", s)
	}
}

// rank orders roles for escalation checks: viewer < editor < admin < owner.
func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 4
	default:
		return 0
	}
}

// AtMost reports whether r is at or below other in the role ordering.
func (r Role) AtMost(other Role) bool {
	return r.rank() <= other.rank()
}

// EffectivePermission is the resolved set of allowed actions for one
// caller on one trip. It is derived per request, never stored.
type EffectivePermission struct {
	CanView                bool `json:"can_view"`
	CanEdit                bool `json:"can_edit"`
	CanInvite              bool `json:"can_invite"`
	CanManageCollaborators bool `json:"can_manage_collaborators"`
}

// None returns the all-false permission set.
func None() EffectivePermission {
	return EffectivePermission{}
}

// ForRole returns the permission set for a stored collaborator role.
// Unknown roles degrade to viewer.
func ForRole(r Role) EffectivePermission {
	switch r {
	case RoleEditor:
		return EffectivePermission{CanView: true, CanEdit: true}
	case RoleAdmin, RoleOwner:
		return EffectivePermission{CanView: true, CanEdit: true, CanInvite: true, CanManageCollaborators: true}
	default:
		return EffectivePermission{CanView: true}
	}
}

// ForShareLink returns the permission set conferred by a resolved share
// link. Link holders never invite or manage collaborators.
func ForShareLink(allowEditing bool) EffectivePermission {
	return EffectivePermission{CanView: true, CanEdit: allowEditing}
}

// Grant is a resolved permission plus how it was obtained. The access
// middleware attaches it to the request context; handlers read it back
// with GrantFromContext.
type Grant struct {
	Permission EffectivePermission

	// Role is set for owner/collaborator grants.
	Role Role

	// ViaShareToken is true when the grant came from a share link.
	ViaShareToken bool
}

type grantKey struct{}

// WithGrant attaches a resolved grant to the context.
func WithGrant(ctx context.Context, g *Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

// GrantFromContext returns the grant resolved for this request.
func GrantFromContext(ctx context.Context) (*Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(*Grant)
	return g, ok && g != nil
}

// Grant resolution errors. All are expected, user-facing outcomes local
// to a single grant; only storage failures propagate as hard errors.
var (
	ErrNotFound        = errors.New("grant not found")
	ErrExpired         = errors.New("grant expired")
	ErrRevoked         = errors.New("grant revoked")
	ErrInvalidState    = errors.New("grant in terminal state")
	ErrRoleEscalation  = errors.New("role exceeds inviter role")
	ErrEmailUnverified = errors.New("invitee email not verified")
	ErrWrongPassword   = errors.New("wrong share link password")
)

// StateConflictError reports a terminal-state conflict on replay,
// naming the state the grant is already in. It matches ErrInvalidState
// under errors.Is.
type StateConflictError struct {
	Status string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("invitation already %s", e.Status)
}

func (e *StateConflictError) Unwrap() error { return ErrInvalidState }
