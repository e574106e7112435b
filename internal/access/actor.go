// Package access resolves who an actor is (their active role bindings and
// permissions) and compiles the row-visibility predicate that every
// project read and transition is screened through.
package access

import (
	"time"

	"pims/api/internal/store"
)

// Distinguished permission strings.
const (
	PermAll            = "all"
	PermFullAccess     = "full_access"
	PermViewProject    = "view_project"
	PermCreateProject  = "create_project"
	PermViewIPRActions = "view_ipr_actions"
)

// OrgSentinelAll in a binding's allowed-organization override grants
// visibility over every organization.
const OrgSentinelAll = "all"

// ActiveRole pairs a live binding with its resolved role definition.
type ActiveRole struct {
	Binding store.UserRole
	Role    store.Role
}

// Actor is the resolved request identity: built once at the request
// boundary and passed by value everywhere downstream.
type Actor struct {
	UserID         string
	OrganizationID *string
	Roles          []ActiveRole
	// SelectedRoleID narrows permission checks to one binding when the
	// actor has switched roles; empty means evaluate across all bindings.
	SelectedRoleID string
}

// ActiveBindings filters bindings per the activation rule: the binding is
// approved, and for delegated bindings the asOf date falls inside the
// delegation window (inclusive on both ends).
func ActiveBindings(bindings []store.UserRole, asOf time.Time) []store.UserRole {
	day := asOf.Truncate(24 * time.Hour)
	out := []store.UserRole{}
	for _, b := range bindings {
		if !b.IsApproved {
			continue
		}
		if b.IsDelegated {
			if b.StartDate == nil || b.EndDate == nil {
				continue
			}
			if day.Before(b.StartDate.Truncate(24*time.Hour)) || day.After(b.EndDate.Truncate(24*time.Hour)) {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// effectiveRoles returns the selected binding when one is chosen and it is
// still active, otherwise every active binding.
func (a Actor) effectiveRoles() []ActiveRole {
	if a.SelectedRoleID == "" {
		return a.Roles
	}
	for _, r := range a.Roles {
		if r.Binding.RoleID == a.SelectedRoleID || r.Binding.ID == a.SelectedRoleID {
			return []ActiveRole{r}
		}
	}
	return a.Roles
}

// HasPermission reports whether any effective role grants the permission.
// FULL_ACCESS and the "all" wildcard short-circuit specific checks.
func (a Actor) HasPermission(permission string) bool {
	for _, r := range a.effectiveRoles() {
		for _, p := range r.Role.Permissions {
			if p == PermFullAccess || p == PermAll || p == permission {
				return true
			}
		}
	}
	return false
}

// HasFullAccess reports the FULL_ACCESS short-circuit specifically.
func (a Actor) HasFullAccess() bool {
	for _, r := range a.effectiveRoles() {
		for _, p := range r.Role.Permissions {
			if p == PermFullAccess || p == PermAll {
				return true
			}
		}
	}
	return false
}

// AllRoleIDs returns the role ids of every active binding, regardless of
// selection. Queue visibility is a union across all roles so switching
// never hides items the actor is entitled to act on.
func (a Actor) AllRoleIDs() []string {
	out := make([]string, 0, len(a.Roles))
	seen := map[string]bool{}
	for _, r := range a.Roles {
		if seen[r.Binding.RoleID] {
			continue
		}
		seen[r.Binding.RoleID] = true
		out = append(out, r.Binding.RoleID)
	}
	return out
}

// HoldsRole reports whether roleID is among the actor's active bindings.
func (a Actor) HoldsRole(roleID string) bool {
	for _, r := range a.Roles {
		if r.Binding.RoleID == roleID {
			return true
		}
	}
	return false
}

// CurrentBinding returns the selected binding, or the only active binding
// when there is exactly one; ok is false otherwise.
func (a Actor) CurrentBinding() (store.UserRole, bool) {
	if a.SelectedRoleID != "" {
		for _, r := range a.Roles {
			if r.Binding.RoleID == a.SelectedRoleID || r.Binding.ID == a.SelectedRoleID {
				return r.Binding, true
			}
		}
	}
	if len(a.Roles) == 1 {
		return a.Roles[0].Binding, true
	}
	return store.UserRole{}, false
}
