package access

import (
	"pims/api/internal/orgtree"
	"pims/api/internal/store"
	"pims/api/internal/workflow"
)

// View selects which visibility rule set applies. It is always passed
// explicitly; nothing here inspects ambient request state.
type View string

const (
	ViewSingle       View = "SINGLE"
	ViewListAll      View = "LIST_ALL"
	ViewListPending  View = "LIST_PENDING"
	ViewListIncoming View = "LIST_INCOMING"
)

// Predicate is the compiled row-visibility filter. It can be evaluated
// in-memory against a single project or translated into a storage filter
// for list queries. A nil slice leaves that dimension unconstrained.
type Predicate struct {
	All             bool
	None            bool
	OrgIDs          []string
	ExtraProjectIDs []string
	WorkflowIDs     []string
	StatusIn        []string
	StatusNotIn     []string
}

func (p Predicate) Matches(project store.Project) bool {
	if p.None {
		return false
	}
	if p.All {
		return true
	}
	for _, id := range p.ExtraProjectIDs {
		if id == project.ID {
			return true
		}
	}
	if p.OrgIDs != nil && !contains(p.OrgIDs, project.OrganizationID) {
		return false
	}
	if p.WorkflowIDs != nil {
		if project.WorkflowID == nil || !contains(p.WorkflowIDs, *project.WorkflowID) {
			return false
		}
	}
	if p.StatusIn != nil && !contains(p.StatusIn, project.Status) {
		return false
	}
	if contains(p.StatusNotIn, project.Status) {
		return false
	}
	return true
}

// Filter translates the predicate for the store's list query.
func (p Predicate) Filter() store.ProjectFilter {
	if p.None {
		return store.ProjectFilter{None: true}
	}
	if p.All {
		return store.ProjectFilter{}
	}
	return store.ProjectFilter{
		OrgIDs:          p.OrgIDs,
		WorkflowIDs:     p.WorkflowIDs,
		StatusIn:        p.StatusIn,
		StatusNotIn:     p.StatusNotIn,
		ExtraProjectIDs: p.ExtraProjectIDs,
	}
}

// CompileFilter builds the visibility predicate for an actor and view in
// one pass from resolved inputs. Every branch fails closed: a missing
// organization or an empty workflow set yields a match-nothing predicate,
// never an error and never a wider filter.
func CompileFilter(actor Actor, view View, tree *orgtree.Tree, graph *workflow.Graph) Predicate {
	switch view {
	case ViewSingle:
		if !actor.HasPermission(PermViewProject) {
			return Predicate{None: true}
		}
		if actor.OrganizationID == nil {
			return Predicate{None: true}
		}
		// Exact organization only; ancestry is deliberately not honored
		// for direct-id fetches.
		return Predicate{OrgIDs: []string{*actor.OrganizationID}}

	case ViewListAll:
		if actor.HasFullAccess() {
			return Predicate{All: true}
		}
		if actor.OrganizationID == nil {
			return Predicate{None: true}
		}
		orgIDs := tree.Descendants(*actor.OrganizationID)
		extra := []string{}
		for _, r := range actor.Roles {
			for _, id := range r.Binding.AllowedOrganizationIDs {
				if id == OrgSentinelAll {
					return Predicate{All: true}
				}
				if !contains(orgIDs, id) {
					orgIDs = append(orgIDs, id)
				}
			}
			for _, id := range r.Binding.AllowedProjectIDs {
				if !contains(extra, id) {
					extra = append(extra, id)
				}
			}
		}
		if len(orgIDs) == 0 && len(extra) == 0 {
			return Predicate{None: true}
		}
		p := Predicate{OrgIDs: orgIDs}
		if len(extra) > 0 {
			p.ExtraProjectIDs = extra
		}
		return p

	case ViewListPending:
		if actor.OrganizationID == nil {
			return Predicate{None: true}
		}
		workflowIDs := unionRoleWorkflows(actor, graph)
		if len(workflowIDs) == 0 {
			return Predicate{None: true}
		}
		return Predicate{
			OrgIDs:      []string{*actor.OrganizationID},
			WorkflowIDs: workflowIDs,
			StatusNotIn: []string{store.StatusRejected, store.StatusDraft},
		}

	case ViewListIncoming:
		// The incoming tray is a workflow actor's queue; oversight roles
		// get an empty tray rather than everyone's work items.
		if actor.HasFullAccess() {
			return Predicate{None: true}
		}
		if actor.OrganizationID == nil {
			return Predicate{None: true}
		}
		workflowIDs := unionRoleWorkflows(actor, graph)
		if len(workflowIDs) == 0 {
			return Predicate{None: true}
		}
		return Predicate{
			OrgIDs:      []string{*actor.OrganizationID},
			WorkflowIDs: workflowIDs,
			StatusIn:    []string{store.StatusSubmitted, store.StatusAssigned},
		}
	}
	return Predicate{None: true}
}

// unionRoleWorkflows collects workflow ids across all active roles, not
// just the selected one.
func unionRoleWorkflows(actor Actor, graph *workflow.Graph) []string {
	out := []string{}
	for _, roleID := range actor.AllRoleIDs() {
		for _, id := range graph.RoleWorkflows(roleID) {
			if !contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
