// Package orgtree provides walks over the organization hierarchy. The
// tree is built from a snapshot of non-deleted organizations; dangling
// parent references are tolerated and simply terminate the walk.
package orgtree

import (
	"pims/api/internal/store"
)

type Tree struct {
	byID     map[string]store.Organization
	children map[string][]string
}

func New(orgs []store.Organization) *Tree {
	t := &Tree{
		byID:     make(map[string]store.Organization, len(orgs)),
		children: make(map[string][]string),
	}
	for _, org := range orgs {
		if org.IsDeleted {
			continue
		}
		t.byID[org.ID] = org
	}
	for _, org := range t.byID {
		if org.ParentID == nil {
			continue
		}
		if _, ok := t.byID[*org.ParentID]; !ok {
			continue
		}
		t.children[*org.ParentID] = append(t.children[*org.ParentID], org.ID)
	}
	return t
}

// Get returns the organization and whether it exists in the snapshot.
// Soft-deleted organizations do not exist.
func (t *Tree) Get(orgID string) (store.Organization, bool) {
	org, ok := t.byID[orgID]
	return org, ok
}

// Descendants returns the ids of the whole subtree rooted at orgID,
// including orgID itself. An unknown or deleted org yields an empty set.
func (t *Tree) Descendants(orgID string) []string {
	if _, ok := t.byID[orgID]; !ok {
		return []string{}
	}
	out := []string{}
	queue := []string{orgID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		queue = append(queue, t.children[id]...)
	}
	return out
}

// Ancestors returns the chain of parent ids from the immediate parent up
// to the root, nearest first. orgID itself is not included. The walk stops
// at the first missing or deleted ancestor.
func (t *Tree) Ancestors(orgID string) []string {
	out := []string{}
	org, ok := t.byID[orgID]
	if !ok {
		return out
	}
	for org.ParentID != nil {
		parent, ok := t.byID[*org.ParentID]
		if !ok {
			break
		}
		out = append(out, parent.ID)
		org = parent
	}
	return out
}

// AncestorOrgs is Ancestors with the full records, nearest first.
func (t *Tree) AncestorOrgs(orgID string) []store.Organization {
	ids := t.Ancestors(orgID)
	out := make([]store.Organization, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[id])
	}
	return out
}

// Level computes the 1-based depth of an organization: roots are level 1,
// children are parent level + 1.
func (t *Tree) Level(orgID string) int {
	return len(t.Ancestors(orgID)) + 1
}

// AncestorAtLevel returns the ancestor of orgID sitting at the given
// hierarchy level, or orgID itself when it is at or above that level.
// Used to scope project code sequences.
func (t *Tree) AncestorAtLevel(orgID string, level int) string {
	org, ok := t.byID[orgID]
	if !ok {
		return orgID
	}
	for t.Level(org.ID) > level {
		if org.ParentID == nil {
			break
		}
		parent, ok := t.byID[*org.ParentID]
		if !ok {
			break
		}
		org = parent
	}
	return org.ID
}

// Roots returns the ids of all organizations without a living parent.
func (t *Tree) Roots() []string {
	out := []string{}
	for id, org := range t.byID {
		if org.ParentID == nil {
			out = append(out, id)
			continue
		}
		if _, ok := t.byID[*org.ParentID]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// ChildrenOf returns the direct child ids of orgID.
func (t *Tree) ChildrenOf(orgID string) []string {
	return t.children[orgID]
}
