package orgtree

import (
	"testing"

	"pims/api/internal/store"
)

func ptr(s string) *string { return &s }

func testTree() *Tree {
	return New([]store.Organization{
		{ID: "root", Code: "MOF"},
		{ID: "dept", Code: "PLN", ParentID: ptr("root")},
		{ID: "unit", Code: "U1", ParentID: ptr("dept")},
		{ID: "unit2", Code: "U2", ParentID: ptr("dept")},
		{ID: "other", Code: "OTH", ParentID: ptr("root")},
		{ID: "gone", Code: "X", ParentID: ptr("root"), IsDeleted: true},
		{ID: "orphanchild", Code: "OC", ParentID: ptr("gone")},
	})
}

func TestDescendantsIncludesSelf(t *testing.T) {
	tree := testTree()
	got := tree.Descendants("dept")
	want := map[string]bool{"dept": true, "unit": true, "unit2": true}
	if len(got) != len(want) {
		t.Fatalf("Descendants(dept) = %v, want keys %v", got, want)
	}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected descendant %q", id)
		}
	}
}

func TestDescendantsExcludesDeletedSubtrees(t *testing.T) {
	tree := testTree()
	for _, id := range tree.Descendants("root") {
		if id == "gone" || id == "orphanchild" {
			t.Fatalf("descendants of root include soft-deleted subtree member %q", id)
		}
	}
}

func TestDescendantsOfUnknownOrgIsEmpty(t *testing.T) {
	tree := testTree()
	if got := tree.Descendants("nope"); len(got) != 0 {
		t.Fatalf("Descendants(nope) = %v, want empty", got)
	}
	if got := tree.Descendants("gone"); len(got) != 0 {
		t.Fatalf("Descendants of deleted org = %v, want empty", got)
	}
}

func TestAncestorsNearestFirst(t *testing.T) {
	tree := testTree()
	got := tree.Ancestors("unit")
	if len(got) != 2 || got[0] != "dept" || got[1] != "root" {
		t.Fatalf("Ancestors(unit) = %v, want [dept root]", got)
	}
}

func TestAncestorsStopAtMissingParent(t *testing.T) {
	tree := testTree()
	if got := tree.Ancestors("orphanchild"); len(got) != 0 {
		t.Fatalf("Ancestors(orphanchild) = %v, want empty since parent is deleted", got)
	}
}

func TestLevel(t *testing.T) {
	tree := testTree()
	cases := []struct {
		org  string
		want int
	}{
		{"root", 1},
		{"dept", 2},
		{"unit", 3},
		{"orphanchild", 1},
	}
	for _, tc := range cases {
		if got := tree.Level(tc.org); got != tc.want {
			t.Fatalf("Level(%s) = %d, want %d", tc.org, got, tc.want)
		}
	}
}

func TestAncestorAtLevel(t *testing.T) {
	tree := testTree()
	if got := tree.AncestorAtLevel("unit", 2); got != "dept" {
		t.Fatalf("AncestorAtLevel(unit, 2) = %s, want dept", got)
	}
	if got := tree.AncestorAtLevel("unit", 1); got != "root" {
		t.Fatalf("AncestorAtLevel(unit, 1) = %s, want root", got)
	}
	if got := tree.AncestorAtLevel("root", 3); got != "root" {
		t.Fatalf("AncestorAtLevel(root, 3) = %s, want root itself", got)
	}
}
