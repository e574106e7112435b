package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pims/api/internal/auth"
	"pims/api/internal/config"
	"pims/api/internal/events"
	"pims/api/internal/store"
)

type fakeStore struct {
	getUserByEmailFn       func(ctx context.Context, email string) (store.User, error)
	getUserByIDFn          func(ctx context.Context, id string) (store.User, error)
	listOrganizationsFn    func(ctx context.Context) ([]store.Organization, error)
	listUserRolesFn        func(ctx context.Context, userID string) ([]store.UserRole, error)
	getUserRoleFn          func(ctx context.Context, id string) (store.UserRole, error)
	setUserRoleDelegatorFn func(ctx context.Context, id string, isDelegator bool) error
	listRolesByIDsFn       func(ctx context.Context, ids []string) ([]store.Role, error)
	listPhasesFn           func(ctx context.Context) ([]store.Phase, error)
	listWorkflowsFn        func(ctx context.Context) ([]store.Workflow, error)
	listProjectsFn         func(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error)
	getProjectFn           func(ctx context.Context, id string) (store.Project, error)
	insertProjectFn        func(ctx context.Context, p store.Project) error
	lastProjectCodeFn      func(ctx context.Context, orgIDs []string) (string, error)
	transitionProjectFn    func(ctx context.Context, id string, apply func(*store.Project) error) (store.Project, error)
	listTimelineFn         func(ctx context.Context, projectID string, includeIPR bool) ([]store.TimelineEntry, error)
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListOrganizations(ctx context.Context) ([]store.Organization, error) {
	if f.listOrganizationsFn != nil {
		return f.listOrganizationsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) ListUserRoles(ctx context.Context, userID string) ([]store.UserRole, error) {
	if f.listUserRolesFn != nil {
		return f.listUserRolesFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) GetUserRole(ctx context.Context, id string) (store.UserRole, error) {
	if f.getUserRoleFn != nil {
		return f.getUserRoleFn(ctx, id)
	}
	return store.UserRole{}, sql.ErrNoRows
}

func (f *fakeStore) SetUserRoleDelegator(ctx context.Context, id string, isDelegator bool) error {
	if f.setUserRoleDelegatorFn != nil {
		return f.setUserRoleDelegatorFn(ctx, id, isDelegator)
	}
	return nil
}

func (f *fakeStore) ListRolesByIDs(ctx context.Context, ids []string) ([]store.Role, error) {
	if f.listRolesByIDsFn != nil {
		return f.listRolesByIDsFn(ctx, ids)
	}
	return nil, nil
}

func (f *fakeStore) ListPhases(ctx context.Context) ([]store.Phase, error) {
	if f.listPhasesFn != nil {
		return f.listPhasesFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) ListWorkflows(ctx context.Context) ([]store.Workflow, error) {
	if f.listWorkflowsFn != nil {
		return f.listWorkflowsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) ListProjects(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, id)
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) InsertProject(ctx context.Context, p store.Project) error {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, p)
	}
	return nil
}

func (f *fakeStore) LastProjectCode(ctx context.Context, orgIDs []string) (string, error) {
	if f.lastProjectCodeFn != nil {
		return f.lastProjectCodeFn(ctx, orgIDs)
	}
	return "", nil
}

func (f *fakeStore) TransitionProject(ctx context.Context, id string, apply func(*store.Project) error) (store.Project, error) {
	if f.transitionProjectFn != nil {
		return f.transitionProjectFn(ctx, id, apply)
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) ListTimeline(ctx context.Context, projectID string, includeIPR bool) ([]store.TimelineEntry, error) {
	if f.listTimelineFn != nil {
		return f.listTimelineFn(ctx, projectID, includeIPR)
	}
	return nil, nil
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		TokenSecret:      "test-secret",
		AccessTTL:        time.Hour,
		ProjectCodeLevel: 2,
	}
	svc := NewService(fs, nil, cfg, events.NewDispatcher(zerolog.Nop()), nil, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func issueTestToken(t *testing.T, svc *Service, userID string, roleID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.TokenSecret), auth.Claims{
		Sub:    userID,
		Name:   "Tester",
		RoleID: roleID,
		JTI:    "jti-test",
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func strptr(s string) *string { return &s }

// Fixture hierarchy: ministry -> department -> unit, plus a sibling
// department outside the test actor's subtree.
func fixtureOrgs() []store.Organization {
	return []store.Organization{
		{ID: "org-min", Name: "Ministry", Code: "MIN"},
		{ID: "org-dep", Name: "Planning Department", Code: "PLN", ParentID: strptr("org-min")},
		{ID: "org-unit", Name: "Roads Unit", Code: "RDS", ParentID: strptr("org-dep")},
		{ID: "org-other", Name: "Finance Department", Code: "FIN", ParentID: strptr("org-min")},
	}
}

func fixturePhases() []store.Phase {
	return []store.Phase{
		{ID: "ph-plan", Name: "Planning", Ordinal: 1},
		{ID: "ph-exec", Name: "Execution", Ordinal: 2},
	}
}

func fixtureWorkflows() []store.Workflow {
	return []store.Workflow{
		{ID: "wf-draft", Name: "Draft", Step: 1, PhaseIDs: []string{"ph-plan"}, RoleID: "rol-pm", Actions: []string{"SUBMIT"}, ProjectStatus: store.StatusDraft},
		{ID: "wf-review", Name: "Department Review", Step: 2, PhaseIDs: []string{"ph-plan"}, RoleID: "rol-head", Actions: []string{"APPROVE", "REJECT", "REVISE"}, ProjectStatus: store.StatusSubmitted, ReviseToWorkflowID: strptr("wf-draft")},
		{ID: "wf-final", Name: "Final Approval", Step: 3, PhaseIDs: []string{"ph-plan"}, RoleID: "rol-head", Actions: []string{"APPROVE", "REJECT"}, ProjectStatus: store.StatusOngoing},
		{ID: "wf-exec", Name: "Execution Intake", Step: 4, PhaseIDs: []string{"ph-exec"}, RoleID: "rol-head", Actions: []string{"COMPLETE"}, ProjectStatus: store.StatusOngoing},
	}
}

func fixtureRoles() []store.Role {
	return []store.Role{
		{ID: "rol-pm", Name: "Project Manager", Permissions: []string{"view_project", "create_project"}},
		{ID: "rol-head", Name: "Department Head", Permissions: []string{"view_project"}},
		{ID: "rol-admin", Name: "Administrator", Permissions: []string{"full_access"}},
	}
}

func rolesByID(ids []string) []store.Role {
	all := fixtureRoles()
	out := []store.Role{}
	for _, id := range ids {
		for _, r := range all {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	return out
}

// fixtureStore wires a fakeStore with the reference org tree, workflow
// graph and a single pm user in the planning department.
func fixtureStore() *fakeStore {
	return &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			switch id {
			case "user-pm":
				return store.User{ID: "user-pm", DisplayName: "Asel", Email: "asel@example.gov", OrganizationID: strptr("org-dep")}, nil
			case "user-head":
				return store.User{ID: "user-head", DisplayName: "Bakyt", Email: "bakyt@example.gov", OrganizationID: strptr("org-dep")}, nil
			case "user-admin":
				return store.User{ID: "user-admin", DisplayName: "Root", Email: "root@example.gov", OrganizationID: nil}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
		listUserRolesFn: func(_ context.Context, userID string) ([]store.UserRole, error) {
			switch userID {
			case "user-pm":
				return []store.UserRole{{ID: "ur-pm", UserID: "user-pm", RoleID: "rol-pm", OrganizationID: strptr("org-dep"), IsApproved: true}}, nil
			case "user-head":
				return []store.UserRole{{ID: "ur-head", UserID: "user-head", RoleID: "rol-head", OrganizationID: strptr("org-dep"), IsApproved: true}}, nil
			case "user-admin":
				return []store.UserRole{{ID: "ur-admin", UserID: "user-admin", RoleID: "rol-admin", IsApproved: true}}, nil
			}
			return nil, nil
		},
		listRolesByIDsFn: func(_ context.Context, ids []string) ([]store.Role, error) {
			return rolesByID(ids), nil
		},
		listOrganizationsFn: func(_ context.Context) ([]store.Organization, error) {
			return fixtureOrgs(), nil
		},
		listPhasesFn: func(_ context.Context) ([]store.Phase, error) {
			return fixturePhases(), nil
		},
		listWorkflowsFn: func(_ context.Context) ([]store.Workflow, error) {
			return fixtureWorkflows(), nil
		},
	}
}
