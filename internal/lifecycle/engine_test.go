package lifecycle

import (
	"errors"
	"testing"
	"time"

	"pims/api/internal/access"
	"pims/api/internal/store"
	"pims/api/internal/workflow"
)

func ptr(s string) *string { return &s }

var testPhases = []store.Phase{
	{ID: "ph1", Name: "Appraisal", Ordinal: 1},
	{ID: "ph2", Name: "Execution", Ordinal: 2},
}

func testEngine() *Engine {
	graph := workflow.NewGraph([]store.Workflow{
		{ID: "wf1", Step: 1, PhaseIDs: []string{"ph1"}, RoleID: "r_officer", Actions: []string{ActionSubmit}, ProjectStatus: store.StatusDraft},
		{ID: "wf2", Step: 2, PhaseIDs: []string{"ph1"}, RoleID: "r_reviewer", Actions: []string{ActionApprove, ActionReject, ActionRevise, ActionAssign}, ProjectStatus: store.StatusSubmitted, ReviseToWorkflowID: ptr("wf1")},
		{ID: "wf3", Step: 3, PhaseIDs: []string{"ph1"}, RoleID: "r_ipr", Actions: []string{ActionApprove, ActionRevise}, ProjectStatus: store.StatusAssigned, IsIPR: true, SkipIfRevised: true, ReviseToWorkflowID: ptr("wf1")},
		{ID: "wf4", Step: 4, PhaseIDs: []string{"ph1"}, RoleID: "r_chief", Actions: []string{ActionApprove, ActionConditionallyApprove, ActionReject}, ProjectStatus: store.StatusOngoing},
		{ID: "wf5", Step: 5, PhaseIDs: []string{"ph2"}, RoleID: "r_exec", Actions: []string{ActionAllocateFunds, ActionComplete}, ProjectStatus: store.StatusOngoing},
	})
	return NewEngine(graph, testPhases)
}

func actorWith(roleIDs ...string) access.Actor {
	a := access.Actor{UserID: "u1", OrganizationID: ptr("org_b")}
	for _, id := range roleIDs {
		a.Roles = append(a.Roles, access.ActiveRole{
			Binding: store.UserRole{ID: "ur_" + id, RoleID: id},
			Role:    store.Role{ID: id},
		})
	}
	return a
}

func adminActor() access.Actor {
	return access.Actor{
		UserID:         "admin",
		OrganizationID: ptr("org_b"),
		Roles: []access.ActiveRole{{
			Binding: store.UserRole{RoleID: "r_admin"},
			Role:    store.Role{ID: "r_admin", Permissions: []string{access.PermFullAccess}},
		}},
	}
}

func draftProject() store.Project {
	return store.Project{
		ID:             "p1",
		OrganizationID: "org_b",
		PhaseID:        "ph1",
		WorkflowID:     ptr("wf1"),
		CurrentStep:    1,
		MaxStep:        1,
		Status:         store.StatusDraft,
		CreatedBy:      "u1",
	}
}

func mustApply(t *testing.T, e *Engine, p *store.Project, actor access.Actor, action string) Snapshot {
	t.Helper()
	snap, err := e.Apply(p, actor, Input{Action: action, Now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Apply(%s): %v", action, err)
	}
	return snap
}

func TestSubmitAdvancesAndStampsSubmissionDate(t *testing.T) {
	e := testEngine()
	p := draftProject()
	snap := mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)

	if *p.WorkflowID != "wf2" || p.CurrentStep != 2 || p.Status != store.StatusSubmitted {
		t.Fatalf("after submit: wf=%s step=%d status=%s", *p.WorkflowID, p.CurrentStep, p.Status)
	}
	if p.MaxStep != 2 {
		t.Fatalf("max_step = %d, want 2", p.MaxStep)
	}
	if p.SubmissionDate == nil {
		t.Fatal("submission date not stamped when leaving step 1")
	}
	if snap.WorkflowID != "wf1" || snap.Step != 1 || snap.PhaseID != "ph1" {
		t.Fatalf("snapshot = %+v, want pre-action position", snap)
	}
}

func TestSubmitRequiresRoleOrFullAccess(t *testing.T) {
	e := testEngine()
	p := draftProject()
	if _, err := e.Apply(&p, actorWith("r_reviewer"), Input{Action: ActionSubmit}); !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("wrong-role submit = %v, want ErrRoleMismatch", err)
	}
	p = draftProject()
	mustApply(t, e, &p, adminActor(), ActionSubmit)
}

func TestActionMustBeDeclaredOnStep(t *testing.T) {
	e := testEngine()
	p := draftProject()
	if _, err := e.Apply(&p, actorWith("r_officer"), Input{Action: ActionApprove}); !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("undeclared approve = %v, want ErrActionNotAllowed", err)
	}
	if p.Status != store.StatusDraft || p.CurrentStep != 1 {
		t.Fatal("failed action mutated the project")
	}
}

func TestAssignSetsAssignee(t *testing.T) {
	e := testEngine()
	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	assignee := "u9"
	if _, err := e.Apply(&p, actorWith("r_reviewer"), Input{Action: ActionAssign, AssignedUserID: &assignee}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if p.Status != store.StatusAssigned || p.AssignedUserID == nil || *p.AssignedUserID != "u9" {
		t.Fatalf("after assign: status=%s assignee=%v", p.Status, p.AssignedUserID)
	}
}

func TestApproveTakesSuccessorsDeclaredStatus(t *testing.T) {
	e := testEngine()
	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p, actorWith("r_reviewer"), ActionApprove)
	if *p.WorkflowID != "wf3" || p.Status != store.StatusAssigned {
		t.Fatalf("approve landed on %s with status %s, want wf3/ASSIGNED", *p.WorkflowID, p.Status)
	}
}

func TestMaxStepIsMonotonic(t *testing.T) {
	e := testEngine()
	p := draftProject()
	prev := p.MaxStep
	steps := []struct {
		actor  access.Actor
		action string
	}{
		{actorWith("r_officer"), ActionSubmit},
		{actorWith("r_reviewer"), ActionApprove},
		{actorWith("r_ipr"), ActionRevise},
		{actorWith("r_officer"), ActionSubmit},
		{actorWith("r_reviewer"), ActionApprove},
	}
	for _, s := range steps {
		mustApply(t, e, &p, s.actor, s.action)
		if p.MaxStep < prev {
			t.Fatalf("max_step decreased: %d -> %d after %s", prev, p.MaxStep, s.action)
		}
		prev = p.MaxStep
	}
}

func TestReviseJumpsToTargetAndFlagsIPR(t *testing.T) {
	e := testEngine()
	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p, actorWith("r_reviewer"), ActionApprove)

	ipr := actorWith("r_ipr")
	urID := "ur_r_ipr"
	if _, err := e.Apply(&p, ipr, Input{Action: ActionRevise, ActorUserRoleID: &urID}); err != nil {
		t.Fatalf("revise: %v", err)
	}
	if *p.WorkflowID != "wf1" || p.CurrentStep != 1 || p.Status != store.StatusRevised {
		t.Fatalf("after revise: wf=%s step=%d status=%s", *p.WorkflowID, p.CurrentStep, p.Status)
	}
	if !p.WasRevisedByIPR {
		t.Fatal("revision from an IPR step must set the revision flag")
	}
	if p.RevisedUserRoleID == nil || *p.RevisedUserRoleID != urID {
		t.Fatal("revising role not recorded")
	}
	if p.MaxStep != 3 {
		t.Fatalf("max_step = %d, want ratchet held at 3", p.MaxStep)
	}

	// After the IPR revision, resubmission skips the detour step.
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p, actorWith("r_reviewer"), ActionApprove)
	if *p.WorkflowID != "wf4" {
		t.Fatalf("post-revision approve landed on %s, want wf4 (detour skipped)", *p.WorkflowID)
	}
}

func TestReviseWithoutTargetRejected(t *testing.T) {
	e := testEngine()
	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p, actorWith("r_reviewer"), ActionApprove)
	mustApply(t, e, &p, actorWith("r_ipr"), ActionApprove)
	if _, err := e.Apply(&p, actorWith("r_chief"), Input{Action: ActionRevise}); !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("revise on wf4 = %v, want ErrActionNotAllowed (not declared)", err)
	}
}

func TestConditionalApprovalGatesFollowUp(t *testing.T) {
	graph := workflow.NewGraph([]store.Workflow{
		{ID: "wf1", Step: 1, PhaseIDs: []string{"ph1"}, RoleID: "r_officer", Actions: []string{ActionSubmit}, ProjectStatus: store.StatusDraft},
		{ID: "wf2", Step: 2, PhaseIDs: []string{"ph1"}, RoleID: "r_chief", Actions: []string{ActionApprove, ActionConditionallyApprove}, ProjectStatus: store.StatusSubmitted},
		{ID: "wf_cond", Step: 3, PhaseIDs: []string{"ph1"}, RoleID: "r_board", Actions: []string{ActionApprove}, ProjectStatus: store.StatusConditionallyApproved, SkipIfApproved: true},
		{ID: "wf4", Step: 4, PhaseIDs: []string{"ph1"}, RoleID: "r_board", Actions: []string{ActionApprove}, ProjectStatus: store.StatusOngoing},
	})
	e := NewEngine(graph, testPhases[:1])

	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p, actorWith("r_chief"), ActionConditionallyApprove)
	if *p.WorkflowID != "wf_cond" || p.Status != store.StatusConditionallyApproved || !p.WasApproved {
		t.Fatalf("after conditional approve: wf=%s status=%s wasApproved=%v", *p.WorkflowID, p.Status, p.WasApproved)
	}

	// A plain approval at wf2 skips the conditional node entirely.
	p2 := draftProject()
	mustApply(t, e, &p2, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p2, actorWith("r_chief"), ActionApprove)
	if *p2.WorkflowID != "wf4" {
		t.Fatalf("plain approve landed on %s, want wf4", *p2.WorkflowID)
	}
}

func TestApproveAdvancesPhaseAndClearsFlags(t *testing.T) {
	e := testEngine()
	p := draftProject()
	p.WorkflowID = ptr("wf4")
	p.CurrentStep = 4
	p.MaxStep = 4
	p.Status = store.StatusOngoing
	p.WasRevisedByIPR = true
	p.WasApproved = true
	assignee := "u9"
	p.AssignedUserID = &assignee

	mustApply(t, e, &p, actorWith("r_chief"), ActionApprove)
	if p.PhaseID != "ph2" || *p.WorkflowID != "wf5" || p.CurrentStep != 5 {
		t.Fatalf("phase advance: phase=%s wf=%s step=%d", p.PhaseID, *p.WorkflowID, p.CurrentStep)
	}
	if p.WasRevisedByIPR || p.WasApproved || p.AssignedUserID != nil {
		t.Fatal("phase advance must clear revision/approval flags and the assignee")
	}
}

func TestCompleteAtFinalStep(t *testing.T) {
	e := testEngine()
	p := draftProject()
	p.PhaseID = "ph2"
	p.WorkflowID = ptr("wf5")
	p.CurrentStep = 5
	p.MaxStep = 5
	p.Status = store.StatusOngoing

	mustApply(t, e, &p, actorWith("r_exec"), ActionComplete)
	if p.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", p.Status)
	}
	if p.WorkflowID != nil {
		t.Fatal("completed project should detach from the workflow")
	}
}

func TestPostEvaluationGateKeepsWorkflowAttached(t *testing.T) {
	graph := workflow.NewGraph([]store.Workflow{
		{ID: "wf1", Step: 1, PhaseIDs: []string{"ph1"}, RoleID: "r_exec", Actions: []string{ActionComplete}, ProjectStatus: store.StatusOngoing, PostEvaluation: true},
	})
	e := NewEngine(graph, testPhases[:1])
	p := draftProject()
	p.Status = store.StatusOngoing
	mustApply(t, e, &p, actorWith("r_exec"), ActionComplete)
	if p.Status != store.StatusCompleted || p.WorkflowID == nil || *p.WorkflowID != "wf1" {
		t.Fatalf("post-evaluation gate: status=%s wf=%v", p.Status, p.WorkflowID)
	}
}

func TestTerminalProjectIsImmutable(t *testing.T) {
	e := testEngine()
	p := draftProject()
	p.Status = store.StatusCompleted
	before := p
	for _, action := range []string{ActionSubmit, ActionApprove, ActionReject, ActionRevert, ActionRevise} {
		if _, err := e.Apply(&p, adminActor(), Input{Action: action}); !errors.Is(err, ErrTerminal) {
			t.Fatalf("Apply(%s) on completed = %v, want ErrTerminal", action, err)
		}
		if p != before {
			t.Fatalf("Apply(%s) mutated a completed project", action)
		}
	}
}

func TestSubmitRevertRoundTrip(t *testing.T) {
	e := testEngine()
	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p, actorWith("r_reviewer"), ActionRevert)

	if *p.WorkflowID != "wf1" || p.CurrentStep != 1 || p.Status != store.StatusDraft {
		t.Fatalf("round trip: wf=%s step=%d status=%s, want wf1/1/DRAFT", *p.WorkflowID, p.CurrentStep, p.Status)
	}
	if p.MaxStep != 2 {
		t.Fatalf("max_step = %d, want 2 retained after revert", p.MaxStep)
	}
}

func TestRevertIsAlwaysPermittedForStepRole(t *testing.T) {
	// wf2 does not declare REVERT, yet the step's role may revert.
	e := testEngine()
	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	if _, err := e.Apply(&p, actorWith("r_reviewer"), Input{Action: ActionRevert}); err != nil {
		t.Fatalf("revert: %v", err)
	}
}

func TestRejectThenRevertRestoresDeclaredStatusInPlace(t *testing.T) {
	e := testEngine()
	p := draftProject()
	mustApply(t, e, &p, actorWith("r_officer"), ActionSubmit)
	mustApply(t, e, &p, actorWith("r_reviewer"), ActionReject)
	if p.Status != store.StatusRejected || p.CurrentStep != 2 {
		t.Fatalf("after reject: status=%s step=%d", p.Status, p.CurrentStep)
	}

	mustApply(t, e, &p, actorWith("r_reviewer"), ActionRevert)
	if p.CurrentStep != 2 || *p.WorkflowID != "wf2" {
		t.Fatal("revert of a rejection must not move the project")
	}
	if p.Status != store.StatusSubmitted {
		t.Fatalf("status = %s, want step 2's declared SUBMITTED", p.Status)
	}
	if p.MaxStep != 2 {
		t.Fatalf("max_step = %d, want unchanged", p.MaxStep)
	}
}

func TestRevertAtEntryStepFails(t *testing.T) {
	e := testEngine()
	p := draftProject()
	if _, err := e.Apply(&p, actorWith("r_officer"), Input{Action: ActionRevert}); !errors.Is(err, ErrNoPredecessor) {
		t.Fatalf("revert at step 1 = %v, want ErrNoPredecessor", err)
	}
}

func TestSubmitWithoutSuccessorFails(t *testing.T) {
	graph := workflow.NewGraph([]store.Workflow{
		{ID: "wf1", Step: 1, PhaseIDs: []string{"ph1"}, RoleID: "r_officer", Actions: []string{ActionSubmit}, ProjectStatus: store.StatusDraft},
	})
	e := NewEngine(graph, testPhases[:1])
	p := draftProject()
	if _, err := e.Apply(&p, actorWith("r_officer"), Input{Action: ActionSubmit}); !errors.Is(err, ErrNoSuccessor) {
		t.Fatalf("submit without successor = %v, want ErrNoSuccessor", err)
	}
}
