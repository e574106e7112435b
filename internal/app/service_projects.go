package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"pims/api/internal/access"
	"pims/api/internal/events"
	"pims/api/internal/lifecycle"
	"pims/api/internal/orgtree"
	"pims/api/internal/store"
	"pims/api/internal/util"
	"pims/api/internal/workflow"
)

var listViews = map[string]access.View{
	"":         access.ViewListAll,
	"ALL":      access.ViewListAll,
	"PENDING":  access.ViewListPending,
	"INCOMING": access.ViewListIncoming,
}

// ListProjects compiles the visibility predicate for the requested view
// and runs the list query through it.
func (s *Service) ListProjects(ctx context.Context, actor access.Actor, viewName, phaseID, status string) ([]map[string]any, error) {
	view, ok := listViews[strings.ToUpper(viewName)]
	if !ok {
		return nil, domainError(http.StatusBadRequest, "INVALID_VIEW", "Unknown view", map[string]any{"view": viewName})
	}

	tree, err := s.orgTree(ctx)
	if err != nil {
		return nil, err
	}
	graph, err := s.workflowGraph(ctx)
	if err != nil {
		return nil, err
	}

	predicate := access.CompileFilter(actor, view, tree, graph)
	filter := predicate.Filter()
	filter.PhaseID = phaseID
	filter.Status = status
	projects, err := s.store.ListProjects(ctx, filter)
	if err != nil {
		return nil, transientError(err)
	}

	payload := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		payload = append(payload, projectPayload(p, graph))
	}
	return payload, nil
}

// GetProject fetches one project through the single-record predicate.
// A project outside the actor's visibility is reported as missing, not
// as forbidden.
func (s *Service) GetProject(ctx context.Context, actor access.Actor, projectID string) (map[string]any, error) {
	project, graph, err := s.visibleProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project, graph), nil
}

func (s *Service) visibleProject(ctx context.Context, actor access.Actor, projectID string) (store.Project, *workflow.Graph, error) {
	tree, err := s.orgTree(ctx)
	if err != nil {
		return store.Project{}, nil, err
	}
	graph, err := s.workflowGraph(ctx)
	if err != nil {
		return store.Project{}, nil, err
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Project{}, nil, errProjectNotFound()
		}
		return store.Project{}, nil, transientError(err)
	}

	predicate := access.CompileFilter(actor, access.ViewSingle, tree, graph)
	if !predicate.Matches(project) {
		return store.Project{}, nil, errProjectNotFound()
	}
	return project, graph, nil
}

// CreateProject opens a draft owned by the actor's own organization at
// the initial phase's entry workflow. Caller-supplied organization or
// status would be ignored; neither is even accepted in the input.
func (s *Service) CreateProject(ctx context.Context, actor access.Actor, input CreateProjectInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Project name is required", nil)
	}
	if !actor.HasPermission(access.PermCreateProject) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if actor.OrganizationID == nil {
		return nil, domainError(http.StatusForbidden, "NO_ORGANIZATION", "Actor has no organization", nil)
	}

	tree, err := s.orgTree(ctx)
	if err != nil {
		return nil, err
	}
	org, ok := tree.Get(*actor.OrganizationID)
	if !ok {
		return nil, domainError(http.StatusForbidden, "NO_ORGANIZATION", "Actor's organization is not available", nil)
	}

	engine, graph, err := s.engine(ctx)
	if err != nil {
		return nil, err
	}
	phase, ok := engine.InitialPhase()
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_PHASES", "No lifecycle phases configured", nil)
	}
	entry, ok := graph.FirstWorkflow(phase.ID)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_ENTRY_WORKFLOW", "Initial phase has no entry workflow", nil)
	}

	code, err := s.generateCode(ctx, tree, org)
	if err != nil {
		return nil, err
	}

	entryID := entry.ID
	project := store.Project{
		ID:             util.NewID("prj"),
		Code:           code,
		Name:           input.Name,
		Description:    input.Description,
		OrganizationID: org.ID,
		PhaseID:        phase.ID,
		WorkflowID:     &entryID,
		CurrentStep:    entry.Step,
		MaxStep:        entry.Step,
		Status:         store.StatusDraft,
		CreatedBy:      actor.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		if errors.Is(err, store.ErrDuplicateCode) {
			return nil, domainError(http.StatusConflict, "CODE_CONFLICT", "Generated project code already exists", map[string]any{"code": code})
		}
		return nil, transientError(err)
	}

	s.dispatcher.PublishCreated(ctx, events.ProjectCreated{Project: project, ActorUserID: actor.UserID})
	return projectPayload(project, graph), nil
}

// generateCode derives the next project code: the sequence is scoped to
// the configured hierarchy cut level and the suffix is the organization's
// code chain.
func (s *Service) generateCode(ctx context.Context, tree *orgtree.Tree, org store.Organization) (string, error) {
	scopeOrg := org.ID
	if s.cfg.ProjectCodeLevel > 0 {
		scopeOrg = tree.AncestorAtLevel(org.ID, s.cfg.ProjectCodeLevel)
	}
	lastCode, err := s.store.LastProjectCode(ctx, tree.Descendants(scopeOrg))
	if err != nil {
		return "", transientError(err)
	}
	sequence := lifecycle.NextSequence(lastCode)
	return lifecycle.BuildCode(sequence, org, tree.AncestorOrgs(org.ID)), nil
}

// Act applies one workflow action to a project. Visibility is checked
// first (a hidden project 404s), then the transition runs atomically
// under the store's row lock, and events fan out after commit.
func (s *Service) Act(ctx context.Context, actor access.Actor, projectID string, input ActionInput) (map[string]any, error) {
	action := strings.ToUpper(strings.TrimSpace(input.Action))
	if action == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Action is required", nil)
	}

	if _, _, err := s.visibleProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	engine, graph, err := s.engine(ctx)
	if err != nil {
		return nil, err
	}

	var actorUserRoleID *string
	if binding, ok := actor.CurrentBinding(); ok {
		id := binding.ID
		actorUserRoleID = &id
	}

	var prev lifecycle.Snapshot
	updated, err := s.store.TransitionProject(ctx, projectID, func(p *store.Project) error {
		snap, err := engine.Apply(p, actor, lifecycle.Input{
			Action:          action,
			Reason:          input.Reason,
			AssignedUserID:  input.AssignedUserID,
			ActorUserRoleID: actorUserRoleID,
			Now:             s.now(),
		})
		if err != nil {
			return err
		}
		prev = snap
		return nil
	})
	if err != nil {
		return nil, mapLifecycleError(err)
	}

	s.dispatcher.PublishStatusChanged(ctx, events.ProjectStatusChanged{
		Project:        updated,
		Action:         action,
		Reason:         input.Reason,
		ActorUserID:    actor.UserID,
		PrevPhaseID:    prev.PhaseID,
		PrevWorkflowID: prev.WorkflowID,
		PrevStep:       prev.Step,
		PrevIsIPR:      prev.IsIPR,
	})
	return projectPayload(updated, graph), nil
}

// BulkAct applies an action per project id, recording per-item failures
// and continuing the batch.
func (s *Service) BulkAct(ctx context.Context, actor access.Actor, input BulkActionInput) (BulkActionResult, error) {
	if len(input.ProjectIDs) == 0 {
		return BulkActionResult{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "projectIds is required", nil)
	}
	result := BulkActionResult{Succeeded: []string{}, Failed: map[string]string{}}
	for _, id := range input.ProjectIDs {
		_, err := s.Act(ctx, actor, id, ActionInput{Action: input.Action, Reason: input.Reason})
		if err != nil {
			result.Failed[id] = errorCode(err)
			s.log.Warn().Err(err).Str("project_id", id).Str("action", input.Action).Msg("bulk action item failed")
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

// ProjectTimeline returns the audit trail of a visible project. Entries
// recorded at inspection-review steps are hidden unless the actor holds
// the dedicated permission.
func (s *Service) ProjectTimeline(ctx context.Context, actor access.Actor, projectID string) ([]map[string]any, error) {
	if _, _, err := s.visibleProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	includeIPR := actor.HasPermission(access.PermViewIPRActions)
	entries, err := s.store.ListTimeline(ctx, projectID, includeIPR)
	if err != nil {
		return nil, transientError(err)
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, map[string]any{
			"id":             e.ID,
			"projectId":      e.ProjectID,
			"phaseId":        e.PhaseID,
			"workflowId":     e.WorkflowID,
			"step":           e.Step,
			"action":         e.Action,
			"reason":         e.Reason,
			"actorUserId":    e.ActorUserID,
			"assignedUserId": e.AssignedUserID,
			"createdAt":      e.CreatedAt,
		})
	}
	return payload, nil
}

// ListWorkflowNodes exposes the approval graph, hidden nodes excluded.
func (s *Service) ListWorkflowNodes(ctx context.Context) ([]map[string]any, error) {
	graph, err := s.workflowGraph(ctx)
	if err != nil {
		return nil, err
	}
	payload := []map[string]any{}
	for _, node := range graph.Nodes() {
		if node.IsHidden {
			continue
		}
		payload = append(payload, map[string]any{
			"id":            node.ID,
			"name":          node.Name,
			"step":          node.Step,
			"phaseIds":      node.PhaseIDs,
			"roleId":        node.RoleID,
			"actions":       node.Actions,
			"projectStatus": node.ProjectStatus,
			"statusMsg":     node.StatusMsg,
			"isIpr":         node.IsIPR,
		})
	}
	return payload, nil
}

// ListOrganizationTree returns the hierarchy as nested nodes.
func (s *Service) ListOrganizationTree(ctx context.Context) ([]map[string]any, error) {
	tree, err := s.orgTree(ctx)
	if err != nil {
		return nil, err
	}
	var build func(id string) map[string]any
	build = func(id string) map[string]any {
		org, _ := tree.Get(id)
		children := []map[string]any{}
		for _, childID := range tree.ChildrenOf(id) {
			children = append(children, build(childID))
		}
		return map[string]any{
			"id":       org.ID,
			"name":     org.Name,
			"code":     org.Code,
			"level":    org.Level,
			"children": children,
		}
	}
	payload := []map[string]any{}
	for _, rootID := range tree.Roots() {
		payload = append(payload, build(rootID))
	}
	return payload, nil
}

// ActivateDelegation marks the delegator's own binding while a delegated
// binding's window is exercised; ResetDelegator clears it once the window
// lapses.
func (s *Service) ActivateDelegation(ctx context.Context, actor access.Actor, userRoleID string) error {
	binding, err := s.store.GetUserRole(ctx, userRoleID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return transientError(err)
	}
	if !binding.IsDelegated || binding.DelegatedBy == nil {
		return domainError(http.StatusUnprocessableEntity, "NOT_DELEGATED", "Binding is not a delegation", nil)
	}
	if !actor.HasFullAccess() && actor.UserID != *binding.DelegatedBy {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	delegatorBindings, err := s.store.ListUserRoles(ctx, *binding.DelegatedBy)
	if err != nil {
		return transientError(err)
	}
	for _, b := range delegatorBindings {
		if b.RoleID == binding.RoleID && !b.IsDelegated {
			if err := s.store.SetUserRoleDelegator(ctx, b.ID, true); err != nil {
				return transientError(err)
			}
			return nil
		}
	}
	return domainError(http.StatusUnprocessableEntity, "NO_DELEGATOR_BINDING", "Delegator has no matching binding", nil)
}

func (s *Service) ResetDelegator(ctx context.Context, actor access.Actor, userRoleID string) error {
	binding, err := s.store.GetUserRole(ctx, userRoleID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return transientError(err)
	}
	if !actor.HasFullAccess() && actor.UserID != binding.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.SetUserRoleDelegator(ctx, binding.ID, false)
}

func projectPayload(p store.Project, graph *workflow.Graph) map[string]any {
	payload := map[string]any{
		"id":             p.ID,
		"code":           p.Code,
		"name":           p.Name,
		"description":    p.Description,
		"organizationId": p.OrganizationID,
		"phaseId":        p.PhaseID,
		"workflowId":     p.WorkflowID,
		"currentStep":    p.CurrentStep,
		"maxStep":        p.MaxStep,
		"status":         p.Status,
		"assignedUserId": p.AssignedUserID,
		"createdBy":      p.CreatedBy,
		"submissionDate": p.SubmissionDate,
		"createdAt":      p.CreatedAt,
		"updatedAt":      p.UpdatedAt,
	}
	if p.WorkflowID != nil && graph != nil {
		if node, ok := graph.ByID(*p.WorkflowID); ok {
			payload["statusMsg"] = node.StatusMsg
			payload["workflowName"] = node.Name
		}
	}
	return payload
}

func errProjectNotFound() *DomainError {
	// Visibility failures deliberately read as missing projects so an
	// outside organization cannot confirm a project exists.
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func mapLifecycleError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrTerminal),
		errors.Is(err, lifecycle.ErrNoSuccessor),
		errors.Is(err, lifecycle.ErrNoPredecessor),
		errors.Is(err, lifecycle.ErrNoReviseTarget):
		return domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, lifecycle.ErrActionNotAllowed),
		errors.Is(err, lifecycle.ErrRoleMismatch):
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	case errors.Is(err, lifecycle.ErrUnknownAction):
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown action", nil)
	case errors.Is(err, lifecycle.ErrNoWorkflow):
		return domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION", "Project has no workflow position", nil)
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if store.IsNotFound(err) {
		return errProjectNotFound()
	}
	return transientError(err)
}

func errorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "SERVER_ERROR"
}
