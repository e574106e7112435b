// Package lifecycle owns the project state machine: which actions are
// legal at a project's current workflow position, and what tuple the
// project moves to when one is applied.
package lifecycle

import (
	"errors"
	"sort"
	"time"

	"pims/api/internal/access"
	"pims/api/internal/store"
	"pims/api/internal/workflow"
)

// Workflow actions.
const (
	ActionCreate               = "CREATE"
	ActionSubmit               = "SUBMIT"
	ActionAssign               = "ASSIGN"
	ActionApprove              = "APPROVE"
	ActionConditionallyApprove = "CONDITIONALLY_APPROVE"
	ActionReject               = "REJECT"
	ActionRevise               = "REVISE"
	ActionRevert               = "REVERT"
	ActionAllocateFunds        = "ALLOCATE_FUNDS"
	ActionComplete             = "COMPLETE"
)

var (
	ErrTerminal         = errors.New("project is completed")
	ErrUnknownAction    = errors.New("unknown action")
	ErrActionNotAllowed = errors.New("action not allowed at current step")
	ErrRoleMismatch     = errors.New("actor does not hold the acting role")
	ErrNoWorkflow       = errors.New("project has no workflow position")
	ErrNoSuccessor      = errors.New("no successor step")
	ErrNoPredecessor    = errors.New("no predecessor step")
	ErrNoReviseTarget   = errors.New("current step has no revise target")
)

// Input carries the caller-supplied parts of an action.
type Input struct {
	Action          string
	Reason          string
	AssignedUserID  *string
	ActorUserRoleID *string
	Now             time.Time
}

// Snapshot is the pre-action position, recorded for the audit timeline.
type Snapshot struct {
	PhaseID    string
	WorkflowID string
	Step       int
	IsIPR      bool
}

// Engine evaluates transitions against a loaded workflow graph and the
// ordered phase list.
type Engine struct {
	graph  *workflow.Graph
	phases []store.Phase
}

func NewEngine(graph *workflow.Graph, phases []store.Phase) *Engine {
	ordered := make([]store.Phase, len(phases))
	copy(ordered, phases)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })
	return &Engine{graph: graph, phases: ordered}
}

func (e *Engine) Graph() *workflow.Graph { return e.graph }

// InitialPhase returns the lowest-ordinal phase.
func (e *Engine) InitialPhase() (store.Phase, bool) {
	if len(e.phases) == 0 {
		return store.Phase{}, false
	}
	return e.phases[0], true
}

func (e *Engine) nextPhase(phaseID string) (store.Phase, bool) {
	for i, ph := range e.phases {
		if ph.ID == phaseID && i+1 < len(e.phases) {
			return e.phases[i+1], true
		}
	}
	return store.Phase{}, false
}

// Apply validates an action against the project's current position and
// mutates the project in place. It returns the pre-action snapshot for
// the timeline. The caller is responsible for running this inside the
// store's locked transition.
func (e *Engine) Apply(p *store.Project, actor access.Actor, in Input) (Snapshot, error) {
	if p.Status == store.StatusCompleted {
		return Snapshot{}, ErrTerminal
	}
	if p.WorkflowID == nil {
		return Snapshot{}, ErrNoWorkflow
	}
	node, ok := e.graph.ByID(*p.WorkflowID)
	if !ok {
		return Snapshot{}, ErrNoWorkflow
	}

	if in.Action != ActionRevert && !containsAction(node.Actions, in.Action) {
		return Snapshot{}, ErrActionNotAllowed
	}
	if !actor.HasFullAccess() && !actor.HoldsRole(node.RoleID) {
		return Snapshot{}, ErrRoleMismatch
	}

	prev := Snapshot{PhaseID: p.PhaseID, WorkflowID: node.ID, Step: p.CurrentStep, IsIPR: node.IsIPR}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch in.Action {
	case ActionSubmit:
		next, ok := e.graph.NextStep(p.CurrentStep, p.PhaseID, p.WasRevisedByIPR, p.WasApproved)
		if !ok {
			return Snapshot{}, ErrNoSuccessor
		}
		leavingFirst := p.CurrentStep == 1
		moveTo(p, next)
		p.Status = store.StatusSubmitted
		if leavingFirst && p.SubmissionDate == nil {
			p.SubmissionDate = &now
		}

	case ActionAssign:
		next, ok := e.graph.NextStep(p.CurrentStep, p.PhaseID, p.WasRevisedByIPR, p.WasApproved)
		if !ok {
			return Snapshot{}, ErrNoSuccessor
		}
		moveTo(p, next)
		p.Status = store.StatusAssigned
		p.AssignedUserID = in.AssignedUserID

	case ActionApprove, ActionAllocateFunds, ActionComplete:
		if err := e.approve(p, node); err != nil {
			return Snapshot{}, err
		}

	case ActionConditionallyApprove:
		next, ok := e.graph.NextStep(p.CurrentStep, p.PhaseID, p.WasRevisedByIPR, true)
		if ok {
			moveTo(p, next)
			p.Status = store.StatusConditionallyApproved
			p.WasApproved = true
		} else {
			p.WasApproved = true
			if err := e.approve(p, node); err != nil {
				return Snapshot{}, err
			}
		}

	case ActionReject:
		p.Status = store.StatusRejected

	case ActionRevise:
		if node.ReviseToWorkflowID == nil {
			return Snapshot{}, ErrNoReviseTarget
		}
		target, ok := e.graph.ByID(*node.ReviseToWorkflowID)
		if !ok {
			return Snapshot{}, ErrNoReviseTarget
		}
		moveTo(p, target)
		p.Status = store.StatusRevised
		p.RevisedUserRoleID = in.ActorUserRoleID
		if node.IsIPR {
			p.WasRevisedByIPR = true
		}

	case ActionRevert:
		if p.Status == store.StatusRejected {
			// Undo the rejection in place: the project stays at its
			// current step and regains that step's declared status.
			p.Status = node.ProjectStatus
			break
		}
		prevNode, ok := e.graph.PrevStepInPhase(p.CurrentStep, p.PhaseID)
		if !ok {
			return Snapshot{}, ErrNoPredecessor
		}
		moveTo(p, prevNode)
		p.Status = prevNode.ProjectStatus

	default:
		return Snapshot{}, ErrUnknownAction
	}

	return prev, nil
}

// approve advances past the current step: to the successor when one
// exists, into the next phase's entry workflow otherwise, or to
// completion at the end of the final phase. A post-evaluation gate keeps
// the workflow attached after completion.
func (e *Engine) approve(p *store.Project, node store.Workflow) error {
	next, ok := e.graph.NextStep(p.CurrentStep, p.PhaseID, p.WasRevisedByIPR, p.WasApproved)
	if ok {
		moveTo(p, next)
		p.Status = next.ProjectStatus
		return nil
	}

	if nextPhase, ok := e.nextPhase(p.PhaseID); ok {
		entry, ok := e.graph.FirstWorkflow(nextPhase.ID)
		if !ok {
			return ErrNoSuccessor
		}
		p.PhaseID = nextPhase.ID
		moveTo(p, entry)
		p.Status = entry.ProjectStatus
		p.WasRevisedByIPR = false
		p.WasApproved = false
		p.AssignedUserID = nil
		return nil
	}

	p.Status = store.StatusCompleted
	if !node.PostEvaluation {
		p.WorkflowID = nil
	}
	return nil
}

func moveTo(p *store.Project, node store.Workflow) {
	id := node.ID
	p.WorkflowID = &id
	p.CurrentStep = node.Step
	if node.Step > p.MaxStep {
		p.MaxStep = node.Step
	}
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
