// Package workflow models the approval routing graph. Nodes are workflow
// steps loaded from storage; traversal is a single forward scan over step
// ordinals with detour nodes gated by project flags.
package workflow

import (
	"fmt"
	"sort"

	"pims/api/internal/store"
)

type Graph struct {
	nodes []store.Workflow
	byID  map[string]store.Workflow
}

func NewGraph(workflows []store.Workflow) *Graph {
	nodes := make([]store.Workflow, len(workflows))
	copy(nodes, workflows)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Step < nodes[j].Step })

	byID := make(map[string]store.Workflow, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}
	return &Graph{nodes: nodes, byID: byID}
}

func (g *Graph) ByID(workflowID string) (store.Workflow, bool) {
	node, ok := g.byID[workflowID]
	return node, ok
}

func (g *Graph) Nodes() []store.Workflow {
	out := make([]store.Workflow, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// NextStep finds the successor of currentStep within a phase: the first
// non-hidden node with a higher step ordinal that serves the phase.
// Detour gating: nodes marked skip-if-revised are passed over once the
// project has been through a review-detour revision, and nodes marked
// skip-if-approved are only entered when the project carries a
// conditional approval.
func (g *Graph) NextStep(currentStep int, phaseID string, wasRevisedByIPR, wasApproved bool) (store.Workflow, bool) {
	for _, node := range g.nodes {
		if node.IsHidden || node.Step <= currentStep || !hasPhase(node, phaseID) {
			continue
		}
		if node.SkipIfRevised && wasRevisedByIPR {
			continue
		}
		if node.SkipIfApproved && !wasApproved {
			continue
		}
		return node, true
	}
	return store.Workflow{}, false
}

// PrevStepInPhase finds the predecessor: the highest non-hidden step below
// currentStep that serves the phase.
func (g *Graph) PrevStepInPhase(currentStep int, phaseID string) (store.Workflow, bool) {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		node := g.nodes[i]
		if node.IsHidden || node.Step >= currentStep || !hasPhase(node, phaseID) {
			continue
		}
		return node, true
	}
	return store.Workflow{}, false
}

// FirstWorkflow returns the entry node of a phase: the lowest non-hidden
// step serving it.
func (g *Graph) FirstWorkflow(phaseID string) (store.Workflow, bool) {
	for _, node := range g.nodes {
		if node.IsHidden || !hasPhase(node, phaseID) {
			continue
		}
		return node, true
	}
	return store.Workflow{}, false
}

// LastWorkflow returns the final non-hidden step serving a phase.
func (g *Graph) LastWorkflow(phaseID string) (store.Workflow, bool) {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		node := g.nodes[i]
		if node.IsHidden || !hasPhase(node, phaseID) {
			continue
		}
		return node, true
	}
	return store.Workflow{}, false
}

// RoleWorkflows returns the ids of every node owned by a role, hidden
// nodes included. These sets drive pending/incoming list visibility.
func (g *Graph) RoleWorkflows(roleID string) []string {
	out := []string{}
	for _, node := range g.nodes {
		if node.RoleID == roleID {
			out = append(out, node.ID)
		}
	}
	return out
}

// Validate checks structural invariants of the loaded graph: every phase
// in use has an entry node, revise edges resolve, and no two non-hidden
// nodes of the same phase share a step ordinal.
func (g *Graph) Validate() error {
	phases := map[string]bool{}
	seen := map[string]string{}
	for _, node := range g.nodes {
		if node.ReviseToWorkflowID != nil {
			if _, ok := g.byID[*node.ReviseToWorkflowID]; !ok {
				return fmt.Errorf("workflow %s: revise target %s does not exist", node.ID, *node.ReviseToWorkflowID)
			}
		}
		for _, phaseID := range node.PhaseIDs {
			phases[phaseID] = true
			if node.IsHidden {
				continue
			}
			key := fmt.Sprintf("%s/%d", phaseID, node.Step)
			if prev, dup := seen[key]; dup {
				return fmt.Errorf("workflows %s and %s share step %d in phase %s", prev, node.ID, node.Step, phaseID)
			}
			seen[key] = node.ID
		}
	}
	for phaseID := range phases {
		if _, ok := g.FirstWorkflow(phaseID); !ok {
			return fmt.Errorf("phase %s has no entry workflow", phaseID)
		}
	}
	return nil
}

func hasPhase(node store.Workflow, phaseID string) bool {
	for _, id := range node.PhaseIDs {
		if id == phaseID {
			return true
		}
	}
	return false
}
