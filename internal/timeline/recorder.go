// Package timeline records the append-only audit trail of workflow
// actions. It subscribes to lifecycle events and writes one entry per
// transition, capturing the position the project was acted on from.
package timeline

import (
	"context"

	"github.com/rs/zerolog"

	"pims/api/internal/events"
	"pims/api/internal/lifecycle"
	"pims/api/internal/store"
	"pims/api/internal/util"
)

type entrySink interface {
	InsertTimelineEntry(ctx context.Context, entry store.TimelineEntry) error
}

type Recorder struct {
	store entrySink
	log   zerolog.Logger
}

func NewRecorder(sink entrySink, log zerolog.Logger) *Recorder {
	return &Recorder{store: sink, log: log}
}

// Register subscribes the recorder on a dispatcher.
func (r *Recorder) Register(d *events.Dispatcher) {
	d.SubscribeCreated(r.OnProjectCreated)
	d.SubscribeStatusChanged(r.OnStatusChanged)
}

func (r *Recorder) OnProjectCreated(ctx context.Context, ev events.ProjectCreated) error {
	if ev.Project.WorkflowID == nil {
		return nil
	}
	return r.store.InsertTimelineEntry(ctx, store.TimelineEntry{
		ID:          util.NewID("tl"),
		ProjectID:   ev.Project.ID,
		PhaseID:     ev.Project.PhaseID,
		WorkflowID:  *ev.Project.WorkflowID,
		Step:        ev.Project.CurrentStep,
		Action:      lifecycle.ActionCreate,
		ActorUserID: ev.ActorUserID,
	})
}

func (r *Recorder) OnStatusChanged(ctx context.Context, ev events.ProjectStatusChanged) error {
	// Without a previous position there is nothing meaningful to record.
	if ev.PrevWorkflowID == "" || ev.PrevPhaseID == "" {
		r.log.Debug().Str("project_id", ev.Project.ID).Msg("skipping timeline entry without previous position")
		return nil
	}
	return r.store.InsertTimelineEntry(ctx, store.TimelineEntry{
		ID:             util.NewID("tl"),
		ProjectID:      ev.Project.ID,
		PhaseID:        ev.PrevPhaseID,
		WorkflowID:     ev.PrevWorkflowID,
		Step:           ev.PrevStep,
		Action:         ev.Action,
		Reason:         ev.Reason,
		ActorUserID:    ev.ActorUserID,
		AssignedUserID: ev.Project.AssignedUserID,
		IsIPR:          ev.PrevIsIPR,
	})
}
