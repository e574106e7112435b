// Package events is the in-process fan-out for lifecycle events. Delivery
// is synchronous, post-commit and best-effort: a failing subscriber is
// logged and never rolls back the transition that produced the event.
package events

import (
	"context"

	"github.com/rs/zerolog"

	"pims/api/internal/store"
)

type ProjectCreated struct {
	Project     store.Project
	ActorUserID string
}

type ProjectStatusChanged struct {
	Project        store.Project
	Action         string
	Reason         string
	ActorUserID    string
	PrevPhaseID    string
	PrevWorkflowID string
	PrevStep       int
	PrevIsIPR      bool
}

type CreatedHandler func(ctx context.Context, ev ProjectCreated) error

type StatusChangedHandler func(ctx context.Context, ev ProjectStatusChanged) error

type Dispatcher struct {
	log           zerolog.Logger
	created       []CreatedHandler
	statusChanged []StatusChangedHandler
}

func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

func (d *Dispatcher) SubscribeCreated(h CreatedHandler) {
	d.created = append(d.created, h)
}

func (d *Dispatcher) SubscribeStatusChanged(h StatusChangedHandler) {
	d.statusChanged = append(d.statusChanged, h)
}

func (d *Dispatcher) PublishCreated(ctx context.Context, ev ProjectCreated) {
	for _, h := range d.created {
		if err := h(ctx, ev); err != nil {
			d.log.Error().Err(err).
				Str("project_id", ev.Project.ID).
				Msg("project created subscriber failed")
		}
	}
}

func (d *Dispatcher) PublishStatusChanged(ctx context.Context, ev ProjectStatusChanged) {
	for _, h := range d.statusChanged {
		if err := h(ctx, ev); err != nil {
			d.log.Error().Err(err).
				Str("project_id", ev.Project.ID).
				Str("action", ev.Action).
				Msg("status changed subscriber failed")
		}
	}
}
