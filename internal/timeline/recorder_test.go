package timeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"pims/api/internal/events"
	"pims/api/internal/store"
)

type fakeSink struct {
	entries []store.TimelineEntry
}

func (f *fakeSink) InsertTimelineEntry(ctx context.Context, entry store.TimelineEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func ptr(s string) *string { return &s }

func TestStatusChangedRecordsPreviousPosition(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, zerolog.Nop())

	assignee := "u9"
	err := r.OnStatusChanged(context.Background(), events.ProjectStatusChanged{
		Project: store.Project{
			ID: "p1", PhaseID: "ph1", WorkflowID: ptr("wf2"), CurrentStep: 2,
			Status: store.StatusSubmitted, AssignedUserID: &assignee,
		},
		Action:         "SUBMIT",
		Reason:         "ready for review",
		ActorUserID:    "u1",
		PrevPhaseID:    "ph1",
		PrevWorkflowID: "wf1",
		PrevStep:       1,
	})
	if err != nil {
		t.Fatalf("OnStatusChanged: %v", err)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	e := sink.entries[0]
	if e.WorkflowID != "wf1" || e.Step != 1 || e.PhaseID != "ph1" {
		t.Fatalf("entry records %s/%d, want the pre-action position wf1/1", e.WorkflowID, e.Step)
	}
	if e.Action != "SUBMIT" || e.Reason != "ready for review" || e.ActorUserID != "u1" {
		t.Fatalf("entry = %+v", e)
	}
	if e.AssignedUserID == nil || *e.AssignedUserID != "u9" {
		t.Fatal("assignee not carried into the entry")
	}
}

func TestStatusChangedWithoutPreviousPositionIsSkipped(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, zerolog.Nop())
	err := r.OnStatusChanged(context.Background(), events.ProjectStatusChanged{
		Project: store.Project{ID: "p1"},
		Action:  "REJECT",
	})
	if err != nil {
		t.Fatalf("OnStatusChanged: %v", err)
	}
	if len(sink.entries) != 0 {
		t.Fatal("entry recorded without a previous position")
	}
}

func TestProjectCreatedRecordsEntryPosition(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, zerolog.Nop())
	err := r.OnProjectCreated(context.Background(), events.ProjectCreated{
		Project:     store.Project{ID: "p1", PhaseID: "ph1", WorkflowID: ptr("wf1"), CurrentStep: 1, Status: store.StatusDraft},
		ActorUserID: "u1",
	})
	if err != nil {
		t.Fatalf("OnProjectCreated: %v", err)
	}
	if len(sink.entries) != 1 || sink.entries[0].Action != "CREATE" || sink.entries[0].WorkflowID != "wf1" {
		t.Fatalf("entries = %+v", sink.entries)
	}
}
