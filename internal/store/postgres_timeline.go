package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertTimelineEntry(ctx context.Context, entry TimelineEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timeline_entries (id, project_id, phase_id, workflow_id, step, action, reason,
		                              actor_user_id, assigned_user_id, is_ipr)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.ProjectID, entry.PhaseID, entry.WorkflowID, entry.Step, entry.Action,
		entry.Reason, entry.ActorUserID, entry.AssignedUserID, entry.IsIPR)
	if err != nil {
		return fmt.Errorf("insert timeline entry: %w", err)
	}
	return nil
}

// ListTimeline returns the audit trail for a project, oldest first. When
// includeIPR is false, entries recorded at review-detour steps are hidden.
func (s *PostgresStore) ListTimeline(ctx context.Context, projectID string, includeIPR bool) ([]TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, phase_id, workflow_id, step, action, reason,
		       actor_user_id, assigned_user_id, is_ipr, created_at
		FROM timeline_entries
		WHERE project_id = $1 AND ($2 OR is_ipr = FALSE)
		ORDER BY created_at
	`, projectID, includeIPR)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	items := make([]TimelineEntry, 0)
	for rows.Next() {
		var item TimelineEntry
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.PhaseID, &item.WorkflowID, &item.Step,
			&item.Action, &item.Reason, &item.ActorUserID, &item.AssignedUserID, &item.IsIPR, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return items, nil
}
