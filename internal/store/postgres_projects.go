package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateCode is returned when a project insert collides on the
// generated project code.
var ErrDuplicateCode = errors.New("duplicate project code")

// ProjectFilter is the storage translation of a compiled row-visibility
// predicate plus optional request filters. A nil slice means the dimension
// is unconstrained; an empty non-nil slice matches nothing.
type ProjectFilter struct {
	None        bool
	OrgIDs      []string
	WorkflowIDs []string
	StatusIn    []string
	StatusNotIn []string
	// ExtraProjectIDs widens the organization constraint: a project is in
	// scope when its organization matches OrgIDs OR its id appears here.
	ExtraProjectIDs []string
	PhaseID         string
	Status          string
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	if filter.None {
		return []Project{}, nil
	}

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, code, name, description, organization_id, phase_id, workflow_id,
		       current_step, max_step, status, assigned_user_id, revised_user_role_id,
		       created_by, submission_date, was_revised_by_ipr, was_approved, created_at, updated_at
		FROM projects
		WHERE 1=1
	`)
	args := []any{}
	addIn := func(column string, values []string) {
		if values == nil {
			return
		}
		args = append(args, encodeStringList(values))
		fmt.Fprintf(&query, " AND %s IN (SELECT jsonb_array_elements_text($%d::jsonb))", column, len(args))
	}
	if filter.OrgIDs != nil || filter.ExtraProjectIDs != nil {
		clauses := []string{}
		if filter.OrgIDs != nil {
			args = append(args, encodeStringList(filter.OrgIDs))
			clauses = append(clauses, fmt.Sprintf("organization_id IN (SELECT jsonb_array_elements_text($%d::jsonb))", len(args)))
		}
		if filter.ExtraProjectIDs != nil {
			args = append(args, encodeStringList(filter.ExtraProjectIDs))
			clauses = append(clauses, fmt.Sprintf("id IN (SELECT jsonb_array_elements_text($%d::jsonb))", len(args)))
		}
		fmt.Fprintf(&query, " AND (%s)", strings.Join(clauses, " OR "))
	}
	addIn("workflow_id", filter.WorkflowIDs)
	addIn("status", filter.StatusIn)
	if filter.StatusNotIn != nil {
		args = append(args, encodeStringList(filter.StatusNotIn))
		fmt.Fprintf(&query, " AND status NOT IN (SELECT jsonb_array_elements_text($%d::jsonb))", len(args))
	}
	if filter.PhaseID != "" {
		args = append(args, filter.PhaseID)
		fmt.Fprintf(&query, " AND phase_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&query, " AND status = $%d", len(args))
	}
	query.WriteString(" ORDER BY created_at DESC")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, description, organization_id, phase_id, workflow_id,
		       current_step, max_step, status, assigned_user_id, revised_user_role_id,
		       created_by, submission_date, was_revised_by_ipr, was_approved, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID)
	return scanProject(row)
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, code, name, description, organization_id, phase_id, workflow_id,
		                      current_step, max_step, status, assigned_user_id, revised_user_role_id,
		                      created_by, submission_date, was_revised_by_ipr, was_approved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, item.ID, item.Code, item.Name, item.Description, item.OrganizationID, item.PhaseID, item.WorkflowID,
		item.CurrentStep, item.MaxStep, item.Status, item.AssignedUserID, item.RevisedUserRoleID,
		item.CreatedBy, item.SubmissionDate, item.WasRevisedByIPR, item.WasApproved)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// LastProjectCode returns the code of the most recently created project
// owned by any of the given organizations, or "" when none exist.
func (s *PostgresStore) LastProjectCode(ctx context.Context, orgIDs []string) (string, error) {
	if len(orgIDs) == 0 {
		return "", nil
	}
	var code string
	err := s.db.QueryRowContext(ctx, `
		SELECT code FROM projects
		WHERE organization_id IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY created_at DESC
		LIMIT 1
	`, encodeStringList(orgIDs)).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last project code: %w", err)
	}
	return code, nil
}

// TransitionProject applies a workflow action atomically: the project row
// is locked for the duration of the transaction so concurrent actions
// serialize, and the loser re-reads the advanced state. The apply callback
// mutates the locked snapshot; returning an error rolls the whole
// transition back.
func (s *PostgresStore) TransitionProject(ctx context.Context, projectID string, apply func(p *Project) error) (Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, code, name, description, organization_id, phase_id, workflow_id,
		       current_step, max_step, status, assigned_user_id, revised_user_role_id,
		       created_by, submission_date, was_revised_by_ipr, was_approved, created_at, updated_at
		FROM projects
		WHERE id = $1
		FOR UPDATE
	`, projectID)
	item, err := scanProject(row)
	if err != nil {
		return Project{}, err
	}

	if err := apply(&item); err != nil {
		return Project{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE projects
		SET phase_id = $2, workflow_id = $3, current_step = $4, max_step = $5, status = $6,
		    assigned_user_id = $7, revised_user_role_id = $8, submission_date = $9,
		    was_revised_by_ipr = $10, was_approved = $11, updated_at = NOW()
		WHERE id = $1
	`, item.ID, item.PhaseID, item.WorkflowID, item.CurrentStep, item.MaxStep, item.Status,
		item.AssignedUserID, item.RevisedUserRoleID, item.SubmissionDate,
		item.WasRevisedByIPR, item.WasApproved)
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Project{}, fmt.Errorf("commit transition: %w", err)
	}
	return item, nil
}

type projectScanner interface {
	Scan(dest ...any) error
}

func scanProject(row projectScanner) (Project, error) {
	var item Project
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.Description, &item.OrganizationID,
		&item.PhaseID, &item.WorkflowID, &item.CurrentStep, &item.MaxStep, &item.Status,
		&item.AssignedUserID, &item.RevisedUserRoleID, &item.CreatedBy, &item.SubmissionDate,
		&item.WasRevisedByIPR, &item.WasApproved, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, err
		}
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	return item, nil
}
