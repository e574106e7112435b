package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, organization_id, created_at, updated_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.OrganizationID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, organization_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.OrganizationID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, parent_id, level, is_deleted, created_at, updated_at
		FROM organizations
		WHERE is_deleted = FALSE
		ORDER BY level, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		var item Organization
		if err := rows.Scan(&item.ID, &item.Name, &item.Code, &item.ParentID, &item.Level, &item.IsDeleted, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var item Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, parent_id, level, is_deleted, created_at, updated_at
		FROM organizations
		WHERE id = $1 AND is_deleted = FALSE
	`, orgID).Scan(&item.ID, &item.Name, &item.Code, &item.ParentID, &item.Level, &item.IsDeleted, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Organization{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListUserRoles(ctx context.Context, userID string) ([]UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role_id, organization_id, is_approved, is_delegated, is_delegator,
		       delegated_by, start_date, end_date, allowed_organization_ids, allowed_project_ids,
		       created_at, updated_at
		FROM user_roles
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	items := make([]UserRole, 0)
	for rows.Next() {
		var item UserRole
		var allowedOrgs, allowedProjects []byte
		if err := rows.Scan(&item.ID, &item.UserID, &item.RoleID, &item.OrganizationID,
			&item.IsApproved, &item.IsDelegated, &item.IsDelegator, &item.DelegatedBy,
			&item.StartDate, &item.EndDate, &allowedOrgs, &allowedProjects,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		item.AllowedOrganizationIDs = decodeStringList(allowedOrgs)
		item.AllowedProjectIDs = decodeStringList(allowedProjects)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserRole(ctx context.Context, userRoleID string) (UserRole, error) {
	var item UserRole
	var allowedOrgs, allowedProjects []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, role_id, organization_id, is_approved, is_delegated, is_delegator,
		       delegated_by, start_date, end_date, allowed_organization_ids, allowed_project_ids,
		       created_at, updated_at
		FROM user_roles
		WHERE id = $1
	`, userRoleID).Scan(&item.ID, &item.UserID, &item.RoleID, &item.OrganizationID,
		&item.IsApproved, &item.IsDelegated, &item.IsDelegator, &item.DelegatedBy,
		&item.StartDate, &item.EndDate, &allowedOrgs, &allowedProjects,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return UserRole{}, err
	}
	item.AllowedOrganizationIDs = decodeStringList(allowedOrgs)
	item.AllowedProjectIDs = decodeStringList(allowedProjects)
	return item, nil
}

func (s *PostgresStore) SetUserRoleDelegator(ctx context.Context, userRoleID string, isDelegator bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_roles SET is_delegator = $2, updated_at = NOW() WHERE id = $1
	`, userRoleID, isDelegator)
	if err != nil {
		return fmt.Errorf("set user role delegator: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRolesByIDs(ctx context.Context, roleIDs []string) ([]Role, error) {
	if len(roleIDs) == 0 {
		return []Role{}, nil
	}
	args, err := json.Marshal(roleIDs)
	if err != nil {
		return nil, fmt.Errorf("encode role ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, permissions, phase_ids, organization_level, created_at, updated_at
		FROM roles
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, args)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	items := make([]Role, 0, len(roleIDs))
	for rows.Next() {
		item, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRole(ctx context.Context, roleID string) (Role, error) {
	var item Role
	var permissions, phaseIDs []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, permissions, phase_ids, organization_level, created_at, updated_at
		FROM roles
		WHERE id = $1
	`, roleID).Scan(&item.ID, &item.Name, &permissions, &phaseIDs, &item.OrganizationLevel, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	item.Permissions = decodeStringList(permissions)
	item.PhaseIDs = decodeStringList(phaseIDs)
	return item, nil
}

func (s *PostgresStore) ListPhases(ctx context.Context) ([]Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ordinal FROM phases ORDER BY ordinal
	`)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	items := make([]Phase, 0)
	for rows.Next() {
		var item Phase
		if err := rows.Scan(&item.ID, &item.Name, &item.Ordinal); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, step, phase_ids, role_id, actions, project_status, status_msg,
		       is_ipr, revise_to_workflow_id, is_hidden, skip_if_revised, skip_if_approved, post_evaluation
		FROM workflows
		ORDER BY step
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	items := make([]Workflow, 0)
	for rows.Next() {
		var item Workflow
		var phaseIDs, actions []byte
		if err := rows.Scan(&item.ID, &item.Name, &item.Step, &phaseIDs, &item.RoleID, &actions,
			&item.ProjectStatus, &item.StatusMsg, &item.IsIPR, &item.ReviseToWorkflowID,
			&item.IsHidden, &item.SkipIfRevised, &item.SkipIfApproved, &item.PostEvaluation); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		item.PhaseIDs = decodeStringList(phaseIDs)
		item.Actions = decodeStringList(actions)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return items, nil
}

// ListRoleRecipients returns the users holding an approved binding for the
// given role scoped to the given organization. Used for step notifications.
func (s *PostgresStore) ListRoleRecipients(ctx context.Context, roleID, orgID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.display_name, u.email, u.password_hash, u.organization_id, u.created_at, u.updated_at
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role_id = $1
		  AND ur.is_approved = TRUE
		  AND (ur.organization_id IS NULL OR ur.organization_id = $2)
	`, roleID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list role recipients: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.PasswordHash, &item.OrganizationID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return items, nil
}

type roleScanner interface {
	Scan(dest ...any) error
}

func scanRole(row roleScanner) (Role, error) {
	var item Role
	var permissions, phaseIDs []byte
	if err := row.Scan(&item.ID, &item.Name, &permissions, &phaseIDs, &item.OrganizationLevel, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Role{}, fmt.Errorf("scan role: %w", err)
	}
	item.Permissions = decodeStringList(permissions)
	item.PhaseIDs = decodeStringList(phaseIDs)
	return item, nil
}

// decodeStringList reads a jsonb string array column. A NULL or malformed
// column decodes to nil rather than failing the whole scan.
func decodeStringList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeStringList(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return raw
}

// IsNotFound reports whether err is the store's row-missing sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
