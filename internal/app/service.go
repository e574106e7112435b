package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"pims/api/internal/access"
	"pims/api/internal/auth"
	"pims/api/internal/cache"
	"pims/api/internal/config"
	"pims/api/internal/events"
	"pims/api/internal/lifecycle"
	"pims/api/internal/orgtree"
	"pims/api/internal/store"
	"pims/api/internal/util"
	"pims/api/internal/workflow"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	RoleID    string
	RoleIDs   []string
	JTI       string
	ExpiresAt time.Time
}

type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ActionInput struct {
	Action         string  `json:"action"`
	Reason         string  `json:"reason"`
	AssignedUserID *string `json:"assignedUserId"`
}

type BulkActionInput struct {
	ProjectIDs []string `json:"projectIds"`
	Action     string   `json:"action"`
	Reason     string   `json:"reason"`
}

type BulkActionResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListOrganizations(context.Context) ([]store.Organization, error)
	ListUserRoles(context.Context, string) ([]store.UserRole, error)
	GetUserRole(context.Context, string) (store.UserRole, error)
	SetUserRoleDelegator(context.Context, string, bool) error
	ListRolesByIDs(context.Context, []string) ([]store.Role, error)
	ListPhases(context.Context) ([]store.Phase, error)
	ListWorkflows(context.Context) ([]store.Workflow, error)
	ListProjects(context.Context, store.ProjectFilter) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	LastProjectCode(context.Context, []string) (string, error)
	TransitionProject(context.Context, string, func(*store.Project) error) (store.Project, error)
	ListTimeline(context.Context, string, bool) ([]store.TimelineEntry, error)
}

type Service struct {
	store      dataStore
	db         *sql.DB
	cfg        config.Config
	dispatcher *events.Dispatcher
	cache      *cache.Cache
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(dataStore dataStore, db *sql.DB, cfg config.Config, dispatcher *events.Dispatcher, snapshots *cache.Cache, log zerolog.Logger) *Service {
	return &Service{
		store:      dataStore,
		db:         db,
		cfg:        cfg,
		dispatcher: dispatcher,
		cache:      snapshots,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Login authenticates by email/password and optionally pins one of the
// actor's active roles into the session token.
func (s *Service) Login(ctx context.Context, email, password, roleID string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	actor, err := s.resolveActor(ctx, user, "")
	if err != nil {
		return Session{}, err
	}
	if roleID != "" && !actor.HoldsRole(roleID) {
		return Session{}, domainError(http.StatusForbidden, "ROLE_NOT_ACTIVE", "Selected role is not an active binding", nil)
	}

	jti := util.NewID("")
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		RoleID: roleID,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		RoleID:    roleID,
		RoleIDs:   actor.AllRoleIDs(),
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// ActorFromToken parses a bearer token and resolves the full actor: the
// user, their active role bindings as of now, and the selected role. The
// actor is shaped once here and passed by value downstream.
func (s *Service) ActorFromToken(ctx context.Context, token string) (access.Actor, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return access.Actor{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.Actor{}, auth.ErrInvalidToken
		}
		return access.Actor{}, fmt.Errorf("lookup user: %w", err)
	}
	return s.resolveActor(ctx, user, claims.RoleID)
}

func (s *Service) resolveActor(ctx context.Context, user store.User, selectedRoleID string) (access.Actor, error) {
	bindings, err := s.store.ListUserRoles(ctx, user.ID)
	if err != nil {
		return access.Actor{}, fmt.Errorf("list user roles: %w", err)
	}
	active := access.ActiveBindings(bindings, s.now())

	roleIDs := make([]string, 0, len(active))
	for _, b := range active {
		roleIDs = append(roleIDs, b.RoleID)
	}
	roles, err := s.store.ListRolesByIDs(ctx, roleIDs)
	if err != nil {
		return access.Actor{}, fmt.Errorf("list roles: %w", err)
	}
	byID := make(map[string]store.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}

	actor := access.Actor{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		SelectedRoleID: selectedRoleID,
	}
	for _, b := range active {
		role, ok := byID[b.RoleID]
		if !ok {
			// Dangling role reference: drop the binding instead of
			// failing the whole request.
			s.log.Warn().Str("user_id", user.ID).Str("role_id", b.RoleID).Msg("binding references unknown role")
			continue
		}
		actor.Roles = append(actor.Roles, access.ActiveRole{Binding: b, Role: role})
	}
	return actor, nil
}

func (s *Service) orgTree(ctx context.Context) (*orgtree.Tree, error) {
	if s.cache != nil {
		if orgs, ok := s.cache.GetOrganizations(ctx); ok {
			return orgtree.New(orgs), nil
		}
	}
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return nil, transientError(err)
	}
	if s.cache != nil {
		s.cache.SetOrganizations(ctx, orgs)
	}
	return orgtree.New(orgs), nil
}

func (s *Service) workflowGraph(ctx context.Context) (*workflow.Graph, error) {
	if s.cache != nil {
		if workflows, ok := s.cache.GetWorkflows(ctx); ok {
			return workflow.NewGraph(workflows), nil
		}
	}
	workflows, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return nil, transientError(err)
	}
	if s.cache != nil {
		s.cache.SetWorkflows(ctx, workflows)
	}
	return workflow.NewGraph(workflows), nil
}

func (s *Service) engine(ctx context.Context) (*lifecycle.Engine, *workflow.Graph, error) {
	graph, err := s.workflowGraph(ctx)
	if err != nil {
		return nil, nil, err
	}
	phases, err := s.store.ListPhases(ctx)
	if err != nil {
		return nil, nil, transientError(err)
	}
	return lifecycle.NewEngine(graph, phases), graph, nil
}

func transientError(err error) error {
	return domainError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Backing store unavailable", err.Error())
}
