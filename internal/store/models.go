package store

import "time"

// Project lifecycle statuses.
const (
	StatusDraft                 = "DRAFT"
	StatusSubmitted             = "SUBMITTED"
	StatusAssigned              = "ASSIGNED"
	StatusConditionallyApproved = "CONDITIONALLY_APPROVED"
	StatusRevised               = "REVISED"
	StatusRejected              = "REJECTED"
	StatusOngoing               = "ONGOING"
	StatusCompleted             = "COMPLETED"
)

type User struct {
	ID             string
	DisplayName    string
	Email          string
	PasswordHash   string
	OrganizationID *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Organization struct {
	ID        string
	Name      string
	Code      string
	ParentID  *string
	Level     int
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is a named permission bundle. Permissions and PhaseIDs are stored
// as jsonb arrays.
type Role struct {
	ID                string
	Name              string
	Permissions       []string
	PhaseIDs          []string
	OrganizationLevel int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserRole binds a user to a role within an organization. A binding is
// active only when approved, and for delegated bindings only inside the
// [StartDate, EndDate] window.
type UserRole struct {
	ID                     string
	UserID                 string
	RoleID                 string
	OrganizationID         *string
	IsApproved             bool
	IsDelegated            bool
	IsDelegator            bool
	DelegatedBy            *string
	StartDate              *time.Time
	EndDate                *time.Time
	AllowedOrganizationIDs []string
	AllowedProjectIDs      []string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Phase struct {
	ID      string
	Name    string
	Ordinal int
}

// Workflow is a node of the approval graph: who acts at a given step of
// given phases, which actions they may take, and what status the project
// carries while parked there.
type Workflow struct {
	ID                 string
	Name               string
	Step               int
	PhaseIDs           []string
	RoleID             string
	Actions            []string
	ProjectStatus      string
	StatusMsg          string
	IsIPR              bool
	ReviseToWorkflowID *string
	IsHidden           bool
	SkipIfRevised      bool
	SkipIfApproved     bool
	PostEvaluation     bool
}

type Project struct {
	ID                string
	Code              string
	Name              string
	Description       string
	OrganizationID    string
	PhaseID           string
	WorkflowID        *string
	CurrentStep       int
	MaxStep           int
	Status            string
	AssignedUserID    *string
	RevisedUserRoleID *string
	CreatedBy         string
	SubmissionDate    *time.Time
	WasRevisedByIPR   bool
	WasApproved       bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TimelineEntry is one append-only audit row recording where a project
// stood when an action was taken against it.
type TimelineEntry struct {
	ID             string
	ProjectID      string
	PhaseID        string
	WorkflowID     string
	Step           int
	Action         string
	Reason         string
	ActorUserID    string
	AssignedUserID *string
	IsIPR          bool
	CreatedAt      time.Time
}
