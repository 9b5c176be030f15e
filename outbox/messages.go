package outbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/models"
)

// ErrUnknownEventType marks an event whose type tag is not in the
// registry. The consumer tolerates it (logs and skips); everywhere else
// it is a bug.
var ErrUnknownEventType = errors.New("unknown outbox event type")

// Message is a typed outbox payload. The set of messages is closed:
// the event_type column carries the discriminator, decoded via an
// explicit switch, never reflection.
type Message interface {
	EventType() string
}

const (
	TypeOrganizationCreated         = "OrganizationCreated"
	TypeOrganizationBaseRoleChanged = "OrganizationBaseRoleChanged"
	TypeOrganizationDeleted         = "OrganizationDeleted"
	TypeTeamCreated                 = "TeamCreated"
	TypeTeamDeleted                 = "TeamDeleted"
	TypeRepositoryCreated           = "RepositoryCreated"
	TypeRepositoryDeleted           = "RepositoryDeleted"
	TypeIssueCreated                = "IssueCreated"
	TypeIssueDeleted                = "IssueDeleted"
	TypeUserAddedToOrganization     = "UserAddedToOrganization"
	TypeUserRemovedFromOrganization = "UserRemovedFromOrganization"
	TypeUserAddedToTeam             = "UserAddedToTeam"
	TypeUserRemovedFromTeam         = "UserRemovedFromTeam"
	TypeUserAddedToRepository       = "UserAddedToRepository"
	TypeUserRemovedFromRepository   = "UserRemovedFromRepository"
	TypeUserAddedToIssue            = "UserAddedToIssue"
	TypeUserRemovedFromIssue        = "UserRemovedFromIssue"
	TypeUserDeleted                 = "UserDeleted"
)

type OrganizationCreated struct {
	OrganizationID     int64                   `json:"organization_id"`
	BaseRepositoryRole authz.Relation          `json:"base_repository_role"`
	Assignments        []models.RoleAssignment `json:"assignments"`
}

func (OrganizationCreated) EventType() string { return TypeOrganizationCreated }

type OrganizationBaseRoleChanged struct {
	OrganizationID int64          `json:"organization_id"`
	OldRole        authz.Relation `json:"old_role"`
	NewRole        authz.Relation `json:"new_role"`
}

func (OrganizationBaseRoleChanged) EventType() string { return TypeOrganizationBaseRoleChanged }

// OrganizationDeleted carries everything needed to clean the graph:
// the relational rows are already gone by consumption time, so the
// payload is the only remaining source of what to delete.
type OrganizationDeleted struct {
	OrganizationID     int64                   `json:"organization_id"`
	BaseRepositoryRole authz.Relation          `json:"base_repository_role"`
	Assignments        []models.RoleAssignment `json:"assignments"`
}

func (OrganizationDeleted) EventType() string { return TypeOrganizationDeleted }

type TeamCreated struct {
	TeamID         int64                   `json:"team_id"`
	OrganizationID int64                   `json:"organization_id"`
	Assignments    []models.RoleAssignment `json:"assignments"`
}

func (TeamCreated) EventType() string { return TypeTeamCreated }

type TeamDeleted struct {
	TeamID         int64                   `json:"team_id"`
	OrganizationID int64                   `json:"organization_id"`
	Assignments    []models.RoleAssignment `json:"assignments"`
}

func (TeamDeleted) EventType() string { return TypeTeamDeleted }

type RepositoryCreated struct {
	RepositoryID   int64                   `json:"repository_id"`
	OrganizationID int64                   `json:"organization_id"`
	Assignments    []models.RoleAssignment `json:"assignments"`
}

func (RepositoryCreated) EventType() string { return TypeRepositoryCreated }

type RepositoryDeleted struct {
	RepositoryID   int64                   `json:"repository_id"`
	OrganizationID int64                   `json:"organization_id"`
	Assignments    []models.RoleAssignment `json:"assignments"`
}

func (RepositoryDeleted) EventType() string { return TypeRepositoryDeleted }

type IssueCreated struct {
	IssueID      int64 `json:"issue_id"`
	RepositoryID int64 `json:"repository_id"`
	CreatorID    int64 `json:"creator_id"`
}

func (IssueCreated) EventType() string { return TypeIssueCreated }

type IssueDeleted struct {
	IssueID     int64                   `json:"issue_id"`
	CreatorID   int64                   `json:"creator_id"`
	Assignments []models.RoleAssignment `json:"assignments"`
}

func (IssueDeleted) EventType() string { return TypeIssueDeleted }

type UserAddedToOrganization struct {
	OrganizationID int64          `json:"organization_id"`
	UserID         int64          `json:"user_id"`
	Role           authz.Relation `json:"role"`
}

func (UserAddedToOrganization) EventType() string { return TypeUserAddedToOrganization }

type UserRemovedFromOrganization struct {
	OrganizationID int64          `json:"organization_id"`
	UserID         int64          `json:"user_id"`
	Role           authz.Relation `json:"role"`
}

func (UserRemovedFromOrganization) EventType() string { return TypeUserRemovedFromOrganization }

type UserAddedToTeam struct {
	TeamID int64          `json:"team_id"`
	UserID int64          `json:"user_id"`
	Role   authz.Relation `json:"role"`
}

func (UserAddedToTeam) EventType() string { return TypeUserAddedToTeam }

type UserRemovedFromTeam struct {
	TeamID int64          `json:"team_id"`
	UserID int64          `json:"user_id"`
	Role   authz.Relation `json:"role"`
}

func (UserRemovedFromTeam) EventType() string { return TypeUserRemovedFromTeam }

type UserAddedToRepository struct {
	RepositoryID int64          `json:"repository_id"`
	UserID       int64          `json:"user_id"`
	Role         authz.Relation `json:"role"`
}

func (UserAddedToRepository) EventType() string { return TypeUserAddedToRepository }

type UserRemovedFromRepository struct {
	RepositoryID int64          `json:"repository_id"`
	UserID       int64          `json:"user_id"`
	Role         authz.Relation `json:"role"`
}

func (UserRemovedFromRepository) EventType() string { return TypeUserRemovedFromRepository }

type UserAddedToIssue struct {
	IssueID int64          `json:"issue_id"`
	UserID  int64          `json:"user_id"`
	Role    authz.Relation `json:"role"`
}

func (UserAddedToIssue) EventType() string { return TypeUserAddedToIssue }

type UserRemovedFromIssue struct {
	IssueID int64          `json:"issue_id"`
	UserID  int64          `json:"user_id"`
	Role    authz.Relation `json:"role"`
}

func (UserRemovedFromIssue) EventType() string { return TypeUserRemovedFromIssue }

// UserDeleted sweeps every tuple naming the user as subject across all
// four relation kinds, using lists computed by the domain layer before
// the relational rows were removed.
type UserDeleted struct {
	UserID            int64               `json:"user_id"`
	OrganizationRoles []models.ObjectRole `json:"organization_roles"`
	TeamRoles         []models.ObjectRole `json:"team_roles"`
	RepositoryRoles   []models.ObjectRole `json:"repository_roles"`
	IssueRoles        []models.ObjectRole `json:"issue_roles"`
}

func (UserDeleted) EventType() string { return TypeUserDeleted }

// EncodeMessage serializes a message for the payload column and returns
// its type tag for the event_type column.
func EncodeMessage(msg Message) (string, json.RawMessage, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", nil, fmt.Errorf("encode outbox message %s: %w", msg.EventType(), err)
	}
	return msg.EventType(), payload, nil
}

// DecodeMessage resolves the type tag and deserializes the payload into
// the matching message. An unregistered tag yields ErrUnknownEventType;
// adding a new event type requires both a producer and a branch here,
// or the event is skipped by the consumer.
func DecodeMessage(eventType string, payload json.RawMessage) (Message, error) {
	var msg Message
	switch eventType {
	case TypeOrganizationCreated:
		msg = &OrganizationCreated{}
	case TypeOrganizationBaseRoleChanged:
		msg = &OrganizationBaseRoleChanged{}
	case TypeOrganizationDeleted:
		msg = &OrganizationDeleted{}
	case TypeTeamCreated:
		msg = &TeamCreated{}
	case TypeTeamDeleted:
		msg = &TeamDeleted{}
	case TypeRepositoryCreated:
		msg = &RepositoryCreated{}
	case TypeRepositoryDeleted:
		msg = &RepositoryDeleted{}
	case TypeIssueCreated:
		msg = &IssueCreated{}
	case TypeIssueDeleted:
		msg = &IssueDeleted{}
	case TypeUserAddedToOrganization:
		msg = &UserAddedToOrganization{}
	case TypeUserRemovedFromOrganization:
		msg = &UserRemovedFromOrganization{}
	case TypeUserAddedToTeam:
		msg = &UserAddedToTeam{}
	case TypeUserRemovedFromTeam:
		msg = &UserRemovedFromTeam{}
	case TypeUserAddedToRepository:
		msg = &UserAddedToRepository{}
	case TypeUserRemovedFromRepository:
		msg = &UserRemovedFromRepository{}
	case TypeUserAddedToIssue:
		msg = &UserAddedToIssue{}
	case TypeUserRemovedFromIssue:
		msg = &UserRemovedFromIssue{}
	case TypeUserDeleted:
		msg = &UserDeleted{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("decode outbox message %s: %w", eventType, err)
	}
	return msg, nil
}
