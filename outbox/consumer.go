package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/capturer"
	"github.com/collabforge/authsync/models"
)

// Consumer translates outbox events into relationship tuple writes and
// deletes. Every handler is safe to run twice for the same event:
// delivery is at-least-once and the engine treats duplicate writes and
// missing deletes as no-ops, so no existence pre-checks happen here.
type Consumer struct {
	client *authz.Client
	logger capturer.Logger
}

func NewConsumer(client *authz.Client, logger capturer.Logger) *Consumer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Consumer{client: client, logger: logger}
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...any) {}
func (noopLogger) Infof(format string, args ...any)  {}
func (noopLogger) Warnf(format string, args ...any)  {}
func (noopLogger) Errorf(format string, args ...any) {}

// HandleOutboxEvent applies one event's effect to the authorization
// engine. An unknown event type is the single tolerated error class:
// the stream may carry events meant for other consumers or future
// schema versions, and failing the pipeline over one foreign event
// would be worse than skipping it.
func (c *Consumer) HandleOutboxEvent(ctx context.Context, event *Event) error {
	msg, err := DecodeMessage(event.EventType, event.Payload)
	if err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			c.logger.Warnf("skipping outbox event %d with unknown type %q", event.ID, event.EventType)
			return nil
		}
		return err
	}

	writes, deletes, err := c.translate(msg)
	if err != nil {
		return fmt.Errorf("translate outbox event %d (%s): %w", event.ID, event.EventType, err)
	}
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}

	// one combined call so the engine applies the batch atomically;
	// update-style cascades must never be observably half-applied
	if err := c.client.Write(ctx, writes, deletes); err != nil {
		return fmt.Errorf("apply outbox event %d (%s): %w", event.ID, event.EventType, err)
	}

	c.logger.Debugf("applied outbox event %d (%s): %d writes, %d deletes",
		event.ID, event.EventType, len(writes), len(deletes))
	return nil
}

func (c *Consumer) translate(msg Message) (writes, deletes []authz.RelationTuple, err error) {
	switch m := msg.(type) {
	case *OrganizationCreated:
		base, err := baseRoleTuple(m.OrganizationID, m.BaseRepositoryRole)
		if err != nil {
			return nil, nil, err
		}
		writes = append(writes, base)
		writes = append(writes, assignmentTuples(organizationObject(m.OrganizationID), m.Assignments)...)

	case *OrganizationBaseRoleChanged:
		oldTuple, err := baseRoleTuple(m.OrganizationID, m.OldRole)
		if err != nil {
			return nil, nil, err
		}
		newTuple, err := baseRoleTuple(m.OrganizationID, m.NewRole)
		if err != nil {
			return nil, nil, err
		}
		if oldTuple == newTuple {
			return nil, nil, nil
		}
		deletes = append(deletes, oldTuple)
		writes = append(writes, newTuple)

	case *OrganizationDeleted:
		base, err := baseRoleTuple(m.OrganizationID, m.BaseRepositoryRole)
		if err != nil {
			return nil, nil, err
		}
		deletes = append(deletes, base)
		deletes = append(deletes, assignmentTuples(organizationObject(m.OrganizationID), m.Assignments)...)

	case *TeamCreated:
		writes = append(writes, ownerTuple(teamObject(m.TeamID), m.OrganizationID))
		writes = append(writes, assignmentTuples(teamObject(m.TeamID), m.Assignments)...)

	case *TeamDeleted:
		deletes = append(deletes, ownerTuple(teamObject(m.TeamID), m.OrganizationID))
		deletes = append(deletes, assignmentTuples(teamObject(m.TeamID), m.Assignments)...)

	case *RepositoryCreated:
		writes = append(writes, ownerTuple(repositoryObject(m.RepositoryID), m.OrganizationID))
		writes = append(writes, assignmentTuples(repositoryObject(m.RepositoryID), m.Assignments)...)

	case *RepositoryDeleted:
		deletes = append(deletes, ownerTuple(repositoryObject(m.RepositoryID), m.OrganizationID))
		deletes = append(deletes, assignmentTuples(repositoryObject(m.RepositoryID), m.Assignments)...)

	case *IssueCreated:
		writes = append(writes, authz.RelationTuple{
			Object:   issueObject(m.IssueID),
			Relation: authz.RelationCreator,
			Subject:  userSubject(m.CreatorID),
		})

	case *IssueDeleted:
		deletes = append(deletes, authz.RelationTuple{
			Object:   issueObject(m.IssueID),
			Relation: authz.RelationCreator,
			Subject:  userSubject(m.CreatorID),
		})
		deletes = append(deletes, assignmentTuples(issueObject(m.IssueID), m.Assignments)...)

	case *UserAddedToOrganization:
		writes = append(writes, userRoleTuple(organizationObject(m.OrganizationID), m.UserID, m.Role))

	case *UserRemovedFromOrganization:
		deletes = append(deletes, userRoleTuple(organizationObject(m.OrganizationID), m.UserID, m.Role))

	case *UserAddedToTeam:
		writes = append(writes, userRoleTuple(teamObject(m.TeamID), m.UserID, m.Role))

	case *UserRemovedFromTeam:
		deletes = append(deletes, userRoleTuple(teamObject(m.TeamID), m.UserID, m.Role))

	case *UserAddedToRepository:
		writes = append(writes, userRoleTuple(repositoryObject(m.RepositoryID), m.UserID, m.Role))

	case *UserRemovedFromRepository:
		deletes = append(deletes, userRoleTuple(repositoryObject(m.RepositoryID), m.UserID, m.Role))

	case *UserAddedToIssue:
		writes = append(writes, userRoleTuple(issueObject(m.IssueID), m.UserID, m.Role))

	case *UserRemovedFromIssue:
		deletes = append(deletes, userRoleTuple(issueObject(m.IssueID), m.UserID, m.Role))

	case *UserDeleted:
		for _, r := range m.OrganizationRoles {
			deletes = append(deletes, userRoleTuple(organizationObject(r.ObjectID), m.UserID, r.Role))
		}
		for _, r := range m.TeamRoles {
			deletes = append(deletes, userRoleTuple(teamObject(r.ObjectID), m.UserID, r.Role))
		}
		for _, r := range m.RepositoryRoles {
			deletes = append(deletes, userRoleTuple(repositoryObject(r.ObjectID), m.UserID, r.Role))
		}
		for _, r := range m.IssueRoles {
			deletes = append(deletes, userRoleTuple(issueObject(r.ObjectID), m.UserID, r.Role))
		}

	default:
		return nil, nil, fmt.Errorf("no handler registered for message type %T", msg)
	}

	return writes, deletes, nil
}

func organizationObject(id int64) string {
	return authz.ToZanzibarNotation(authz.TypeName[models.Organization](), id, "")
}

func teamObject(id int64) string {
	return authz.ToZanzibarNotation(authz.TypeName[models.Team](), id, "")
}

func repositoryObject(id int64) string {
	return authz.ToZanzibarNotation(authz.TypeName[models.Repository](), id, "")
}

func issueObject(id int64) string {
	return authz.ToZanzibarNotation(authz.TypeName[models.Issue](), id, "")
}

func userSubject(id int64) string {
	return authz.ToZanzibarNotation(authz.TypeName[models.User](), id, "")
}

func userRoleTuple(object string, userID int64, role authz.Relation) authz.RelationTuple {
	return authz.RelationTuple{
		Object:   object,
		Relation: role,
		Subject:  userSubject(userID),
	}
}

func assignmentTuples(object string, assignments []models.RoleAssignment) []authz.RelationTuple {
	tuples := make([]authz.RelationTuple, 0, len(assignments))
	for _, a := range assignments {
		tuples = append(tuples, userRoleTuple(object, a.UserID, a.Role))
	}
	return tuples
}

// ownerTuple links a contained entity to its owning organization.
func ownerTuple(object string, organizationID int64) authz.RelationTuple {
	return authz.RelationTuple{
		Object:   object,
		Relation: authz.RelationOwner,
		Subject:  organizationObject(organizationID),
	}
}

// baseRoleTuple grants every organization member the configured
// repository role on repositories the organization owns: the subject is
// the organization's own member set.
func baseRoleTuple(organizationID int64, baseRole authz.Relation) (authz.RelationTuple, error) {
	var catchAll authz.Relation
	switch baseRole {
	case authz.RelationReader:
		catchAll = authz.RelationRepositoryReader
	case authz.RelationWriter:
		catchAll = authz.RelationRepositoryWriter
	case authz.RelationAdministrator:
		catchAll = authz.RelationRepositoryAdmin
	default:
		return authz.RelationTuple{}, fmt.Errorf("base repository role %q has no catch-all relation", baseRole)
	}

	return authz.RelationTuple{
		Object:   organizationObject(organizationID),
		Relation: catchAll,
		Subject:  authz.ToZanzibarNotation(authz.TypeName[models.Organization](), organizationID, authz.RelationMember),
	}, nil
}
