package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/models"
	"github.com/collabforge/authsync/outbox"
)

func eventFor(t *testing.T, id int64, msg outbox.Message) *outbox.Event {
	t.Helper()
	eventType, payload, err := outbox.EncodeMessage(msg)
	require.NoError(t, err)
	return &outbox.Event{
		ID:           id,
		EventSource:  "authsync",
		EventType:    eventType,
		EventTime:    time.Now(),
		Payload:      payload,
		LastEditedBy: 1,
	}
}

func newConsumerHarness() (*outbox.Consumer, *authz.MemoryEngine) {
	engine := authz.NewMemoryEngine()
	return outbox.NewConsumer(authz.NewClient(engine), nil), engine
}

func TestConsumerOrganizationLifecycle(t *testing.T) {
	ctx := context.Background()
	consumer, engine := newConsumerHarness()

	created := eventFor(t, 1, &outbox.OrganizationCreated{
		OrganizationID:     1,
		BaseRepositoryRole: authz.RelationReader,
		Assignments: []models.RoleAssignment{
			{UserID: 7, Role: authz.RelationOwner},
		},
	})
	require.NoError(t, consumer.HandleOutboxEvent(ctx, created))

	assert.ElementsMatch(t, []authz.RelationTuple{
		{Object: "Organization:1", Relation: authz.RelationRepositoryReader, Subject: "Organization:1#member"},
		{Object: "Organization:1", Relation: authz.RelationOwner, Subject: "User:7"},
	}, engine.Tuples())

	// base role change swaps the catch-all tuple
	changed := eventFor(t, 2, &outbox.OrganizationBaseRoleChanged{
		OrganizationID: 1,
		OldRole:        authz.RelationReader,
		NewRole:        authz.RelationWriter,
	})
	require.NoError(t, consumer.HandleOutboxEvent(ctx, changed))

	assert.ElementsMatch(t, []authz.RelationTuple{
		{Object: "Organization:1", Relation: authz.RelationRepositoryWriter, Subject: "Organization:1#member"},
		{Object: "Organization:1", Relation: authz.RelationOwner, Subject: "User:7"},
	}, engine.Tuples())

	deleted := eventFor(t, 3, &outbox.OrganizationDeleted{
		OrganizationID:     1,
		BaseRepositoryRole: authz.RelationWriter,
		Assignments: []models.RoleAssignment{
			{UserID: 7, Role: authz.RelationOwner},
		},
	})
	require.NoError(t, consumer.HandleOutboxEvent(ctx, deleted))
	assert.Empty(t, engine.Tuples())
}

func TestConsumerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	consumer, engine := newConsumerHarness()

	event := eventFor(t, 1, &outbox.UserAddedToRepository{
		RepositoryID: 3,
		UserID:       7,
		Role:         authz.RelationTriager,
	})

	// redelivery after a crash-before-ack replays the same event
	require.NoError(t, consumer.HandleOutboxEvent(ctx, event))
	require.NoError(t, consumer.HandleOutboxEvent(ctx, event))

	assert.Equal(t, []authz.RelationTuple{
		{Object: "Repository:3", Relation: authz.RelationTriager, Subject: "User:7"},
	}, engine.Tuples())

	removed := eventFor(t, 2, &outbox.UserRemovedFromRepository{
		RepositoryID: 3,
		UserID:       7,
		Role:         authz.RelationTriager,
	})
	require.NoError(t, consumer.HandleOutboxEvent(ctx, removed))
	require.NoError(t, consumer.HandleOutboxEvent(ctx, removed))
	assert.Empty(t, engine.Tuples())
}

func TestConsumerContainment(t *testing.T) {
	ctx := context.Background()
	consumer, engine := newConsumerHarness()

	repo := eventFor(t, 1, &outbox.RepositoryCreated{
		RepositoryID:   3,
		OrganizationID: 1,
		Assignments: []models.RoleAssignment{
			{UserID: 7, Role: authz.RelationAdministrator},
		},
	})
	require.NoError(t, consumer.HandleOutboxEvent(ctx, repo))

	assert.ElementsMatch(t, []authz.RelationTuple{
		{Object: "Repository:3", Relation: authz.RelationOwner, Subject: "Organization:1"},
		{Object: "Repository:3", Relation: authz.RelationAdministrator, Subject: "User:7"},
	}, engine.Tuples())
}

func TestConsumerIssueCreatorAndAssignee(t *testing.T) {
	ctx := context.Background()
	consumer, engine := newConsumerHarness()

	require.NoError(t, consumer.HandleOutboxEvent(ctx, eventFor(t, 1, &outbox.IssueCreated{
		IssueID: 4, RepositoryID: 3, CreatorID: 7,
	})))
	require.NoError(t, consumer.HandleOutboxEvent(ctx, eventFor(t, 2, &outbox.UserAddedToIssue{
		IssueID: 4, UserID: 9, Role: authz.RelationAssignee,
	})))

	assert.ElementsMatch(t, []authz.RelationTuple{
		{Object: "Issue:4", Relation: authz.RelationCreator, Subject: "User:7"},
		{Object: "Issue:4", Relation: authz.RelationAssignee, Subject: "User:9"},
	}, engine.Tuples())

	require.NoError(t, consumer.HandleOutboxEvent(ctx, eventFor(t, 3, &outbox.IssueDeleted{
		IssueID:   4,
		CreatorID: 7,
		Assignments: []models.RoleAssignment{
			{UserID: 9, Role: authz.RelationAssignee},
		},
	})))
	assert.Empty(t, engine.Tuples())
}

func TestConsumerUserDeletedSweepsAllRoles(t *testing.T) {
	ctx := context.Background()
	consumer, engine := newConsumerHarness()

	for i, msg := range []outbox.Message{
		&outbox.UserAddedToOrganization{OrganizationID: 1, UserID: 7, Role: authz.RelationMember},
		&outbox.UserAddedToTeam{TeamID: 2, UserID: 7, Role: authz.RelationMaintainer},
		&outbox.UserAddedToRepository{RepositoryID: 3, UserID: 7, Role: authz.RelationReader},
		&outbox.UserAddedToIssue{IssueID: 4, UserID: 7, Role: authz.RelationAssignee},
		&outbox.UserAddedToRepository{RepositoryID: 3, UserID: 8, Role: authz.RelationReader},
	} {
		require.NoError(t, consumer.HandleOutboxEvent(ctx, eventFor(t, int64(i+1), msg)))
	}

	require.NoError(t, consumer.HandleOutboxEvent(ctx, eventFor(t, 10, &outbox.UserDeleted{
		UserID:            7,
		OrganizationRoles: []models.ObjectRole{{ObjectID: 1, Role: authz.RelationMember}},
		TeamRoles:         []models.ObjectRole{{ObjectID: 2, Role: authz.RelationMaintainer}},
		RepositoryRoles:   []models.ObjectRole{{ObjectID: 3, Role: authz.RelationReader}},
		IssueRoles:        []models.ObjectRole{{ObjectID: 4, Role: authz.RelationAssignee}},
	})))

	// the other user's tuple survives
	assert.Equal(t, []authz.RelationTuple{
		{Object: "Repository:3", Relation: authz.RelationReader, Subject: "User:8"},
	}, engine.Tuples())
}

func TestConsumerSkipsUnknownEventType(t *testing.T) {
	ctx := context.Background()
	consumer, engine := newConsumerHarness()

	err := consumer.HandleOutboxEvent(ctx, &outbox.Event{
		ID:        99,
		EventType: "CommentAdded",
		Payload:   []byte(`{"comment_id":1}`),
	})
	require.NoError(t, err)
	assert.Empty(t, engine.Tuples())
}

func TestConsumerBaseRoleChangeNoOpWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	consumer, engine := newConsumerHarness()

	require.NoError(t, consumer.HandleOutboxEvent(ctx, eventFor(t, 1, &outbox.OrganizationCreated{
		OrganizationID:     1,
		BaseRepositoryRole: authz.RelationReader,
	})))
	before := engine.Tuples()

	require.NoError(t, consumer.HandleOutboxEvent(ctx, eventFor(t, 2, &outbox.OrganizationBaseRoleChanged{
		OrganizationID: 1,
		OldRole:        authz.RelationReader,
		NewRole:        authz.RelationReader,
	})))
	assert.Equal(t, before, engine.Tuples())
}

func TestConsumerRejectsUnknownBaseRole(t *testing.T) {
	ctx := context.Background()
	consumer, _ := newConsumerHarness()

	err := consumer.HandleOutboxEvent(ctx, eventFor(t, 1, &outbox.OrganizationCreated{
		OrganizationID:     1,
		BaseRepositoryRole: authz.RelationMember,
	}))
	assert.Error(t, err)
}
