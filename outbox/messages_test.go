package outbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/models"
	"github.com/collabforge/authsync/outbox"
)

func TestMessageCodecRoundTrip(t *testing.T) {
	original := &outbox.OrganizationCreated{
		OrganizationID:     42,
		BaseRepositoryRole: authz.RelationReader,
		Assignments: []models.RoleAssignment{
			{UserID: 7, Role: authz.RelationOwner},
		},
	}

	eventType, payload, err := outbox.EncodeMessage(original)
	require.NoError(t, err)
	assert.Equal(t, outbox.TypeOrganizationCreated, eventType)

	decoded, err := outbox.DecodeMessage(eventType, payload)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeMessageAllTypes(t *testing.T) {
	messages := []outbox.Message{
		&outbox.OrganizationCreated{OrganizationID: 1, BaseRepositoryRole: authz.RelationReader},
		&outbox.OrganizationBaseRoleChanged{OrganizationID: 1, OldRole: authz.RelationReader, NewRole: authz.RelationWriter},
		&outbox.OrganizationDeleted{OrganizationID: 1, BaseRepositoryRole: authz.RelationReader},
		&outbox.TeamCreated{TeamID: 2, OrganizationID: 1},
		&outbox.TeamDeleted{TeamID: 2, OrganizationID: 1},
		&outbox.RepositoryCreated{RepositoryID: 3, OrganizationID: 1},
		&outbox.RepositoryDeleted{RepositoryID: 3, OrganizationID: 1},
		&outbox.IssueCreated{IssueID: 4, RepositoryID: 3, CreatorID: 7},
		&outbox.IssueDeleted{IssueID: 4, CreatorID: 7},
		&outbox.UserAddedToOrganization{OrganizationID: 1, UserID: 7, Role: authz.RelationMember},
		&outbox.UserRemovedFromOrganization{OrganizationID: 1, UserID: 7, Role: authz.RelationMember},
		&outbox.UserAddedToTeam{TeamID: 2, UserID: 7, Role: authz.RelationMember},
		&outbox.UserRemovedFromTeam{TeamID: 2, UserID: 7, Role: authz.RelationMember},
		&outbox.UserAddedToRepository{RepositoryID: 3, UserID: 7, Role: authz.RelationTriager},
		&outbox.UserRemovedFromRepository{RepositoryID: 3, UserID: 7, Role: authz.RelationTriager},
		&outbox.UserAddedToIssue{IssueID: 4, UserID: 7, Role: authz.RelationAssignee},
		&outbox.UserRemovedFromIssue{IssueID: 4, UserID: 7, Role: authz.RelationAssignee},
		&outbox.UserDeleted{UserID: 7, RepositoryRoles: []models.ObjectRole{{ObjectID: 3, Role: authz.RelationReader}}},
	}

	seen := map[string]bool{}
	for _, msg := range messages {
		eventType, payload, err := outbox.EncodeMessage(msg)
		require.NoError(t, err)
		assert.False(t, seen[eventType], "duplicate event type %q", eventType)
		seen[eventType] = true

		decoded, err := outbox.DecodeMessage(eventType, payload)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded, eventType)
	}
}

func TestDecodeMessageUnknownType(t *testing.T) {
	_, err := outbox.DecodeMessage("CommentAdded", []byte(`{"comment_id":1}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, outbox.ErrUnknownEventType)
}

func TestDecodeMessageMalformedPayload(t *testing.T) {
	_, err := outbox.DecodeMessage(outbox.TypeIssueCreated, []byte(`{"issue_id":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, outbox.ErrUnknownEventType)
}
