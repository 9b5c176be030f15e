package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/models"
)

func TestToZanzibarNotation(t *testing.T) {
	assert.Equal(t, "Repository:42", authz.ToZanzibarNotation("Repository", 42, ""))
	assert.Equal(t, "Organization:7#member", authz.ToZanzibarNotation("Organization", 7, authz.RelationMember))
}

func TestNotationRoundTrip(t *testing.T) {
	cases := []struct {
		entityType string
		id         int64
		relation   authz.Relation
	}{
		{"User", 1, ""},
		{"Repository", 42, authz.RelationReader},
		{"Organization", 9007199254740993, authz.RelationMember},
		{"Team", 0, authz.RelationMaintainer},
	}

	for _, tc := range cases {
		s := authz.ToZanzibarNotation(tc.entityType, tc.id, tc.relation)
		entityType, id, relation, err := authz.FromZanzibarNotation(s)
		require.NoError(t, err, s)
		assert.Equal(t, tc.entityType, entityType)
		assert.Equal(t, tc.id, id)
		assert.Equal(t, tc.relation, relation)
	}
}

func TestFromZanzibarNotationRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"Repository",
		"Repository:",
		":42",
		"Repository:abc",
		"Repository:-1",
		"Repository:42#",
		"Repository:42:43",
	} {
		_, _, _, err := authz.FromZanzibarNotation(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "Repository", authz.TypeName[models.Repository]())
	assert.Equal(t, "User", authz.TypeName[models.User]())
}

func TestRelationValid(t *testing.T) {
	assert.True(t, authz.RelationReader.Valid())
	assert.True(t, authz.RelationRepositoryAdmin.Valid())
	assert.False(t, authz.Relation("superuser").Valid())
	assert.False(t, authz.Relation("").Valid())
}
