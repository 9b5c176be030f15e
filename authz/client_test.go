package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/models"
)

func TestCheckObject(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()
	client := authz.NewClient(engine)

	require.NoError(t, client.AddRelationship(ctx, tuple("Repository:5", authz.RelationReader, "User:3")))

	ok, err := authz.CheckObject[models.Repository, models.User](ctx, client, 5, authz.RelationReader, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = authz.CheckObject[models.Repository, models.User](ctx, client, 5, authz.RelationWriter, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchCheckObjectsPreservesInputOrder(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()
	client := authz.NewClient(engine)

	require.NoError(t, client.AddRelationships(ctx, []authz.RelationTuple{
		tuple("Repository:2", authz.RelationReader, "User:1"),
		tuple("Repository:4", authz.RelationReader, "User:1"),
	}))

	checks, err := authz.BatchCheckObjects[models.Repository, models.User](
		ctx, client, []int64{4, 1, 2, 3}, authz.RelationReader, 1)
	require.NoError(t, err)

	require.Len(t, checks, 4)
	assert.Equal(t, []authz.ObjectCheck{
		{Allowed: true, ObjectID: 4},
		{Allowed: false, ObjectID: 1},
		{Allowed: true, ObjectID: 2},
		{Allowed: false, ObjectID: 3},
	}, checks)
}

func TestListObjectIDs(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()
	client := authz.NewClient(engine)

	require.NoError(t, client.AddRelationships(ctx, []authz.RelationTuple{
		tuple("Repository:1", authz.RelationReader, "User:1"),
		tuple("Repository:9", authz.RelationReader, "User:1"),
		tuple("Team:2", authz.RelationReader, "User:1"),
	}))

	ids, err := authz.ListObjectIDs[models.Repository, models.User](ctx, client, 1, authz.RelationReader)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 9}, ids)
}

func TestReadTuplesIsRestartable(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()
	client := authz.NewClient(engine)

	var want []authz.RelationTuple
	for i := int64(0); i < 120; i++ {
		want = append(want, tuple("Repository:1", authz.RelationReader, authz.ToZanzibarNotation("User", i, "")))
	}
	require.NoError(t, client.AddRelationships(ctx, want))

	seq := client.ReadTuples(ctx, authz.TupleFilter{Object: "Repository:1"})

	// first enumeration stops early; the second one still starts from
	// the beginning and sees everything
	var partial []authz.RelationTuple
	for tup, err := range seq {
		require.NoError(t, err)
		partial = append(partial, tup)
		if len(partial) == 10 {
			break
		}
	}
	assert.Equal(t, want[:10], partial)

	got, err := authz.CollectTuples(seq)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
