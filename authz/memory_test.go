package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/authsync/authz"
)

func tuple(object string, relation authz.Relation, subject string) authz.RelationTuple {
	return authz.RelationTuple{Object: object, Relation: relation, Subject: subject}
}

func TestMemoryEngineWriteIdempotence(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()

	reader := tuple("Repository:1", authz.RelationReader, "User:1")

	require.NoError(t, engine.Write(ctx, []authz.RelationTuple{reader}, nil))
	require.NoError(t, engine.Write(ctx, []authz.RelationTuple{reader}, nil))
	assert.Len(t, engine.Tuples(), 1)

	// deleting an absent tuple is a no-op, same as the real engine after
	// conflict recovery
	require.NoError(t, engine.Write(ctx, nil, []authz.RelationTuple{reader}))
	require.NoError(t, engine.Write(ctx, nil, []authz.RelationTuple{reader}))
	assert.Empty(t, engine.Tuples())

	// re-adding after delete yields exactly one live tuple
	require.NoError(t, engine.Write(ctx, []authz.RelationTuple{reader}, nil))
	assert.Len(t, engine.Tuples(), 1)
}

func TestMemoryEngineWriteLeavesCallerSlicesAlone(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()

	// writes shares a backing array with a sibling slice and has spare
	// capacity; Write must not place deletes elements into that array
	backing := make([]authz.RelationTuple, 2, 4)
	backing[0] = tuple("Repository:1", authz.RelationReader, "User:1")
	backing[1] = tuple("Repository:2", authz.RelationReader, "User:2")
	writes := backing[:1]
	deletes := []authz.RelationTuple{tuple("Repository:3", authz.RelationReader, "User:3")}

	require.NoError(t, engine.Write(ctx, writes, deletes))
	assert.Equal(t, tuple("Repository:2", authz.RelationReader, "User:2"), backing[1])
}

func TestMemoryEngineRejectsUnknownRelation(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()

	err := engine.Write(ctx, []authz.RelationTuple{tuple("Repository:1", "superuser", "User:1")}, nil)
	assert.Error(t, err)
	assert.Empty(t, engine.Tuples())
}

func TestMemoryEngineCheck(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()

	reader := tuple("Repository:1", authz.RelationReader, "User:1")
	require.NoError(t, engine.Write(ctx, []authz.RelationTuple{reader}, nil))

	ok, err := engine.Check(ctx, reader)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.Check(ctx, tuple("Repository:1", authz.RelationWriter, "User:1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryEngineListObjects(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()

	require.NoError(t, engine.Write(ctx, []authz.RelationTuple{
		tuple("Repository:1", authz.RelationReader, "User:1"),
		tuple("Repository:2", authz.RelationReader, "User:1"),
		tuple("Repository:3", authz.RelationReader, "User:2"),
		tuple("Issue:4", authz.RelationReader, "User:1"),
	}, nil))

	objects, err := engine.ListObjects(ctx, "Repository", authz.RelationReader, "User:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Repository:1", "Repository:2"}, objects)
}

func TestMemoryEngineReadPagination(t *testing.T) {
	ctx := context.Background()
	engine := authz.NewMemoryEngine()

	var all []authz.RelationTuple
	for i := 0; i < 7; i++ {
		all = append(all, tuple("Repository:1", authz.RelationReader, authz.ToZanzibarNotation("User", int64(i), "")))
	}
	require.NoError(t, engine.Write(ctx, all, nil))

	var got []authz.RelationTuple
	token := ""
	pages := 0
	for {
		page, next, err := engine.Read(ctx, authz.TupleFilter{Object: "Repository:1"}, 3, token)
		require.NoError(t, err)
		got = append(got, page...)
		pages++
		if next == "" {
			break
		}
		token = next
	}

	assert.Equal(t, all, got)
	assert.Equal(t, 3, pages)
}
