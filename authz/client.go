package authz

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/samber/lo"
)

// Client is the entity-typed facade over an Engine. It owns canonical
// notation formatting so the rest of the codebase never concatenates
// "Type:Id" strings by hand.
type Client struct {
	engine Engine
}

func NewClient(engine Engine) *Client {
	return &Client{engine: engine}
}

func (c *Client) Engine() Engine {
	return c.engine
}

// CheckObject reports whether subject has relation on the object.
func CheckObject[TObject Entity, TSubject Entity](ctx context.Context, c *Client, objectID int64, relation Relation, subjectID int64) (bool, error) {
	return c.engine.Check(ctx, RelationTuple{
		Object:   ToZanzibarNotation(TypeName[TObject](), objectID, ""),
		Relation: relation,
		Subject:  ToZanzibarNotation(TypeName[TSubject](), subjectID, ""),
	})
}

// ObjectCheck pairs a batch-check verdict with the object id it was
// asked about.
type ObjectCheck struct {
	Allowed  bool
	ObjectID int64
}

// BatchCheckObjects checks many objects against one subject and
// relation in a single round trip. The engine may reorder responses, so
// each check carries its input position as the correlation tag and the
// results are zipped back in input order.
func BatchCheckObjects[TObject Entity, TSubject Entity](ctx context.Context, c *Client, objectIDs []int64, relation Relation, subjectID int64) ([]ObjectCheck, error) {
	subject := ToZanzibarNotation(TypeName[TSubject](), subjectID, "")

	items := lo.Map(objectIDs, func(objectID int64, i int) BatchCheckItem {
		return BatchCheckItem{
			CorrelationID: strconv.Itoa(i),
			Tuple: RelationTuple{
				Object:   ToZanzibarNotation(TypeName[TObject](), objectID, ""),
				Relation: relation,
				Subject:  subject,
			},
		}
	})

	results, err := c.engine.BatchCheck(ctx, items)
	if err != nil {
		return nil, err
	}

	checks := make([]ObjectCheck, len(objectIDs))
	for i, objectID := range objectIDs {
		allowed, ok := results[strconv.Itoa(i)]
		if !ok {
			return nil, fmt.Errorf("batch check response missing correlation id %d", i)
		}
		checks[i] = ObjectCheck{Allowed: allowed, ObjectID: objectID}
	}
	return checks, nil
}

// ListObjectIDs asks the engine which objects of TObject's type the
// subject has the relation to.
func ListObjectIDs[TObject Entity, TSubject Entity](ctx context.Context, c *Client, subjectID int64, relation Relation) ([]int64, error) {
	objectType := TypeName[TObject]()
	subject := ToZanzibarNotation(TypeName[TSubject](), subjectID, "")

	objects, err := c.engine.ListObjects(ctx, objectType, relation, subject)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(objects))
	for _, obj := range objects {
		parsedType, id, _, err := FromZanzibarNotation(obj)
		if err != nil {
			return nil, err
		}
		if parsedType != objectType {
			return nil, fmt.Errorf("engine returned object %q, expected type %s", obj, objectType)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListObjects resolves the authorized object ids and hydrates full
// entities through the caller's store lookup. The engine is the
// authority for which ids; the relational store is the authority for
// current field values.
func ListObjects[TObject Entity, TSubject Entity](ctx context.Context, c *Client, subjectID int64, relation Relation, hydrate func(context.Context, []int64) ([]TObject, error)) ([]TObject, error) {
	ids, err := ListObjectIDs[TObject, TSubject](ctx, c, subjectID, relation)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return hydrate(ctx, ids)
}

func (c *Client) AddRelationship(ctx context.Context, tuple RelationTuple) error {
	return c.engine.Write(ctx, []RelationTuple{tuple}, nil)
}

func (c *Client) AddRelationships(ctx context.Context, tuples []RelationTuple) error {
	return c.engine.Write(ctx, tuples, nil)
}

func (c *Client) DeleteRelationship(ctx context.Context, tuple RelationTuple) error {
	return c.engine.Write(ctx, nil, []RelationTuple{tuple})
}

func (c *Client) DeleteRelationships(ctx context.Context, tuples []RelationTuple) error {
	return c.engine.Write(ctx, nil, tuples)
}

// Write applies adds and deletes as one batch at the engine.
func (c *Client) Write(ctx context.Context, writes, deletes []RelationTuple) error {
	return c.engine.Write(ctx, writes, deletes)
}

const readPageSize = 50

// ReadTuples returns a restartable, forward-only, non-buffered sequence
// over all tuples matching the filter. Each enumeration re-issues the
// paginated scan from the start.
func (c *Client) ReadTuples(ctx context.Context, filter TupleFilter) iter.Seq2[RelationTuple, error] {
	return func(yield func(RelationTuple, error) bool) {
		token := ""
		for {
			page, next, err := c.engine.Read(ctx, filter, readPageSize, token)
			if err != nil {
				yield(RelationTuple{}, err)
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			token = next
		}
	}
}

// CollectTuples drains a ReadTuples sequence into a slice.
func CollectTuples(seq iter.Seq2[RelationTuple, error]) ([]RelationTuple, error) {
	var out []RelationTuple
	for t, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
