package authz

import "context"

// BatchCheckItem is one check in a batch, tagged with a caller-chosen
// correlation id. The engine may reorder responses; the correlation id
// is how they are zipped back to inputs.
type BatchCheckItem struct {
	CorrelationID string
	Tuple         RelationTuple
}

// Engine is the narrow surface of the external authorization engine.
//
// Write semantics the pipeline depends on: writing a tuple that already
// exists and deleting a tuple that does not exist are both no-ops, not
// errors. That engine-level idempotence is what makes at-least-once
// event delivery safe without client-side existence checks.
type Engine interface {
	Check(ctx context.Context, tuple RelationTuple) (bool, error)

	BatchCheck(ctx context.Context, items []BatchCheckItem) (map[string]bool, error)

	// ListObjects returns canonical object notations of objectType the
	// subject has the given relation to.
	ListObjects(ctx context.Context, objectType string, relation Relation, subject string) ([]string, error)

	// Read returns one page of tuples matching the filter plus the
	// continuation token for the next page ("" when exhausted).
	Read(ctx context.Context, filter TupleFilter, pageSize int32, continuationToken string) ([]RelationTuple, string, error)

	// Write applies deletes and writes as one batch, so revoking an old
	// role and granting a new one are never observably separated.
	Write(ctx context.Context, writes, deletes []RelationTuple) error
}
