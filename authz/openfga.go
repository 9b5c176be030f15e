package authz

import (
	"context"
	"fmt"
	"strings"

	openfga "github.com/openfga/go-sdk"
	"github.com/openfga/go-sdk/client"
)

type FGAConfig struct {
	APIURL  string
	StoreID string
	ModelID string
}

// FGAEngine implements Engine on an OpenFGA server through the
// off-the-shelf SDK client.
type FGAEngine struct {
	fga *client.OpenFgaClient
}

func NewFGAEngine(cfg FGAConfig) (*FGAEngine, error) {
	fga, err := client.NewSdkClient(&client.ClientConfiguration{
		ApiUrl:               cfg.APIURL,
		StoreId:              cfg.StoreID,
		AuthorizationModelId: cfg.ModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}
	return &FGAEngine{fga: fga}, nil
}

var _ Engine = (*FGAEngine)(nil)

func (e *FGAEngine) Check(ctx context.Context, tuple RelationTuple) (bool, error) {
	resp, err := e.fga.Check(ctx).Body(client.ClientCheckRequest{
		User:     tuple.Subject,
		Relation: string(tuple.Relation),
		Object:   tuple.Object,
	}).Execute()
	if err != nil {
		return false, fmt.Errorf("fga check %s: %w", tuple, err)
	}
	return resp.GetAllowed(), nil
}

func (e *FGAEngine) BatchCheck(ctx context.Context, items []BatchCheckItem) (map[string]bool, error) {
	checks := make([]client.ClientBatchCheckItem, 0, len(items))
	for _, item := range items {
		checks = append(checks, client.ClientBatchCheckItem{
			User:          item.Tuple.Subject,
			Relation:      string(item.Tuple.Relation),
			Object:        item.Tuple.Object,
			CorrelationId: item.CorrelationID,
		})
	}

	resp, err := e.fga.BatchCheck(ctx).Body(client.ClientBatchCheckRequest{Checks: checks}).Execute()
	if err != nil {
		return nil, fmt.Errorf("fga batch check: %w", err)
	}

	results := make(map[string]bool, len(items))
	for correlationID, result := range resp.GetResult() {
		results[correlationID] = result.GetAllowed()
	}
	return results, nil
}

func (e *FGAEngine) ListObjects(ctx context.Context, objectType string, relation Relation, subject string) ([]string, error) {
	resp, err := e.fga.ListObjects(ctx).Body(client.ClientListObjectsRequest{
		User:     subject,
		Relation: string(relation),
		Type:     objectType,
	}).Execute()
	if err != nil {
		return nil, fmt.Errorf("fga list objects %s#%s@%s: %w", objectType, relation, subject, err)
	}
	return resp.GetObjects(), nil
}

func (e *FGAEngine) Read(ctx context.Context, filter TupleFilter, pageSize int32, continuationToken string) ([]RelationTuple, string, error) {
	body := client.ClientReadRequest{}
	if filter.Object != "" {
		body.Object = openfga.PtrString(filter.Object)
	}
	if filter.Relation != "" {
		body.Relation = openfga.PtrString(string(filter.Relation))
	}
	if filter.Subject != "" {
		body.User = openfga.PtrString(filter.Subject)
	}

	options := client.ClientReadOptions{}
	if pageSize > 0 {
		options.PageSize = openfga.PtrInt32(pageSize)
	}
	if continuationToken != "" {
		options.ContinuationToken = openfga.PtrString(continuationToken)
	}

	resp, err := e.fga.Read(ctx).Body(body).Options(options).Execute()
	if err != nil {
		return nil, "", fmt.Errorf("fga read: %w", err)
	}

	tuples := make([]RelationTuple, 0, len(resp.GetTuples()))
	for _, t := range resp.GetTuples() {
		key := t.GetKey()
		tuples = append(tuples, RelationTuple{
			Object:   key.GetObject(),
			Relation: Relation(key.GetRelation()),
			Subject:  key.GetUser(),
		})
	}
	return tuples, resp.GetContinuationToken(), nil
}

func (e *FGAEngine) Write(ctx context.Context, writes, deletes []RelationTuple) error {
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}

	err := e.write(ctx, writes, deletes)
	if err == nil {
		return nil
	}
	if !isIdempotentConflict(err) {
		return err
	}

	// The server rejects duplicate writes and deletes of absent tuples
	// as input validation errors. Filter both sets down to the tuples
	// that would actually change state and retry once, which restores
	// the idempotence the pipeline depends on.
	writes, deletes, ferr := e.filterEffective(ctx, writes, deletes)
	if ferr != nil {
		return ferr
	}
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}
	return e.write(ctx, writes, deletes)
}

func (e *FGAEngine) write(ctx context.Context, writes, deletes []RelationTuple) error {
	body := client.ClientWriteRequest{}
	for _, t := range writes {
		body.Writes = append(body.Writes, client.ClientTupleKey{
			User:     t.Subject,
			Relation: string(t.Relation),
			Object:   t.Object,
		})
	}
	for _, t := range deletes {
		body.Deletes = append(body.Deletes, client.ClientTupleKeyWithoutCondition{
			User:     t.Subject,
			Relation: string(t.Relation),
			Object:   t.Object,
		})
	}

	if _, err := e.fga.Write(ctx).Body(body).Execute(); err != nil {
		return fmt.Errorf("fga write (%d writes, %d deletes): %w", len(writes), len(deletes), err)
	}
	return nil
}

func (e *FGAEngine) filterEffective(ctx context.Context, writes, deletes []RelationTuple) ([]RelationTuple, []RelationTuple, error) {
	var effectiveWrites, effectiveDeletes []RelationTuple

	for _, t := range writes {
		exists, err := e.tupleExists(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			effectiveWrites = append(effectiveWrites, t)
		}
	}
	for _, t := range deletes {
		exists, err := e.tupleExists(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			effectiveDeletes = append(effectiveDeletes, t)
		}
	}
	return effectiveWrites, effectiveDeletes, nil
}

// tupleExists probes for the direct tuple via Read. Check would also
// match model-computed relationships, which is not what dedup needs.
func (e *FGAEngine) tupleExists(ctx context.Context, t RelationTuple) (bool, error) {
	page, _, err := e.Read(ctx, TupleFilter{Object: t.Object, Relation: t.Relation, Subject: t.Subject}, 1, "")
	if err != nil {
		return false, err
	}
	return len(page) > 0, nil
}

func isIdempotentConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "write_failed_due_to_invalid_input")
}
