package authz

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MemoryEngine is a set-backed Engine with the same idempotence
// semantics as the real engine: duplicate writes and deletes of absent
// tuples are no-ops. Used by tests and the dry-run processor mode.
type MemoryEngine struct {
	mu     sync.RWMutex
	order  []RelationTuple
	tuples map[RelationTuple]struct{}
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		tuples: map[RelationTuple]struct{}{},
	}
}

var _ Engine = (*MemoryEngine)(nil)

func (m *MemoryEngine) Check(ctx context.Context, tuple RelationTuple) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.tuples[tuple]
	return ok, nil
}

func (m *MemoryEngine) BatchCheck(ctx context.Context, items []BatchCheckItem) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]bool, len(items))
	for _, item := range items {
		if _, dup := results[item.CorrelationID]; dup {
			return nil, fmt.Errorf("duplicate correlation id %q in batch check", item.CorrelationID)
		}
		_, ok := m.tuples[item.Tuple]
		results[item.CorrelationID] = ok
	}
	return results, nil
}

func (m *MemoryEngine) ListObjects(ctx context.Context, objectType string, relation Relation, subject string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []string
	seen := map[string]struct{}{}
	for _, t := range m.order {
		if t.Relation != relation || t.Subject != subject {
			continue
		}
		if !strings.HasPrefix(t.Object, objectType+":") {
			continue
		}
		if _, dup := seen[t.Object]; dup {
			continue
		}
		seen[t.Object] = struct{}{}
		objects = append(objects, t.Object)
	}
	return objects, nil
}

func (m *MemoryEngine) Read(ctx context.Context, filter TupleFilter, pageSize int32, continuationToken string) ([]RelationTuple, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	offset := 0
	if continuationToken != "" {
		parsed, err := strconv.Atoi(continuationToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid continuation token %q", continuationToken)
		}
		offset = parsed
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	matched := 0
	var page []RelationTuple
	for _, t := range m.order {
		if !filter.Matches(t) {
			continue
		}
		if matched < offset {
			matched++
			continue
		}
		if len(page) == int(pageSize) {
			return page, strconv.Itoa(matched), nil
		}
		page = append(page, t)
		matched++
	}
	return page, "", nil
}

func (m *MemoryEngine) Write(ctx context.Context, writes, deletes []RelationTuple) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// validated separately; appending deletes to writes would scribble
	// into the caller's backing array when writes has spare capacity
	for _, t := range writes {
		if !t.Relation.Valid() {
			return fmt.Errorf("unknown relation %q in tuple %s", t.Relation, t)
		}
	}
	for _, t := range deletes {
		if !t.Relation.Valid() {
			return fmt.Errorf("unknown relation %q in tuple %s", t.Relation, t)
		}
	}

	for _, t := range deletes {
		if _, exists := m.tuples[t]; !exists {
			continue
		}
		delete(m.tuples, t)
		for i, o := range m.order {
			if o == t {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	for _, t := range writes {
		if _, exists := m.tuples[t]; exists {
			continue
		}
		m.tuples[t] = struct{}{}
		m.order = append(m.order, t)
	}
	return nil
}

// Tuples snapshots every live tuple in write order.
func (m *MemoryEngine) Tuples() []RelationTuple {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RelationTuple, len(m.order))
	copy(out, m.order)
	return out
}
