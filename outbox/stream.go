package outbox

import (
	"fmt"
	"strings"

	"github.com/collabforge/authsync/capturer"
)

// Stream narrows the generic change stream to the outbox contract:
// insert events on the configured outbox table, mapped to typed Events.
// The outbox is insert-only (append then delete); updates and deletes
// against it carry no meaning for propagation and are discarded.
type Stream struct {
	schema string
	table  string
}

func NewStream(schema, table string) *Stream {
	return &Stream{schema: schema, table: table}
}

// FromTransaction extracts the outbox events of one committed
// transaction, preserving emission order. A surviving insert that fails
// to map is a hard error.
func (s *Stream) FromTransaction(tx *capturer.Transaction) ([]*Event, error) {
	var events []*Event
	for _, change := range tx.Events {
		if !strings.EqualFold(change.Schema, s.schema) || !strings.EqualFold(change.Table, s.table) {
			continue
		}
		if change.Type != capturer.Insert {
			continue
		}

		event, err := EventFromColumns(change.New)
		if err != nil {
			return nil, fmt.Errorf("map outbox row in transaction %d: %w", tx.XID, err)
		}
		events = append(events, event)
	}
	return events, nil
}
