package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// Writer appends typed messages to the outbox table inside the caller's
// transaction. The entity mutation and the intent to propagate it
// commit or roll back as one ACID unit; nothing here ever talks to the
// authorization engine directly.
type Writer struct {
	Schema string
	Table  string
	Source string
}

func NewWriter(schema, table, source string) *Writer {
	return &Writer{Schema: schema, Table: table, Source: source}
}

// Append serializes msg and inserts it as an outbox row within tx.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, msg Message, actorID int64, correlationIDs ...uuid.UUID) error {
	if len(correlationIDs) > 4 {
		return fmt.Errorf("at most 4 correlation ids, got %d", len(correlationIDs))
	}

	eventType, payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	corr := make([]*uuid.UUID, 4)
	for i := range correlationIDs {
		corr[i] = &correlationIDs[i]
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.%s
			(event_source, event_type, event_time, payload,
			 correlation_id_1, correlation_id_2, correlation_id_3, correlation_id_4,
			 last_edited_by, sys_period)
		VALUES ($1, $2, now(), $3, $4, $5, $6, $7, $8, tstzrange(now(), NULL))`,
		pq.QuoteIdentifier(w.Schema), pq.QuoteIdentifier(w.Table))

	_, err = tx.Exec(ctx, query,
		w.Source, eventType, []byte(payload),
		corr[0], corr[1], corr[2], corr[3],
		actorID)
	if err != nil {
		return fmt.Errorf("append outbox event %s: %w", eventType, err)
	}
	return nil
}
