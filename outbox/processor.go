package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/collabforge/authsync/capturer"
)

// Processor is the delivery loop: it pulls committed transactions from
// the capturer, narrows them to outbox events, feeds each event to the
// consumer in order, deletes handled rows, and acknowledges the WAL
// position only after the whole transaction was handled. Strictly
// in-order, one at a time: a later event may assume an earlier event's
// tuples already exist.
type Processor struct {
	capturer capturer.Capturer
	stream   *Stream
	consumer *Consumer
	pool     *pgxpool.Pool
	logger   capturer.Logger
}

func NewProcessor(cap capturer.Capturer, stream *Stream, consumer *Consumer, pool *pgxpool.Pool, logger capturer.Logger) *Processor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Processor{
		capturer: cap,
		stream:   stream,
		consumer: consumer,
		pool:     pool,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled or a fatal pipeline error occurs.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.capturer.Start(); err != nil {
		return fmt.Errorf("start capturer: %w", err)
	}
	defer func() {
		if err := p.capturer.Stop(); err != nil {
			p.logger.Errorf("failed to stop capturer: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-p.capturer.Transactions():
			if !ok {
				// the replication loop died; return its error so the
				// process exits and an operator restart kicks in
				if err := p.capturer.Err(); err != nil {
					return fmt.Errorf("capturer terminated: %w", err)
				}
				return fmt.Errorf("capturer transaction channel closed")
			}
			if err := p.handleTransaction(ctx, tx); err != nil {
				return err
			}
		}
	}
}

func (p *Processor) handleTransaction(ctx context.Context, tx *capturer.Transaction) error {
	events, err := p.stream.FromTransaction(tx)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := p.consumer.HandleOutboxEvent(ctx, event); err != nil {
			return err
		}
		if err := p.deleteRow(ctx, event.ID); err != nil {
			return err
		}
	}

	// acknowledged only now: a crash before this point re-delivers the
	// transaction from the slot, which idempotent handlers absorb
	if err := p.capturer.ACK(ctx, tx.Checkpoint()); err != nil {
		return fmt.Errorf("ack transaction %d at %s: %w", tx.XID, tx.Checkpoint(), err)
	}

	if len(events) > 0 {
		p.logger.Infof("processed transaction %d: %d outbox events", tx.XID, len(events))
	}
	return nil
}

func (p *Processor) deleteRow(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s.%s WHERE id = $1",
		pq.QuoteIdentifier(p.stream.schema), pq.QuoteIdentifier(p.stream.table))
	if _, err := p.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete outbox row %d: %w", id, err)
	}
	return nil
}

// Drain synchronously processes every pending outbox row by reading the
// table directly, bypassing the replication stream. Test-harness use
// only; rows are still deleted only after successful handling.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		SELECT id, event_source, event_type, event_time, payload,
		       correlation_id_1, correlation_id_2, correlation_id_3, correlation_id_4,
		       last_edited_by, sys_period::text
		FROM %s.%s ORDER BY id`,
		pq.QuoteIdentifier(p.stream.schema), pq.QuoteIdentifier(p.stream.table))

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query pending outbox rows: %w", err)
	}

	var pending []*Event
	for rows.Next() {
		var event Event
		var corr [4]*uuid.UUID
		if err := rows.Scan(&event.ID, &event.EventSource, &event.EventType, &event.EventTime, &event.Payload,
			&corr[0], &corr[1], &corr[2], &corr[3], &event.LastEditedBy, &event.SysPeriod); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		event.CorrelationID1, event.CorrelationID2, event.CorrelationID3, event.CorrelationID4 = corr[0], corr[1], corr[2], corr[3]
		pending = append(pending, &event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}

	for _, event := range pending {
		if err := p.consumer.HandleOutboxEvent(ctx, event); err != nil {
			return 0, err
		}
		if err := p.deleteRow(ctx, event.ID); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}
