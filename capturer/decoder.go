package capturer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
)

// Decoder turns raw pgoutput messages into DataChangeEvents grouped by
// transaction. The relation cache is owned by exactly one decoder per
// replication session; two sessions never share it.
type Decoder struct {
	relations map[uint32]*Relation
	typeMap   *pgtype.Map
	tracker   *TransactionTracker
	out       chan<- *Transaction
	logger    Logger
}

func NewDecoder(out chan<- *Transaction, logger Logger) *Decoder {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &Decoder{
		relations: map[uint32]*Relation{},
		typeMap:   pgtype.NewMap(),
		tracker:   &TransactionTracker{},
		out:       out,
		logger:    logger,
	}
}

// Process decodes one XLogData payload. Decode failures are fatal: a
// partially decoded row is worse than a hard stop, and the replication
// slot preserves position for a clean restart.
func (d *Decoder) Process(ctx context.Context, xld pglogrepl.XLogData) error {
	logicalMsg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		return fmt.Errorf("parse logical replication message: %w", err)
	}

	d.logger.Debugf("process logical replication message: %s", logicalMsg.Type().String())
	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		d.handleRelation(msg, xld.ServerTime)
		return nil
	case *pglogrepl.BeginMessage:
		d.tracker.Begin(msg.Xid, msg.FinalLSN, msg.CommitTime)
		return nil
	case *pglogrepl.CommitMessage:
		return d.handleCommit(ctx, msg)
	case *pglogrepl.InsertMessage:
		return d.handleInsert(msg)
	case *pglogrepl.UpdateMessage:
		return d.handleUpdate(msg)
	case *pglogrepl.DeleteMessage:
		return d.handleDelete(msg)
	case *pglogrepl.TruncateMessage, *pglogrepl.TypeMessage, *pglogrepl.OriginMessage, *pglogrepl.LogicalDecodingMessage:
		// recognized but carry nothing the pipeline consumes
		return nil
	default:
		return fmt.Errorf("unknown message type in pgoutput stream: %T", logicalMsg)
	}
}

func (d *Decoder) handleRelation(msg *pglogrepl.RelationMessage, serverTime time.Time) {
	rel := &Relation{
		ID:         msg.RelationID,
		Namespace:  msg.Namespace,
		Name:       msg.RelationName,
		ServerTime: serverTime,
		Columns:    make([]RelationColumn, len(msg.Columns)),
	}
	for i, col := range msg.Columns {
		rel.Columns[i] = RelationColumn{Name: col.Name, DataType: col.DataType}
	}

	d.logger.Debugf("relation message: %s.%s (%d), %d columns", rel.Namespace, rel.Name, rel.ID, len(rel.Columns))
	d.relations[msg.RelationID] = rel
}

func (d *Decoder) handleCommit(ctx context.Context, msg *pglogrepl.CommitMessage) error {
	tx := d.tracker.End(msg.CommitLSN, msg.TransactionEndLSN, msg.CommitTime)

	d.logger.Debugf("commit transaction: %s, %d events", msg.CommitLSN, len(tx.Events))
	select {
	case d.out <- tx:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Decoder) handleInsert(msg *pglogrepl.InsertMessage) error {
	rel, ok := d.relations[msg.RelationID]
	if !ok {
		return fmt.Errorf("unknown relation id: %d", msg.RelationID)
	}

	values, err := d.decodeTuple(rel, msg.Tuple)
	if err != nil {
		return fmt.Errorf("decode insert on %s.%s: %w", rel.Namespace, rel.Name, err)
	}

	d.tracker.AddEvent(&DataChangeEvent{
		Type:   Insert,
		Schema: rel.Namespace,
		Table:  rel.Name,
		New:    values,
	})
	return nil
}

func (d *Decoder) handleUpdate(msg *pglogrepl.UpdateMessage) error {
	rel, ok := d.relations[msg.RelationID]
	if !ok {
		return fmt.Errorf("unknown relation id: %d", msg.RelationID)
	}

	evt := &DataChangeEvent{
		Type:   DefaultUpdate,
		Schema: rel.Namespace,
		Table:  rel.Name,
	}

	// A full old row is only present with replica identity FULL; a
	// key-only old tuple does not promote the event to FullUpdate.
	if msg.OldTuple != nil && msg.OldTupleType == pglogrepl.UpdateMessageTupleTypeOld {
		old, err := d.decodeTuple(rel, msg.OldTuple)
		if err != nil {
			return fmt.Errorf("decode update old row on %s.%s: %w", rel.Namespace, rel.Name, err)
		}
		evt.Type = FullUpdate
		evt.Old = old
	}

	values, err := d.decodeTuple(rel, msg.NewTuple)
	if err != nil {
		return fmt.Errorf("decode update new row on %s.%s: %w", rel.Namespace, rel.Name, err)
	}
	evt.New = values

	d.tracker.AddEvent(evt)
	return nil
}

func (d *Decoder) handleDelete(msg *pglogrepl.DeleteMessage) error {
	rel, ok := d.relations[msg.RelationID]
	if !ok {
		return fmt.Errorf("unknown relation id: %d", msg.RelationID)
	}

	values, err := d.decodeTuple(rel, msg.OldTuple)
	if err != nil {
		return fmt.Errorf("decode delete on %s.%s: %w", rel.Namespace, rel.Name, err)
	}

	evt := &DataChangeEvent{
		Type:   FullDelete,
		Schema: rel.Namespace,
		Table:  rel.Name,
		Old:    values,
	}
	if msg.OldTupleType == pglogrepl.DeleteMessageTupleTypeKey {
		evt.Type = KeyDelete
		evt.Old = nil
		evt.Key = values
	}

	d.tracker.AddEvent(evt)
	return nil
}

// decodeTuple walks the tuple's columns in lock-step with the cached
// relation's ordered column list: position i of the tuple is column i
// of the relation. Null markers decode to nil, unchanged TOAST columns
// are omitted.
func (d *Decoder) decodeTuple(rel *Relation, tuple *pglogrepl.TupleData) (map[string]any, error) {
	if tuple == nil {
		return nil, fmt.Errorf("tuple data missing for %s.%s", rel.Namespace, rel.Name)
	}
	if len(tuple.Columns) > len(rel.Columns) {
		return nil, fmt.Errorf("tuple has %d columns, relation %s.%s has %d", len(tuple.Columns), rel.Namespace, rel.Name, len(rel.Columns))
	}

	values := make(map[string]any, len(tuple.Columns))
	for idx, col := range tuple.Columns {
		colName := rel.Columns[idx].Name
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[colName] = nil
		case pglogrepl.TupleDataTypeToast:
			// unchanged TOAST value, not carried in the stream
		case pglogrepl.TupleDataTypeText:
			val, err := decodeTextColumnData(d.typeMap, col.Data, rel.Columns[idx].DataType)
			if err != nil {
				return nil, fmt.Errorf("decode column %q: %w", colName, err)
			}
			values[colName] = val
		default:
			return nil, fmt.Errorf("unknown tuple data type %q for column %q", col.DataType, colName)
		}
	}
	return values, nil
}

func decodeTextColumnData(mi *pgtype.Map, data []byte, dataType uint32) (any, error) {
	if dt, ok := mi.TypeForOID(dataType); ok {
		return dt.Codec.DecodeValue(mi, dataType, pgtype.TextFormatCode, data)
	}
	return string(data), nil
}
