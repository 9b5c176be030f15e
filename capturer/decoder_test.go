package capturer_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/authsync/capturer"
)

// postgres timestamps in the stream count microseconds from 2000-01-01
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	oidInt8 = 20
	oidText = 25
)

type testColumn struct {
	name string
	oid  uint32
}

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writePgTime(buf *bytes.Buffer, t time.Time) {
	writeUint64(buf, uint64(t.Sub(pgEpoch).Microseconds()))
}

func relationMessage(relID uint32, namespace, name string, columns []testColumn) []byte {
	var buf bytes.Buffer
	buf.WriteByte('R')
	writeUint32(&buf, relID)
	writeCString(&buf, namespace)
	writeCString(&buf, name)
	buf.WriteByte('d') // replica identity default
	writeUint16(&buf, uint16(len(columns)))
	for _, col := range columns {
		buf.WriteByte(0)
		writeCString(&buf, col.name)
		writeUint32(&buf, col.oid)
		writeUint32(&buf, 0xFFFFFFFF) // typmod -1
	}
	return buf.Bytes()
}

func beginMessage(xid uint32, finalLSN pglogrepl.LSN, commitTime time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteByte('B')
	writeUint64(&buf, uint64(finalLSN))
	writePgTime(&buf, commitTime)
	writeUint32(&buf, xid)
	return buf.Bytes()
}

func commitMessage(commitLSN, endLSN pglogrepl.LSN, commitTime time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteByte('C')
	buf.WriteByte(0)
	writeUint64(&buf, uint64(commitLSN))
	writeUint64(&buf, uint64(endLSN))
	writePgTime(&buf, commitTime)
	return buf.Bytes()
}

// columns: nil means SQL NULL, the sentinel toastMarker means an
// unchanged TOAST value, anything else is text-format data
const toastMarker = "\x00toast\x00"

func writeTupleData(buf *bytes.Buffer, values []any) {
	writeUint16(buf, uint16(len(values)))
	for _, v := range values {
		switch {
		case v == nil:
			buf.WriteByte('n')
		case v == toastMarker:
			buf.WriteByte('u')
		default:
			s := v.(string)
			buf.WriteByte('t')
			writeUint32(buf, uint32(len(s)))
			buf.WriteString(s)
		}
	}
}

func insertMessage(relID uint32, values []any) []byte {
	var buf bytes.Buffer
	buf.WriteByte('I')
	writeUint32(&buf, relID)
	buf.WriteByte('N')
	writeTupleData(&buf, values)
	return buf.Bytes()
}

func updateMessage(relID uint32, oldTupleType byte, oldValues, newValues []any) []byte {
	var buf bytes.Buffer
	buf.WriteByte('U')
	writeUint32(&buf, relID)
	if oldTupleType != 0 {
		buf.WriteByte(oldTupleType)
		writeTupleData(&buf, oldValues)
	}
	buf.WriteByte('N')
	writeTupleData(&buf, newValues)
	return buf.Bytes()
}

func deleteMessage(relID uint32, oldTupleType byte, values []any) []byte {
	var buf bytes.Buffer
	buf.WriteByte('D')
	writeUint32(&buf, relID)
	buf.WriteByte(oldTupleType)
	writeTupleData(&buf, values)
	return buf.Bytes()
}

type decoderHarness struct {
	decoder *capturer.Decoder
	out     chan *capturer.Transaction
}

func newDecoderHarness() *decoderHarness {
	out := make(chan *capturer.Transaction, 4)
	return &decoderHarness{
		decoder: capturer.NewDecoder(out, nil),
		out:     out,
	}
}

func (h *decoderHarness) process(t *testing.T, walData []byte) {
	t.Helper()
	require.NoError(t, h.decoder.Process(context.Background(), pglogrepl.XLogData{
		WALData:    walData,
		ServerTime: time.Now(),
	}))
}

func (h *decoderHarness) transaction(t *testing.T) *capturer.Transaction {
	t.Helper()
	select {
	case tx := <-h.out:
		return tx
	default:
		t.Fatal("no transaction yielded")
		return nil
	}
}

var testColumns = []testColumn{
	{name: "a", oid: oidInt8},
	{name: "b", oid: oidText},
	{name: "c", oid: oidText},
}

func TestDecoderInsertWithNull(t *testing.T) {
	h := newDecoderHarness()
	commitTime := pgEpoch.Add(800_000 * time.Hour)

	h.process(t, relationMessage(1, "app", "outbox", testColumns))
	h.process(t, beginMessage(42, 200, commitTime))
	h.process(t, insertMessage(1, []any{"1", nil, "x"}))
	h.process(t, commitMessage(200, 201, commitTime))

	tx := h.transaction(t)
	assert.Equal(t, uint32(42), tx.XID)
	assert.Equal(t, pglogrepl.LSN(200), tx.CommitLSN)
	assert.Equal(t, pglogrepl.LSN(201), tx.EndLSN)
	assert.Equal(t, pglogrepl.LSN(201).String(), tx.Checkpoint())
	assert.True(t, commitTime.Equal(tx.CommitTime))

	require.Len(t, tx.Events, 1)
	evt := tx.Events[0]
	assert.Equal(t, capturer.Insert, evt.Type)
	assert.Equal(t, "app", evt.Schema)
	assert.Equal(t, "outbox", evt.Table)
	assert.Equal(t, map[string]any{"a": int64(1), "b": nil, "c": "x"}, evt.New)
	assert.Nil(t, evt.Old)
	assert.Nil(t, evt.Key)
}

func TestDecoderUpdateVariants(t *testing.T) {
	h := newDecoderHarness()
	commitTime := pgEpoch.Add(800_000 * time.Hour)

	h.process(t, relationMessage(1, "app", "repositories", testColumns))
	h.process(t, beginMessage(43, 300, commitTime))
	// default replica identity: no old tuple
	h.process(t, updateMessage(1, 0, nil, []any{"1", "b1", "c1"}))
	// replica identity full: old tuple type 'O'
	h.process(t, updateMessage(1, 'O', []any{"1", "b0", "c0"}, []any{"1", "b1", "c1"}))
	// key-only old tuple stays a default update
	h.process(t, updateMessage(1, 'K', []any{"1", nil, nil}, []any{"1", "b1", "c1"}))
	h.process(t, commitMessage(300, 301, commitTime))

	tx := h.transaction(t)
	require.Len(t, tx.Events, 3)

	assert.Equal(t, capturer.DefaultUpdate, tx.Events[0].Type)
	assert.Nil(t, tx.Events[0].Old)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "b1", "c": "c1"}, tx.Events[0].New)

	assert.Equal(t, capturer.FullUpdate, tx.Events[1].Type)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "b0", "c": "c0"}, tx.Events[1].Old)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "b1", "c": "c1"}, tx.Events[1].New)

	assert.Equal(t, capturer.DefaultUpdate, tx.Events[2].Type)
	assert.Nil(t, tx.Events[2].Old)
}

func TestDecoderDeleteVariants(t *testing.T) {
	h := newDecoderHarness()
	commitTime := pgEpoch.Add(800_000 * time.Hour)

	h.process(t, relationMessage(1, "app", "repositories", testColumns))
	h.process(t, beginMessage(44, 400, commitTime))
	h.process(t, deleteMessage(1, 'K', []any{"1", nil, nil}))
	h.process(t, deleteMessage(1, 'O', []any{"1", "b0", "c0"}))
	h.process(t, commitMessage(400, 401, commitTime))

	tx := h.transaction(t)
	require.Len(t, tx.Events, 2)

	assert.Equal(t, capturer.KeyDelete, tx.Events[0].Type)
	assert.Equal(t, map[string]any{"a": int64(1), "b": nil, "c": nil}, tx.Events[0].Key)
	assert.Nil(t, tx.Events[0].Old)

	assert.Equal(t, capturer.FullDelete, tx.Events[1].Type)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "b0", "c": "c0"}, tx.Events[1].Old)
	assert.Nil(t, tx.Events[1].Key)
}

func TestDecoderOmitsUnchangedToastColumns(t *testing.T) {
	h := newDecoderHarness()
	commitTime := pgEpoch.Add(800_000 * time.Hour)

	h.process(t, relationMessage(1, "app", "repositories", testColumns))
	h.process(t, beginMessage(45, 500, commitTime))
	h.process(t, updateMessage(1, 0, nil, []any{"1", toastMarker, "c1"}))
	h.process(t, commitMessage(500, 501, commitTime))

	tx := h.transaction(t)
	require.Len(t, tx.Events, 1)
	assert.Equal(t, map[string]any{"a": int64(1), "c": "c1"}, tx.Events[0].New)
}

func TestDecoderUnknownRelationIsFatal(t *testing.T) {
	h := newDecoderHarness()
	commitTime := pgEpoch.Add(800_000 * time.Hour)

	h.process(t, beginMessage(46, 600, commitTime))
	err := h.decoder.Process(context.Background(), pglogrepl.XLogData{
		WALData: insertMessage(9, []any{"1", "b", "c"}),
	})
	assert.Error(t, err)
}

func TestDecoderGroupsEventsPerTransaction(t *testing.T) {
	h := newDecoderHarness()
	commitTime := pgEpoch.Add(800_000 * time.Hour)

	h.process(t, relationMessage(1, "app", "outbox", testColumns))

	h.process(t, beginMessage(47, 700, commitTime))
	h.process(t, insertMessage(1, []any{"1", "b", "c"}))
	h.process(t, insertMessage(1, []any{"2", "b", "c"}))
	h.process(t, commitMessage(700, 701, commitTime))

	h.process(t, beginMessage(48, 800, commitTime))
	h.process(t, insertMessage(1, []any{"3", "b", "c"}))
	h.process(t, commitMessage(800, 801, commitTime))

	first := h.transaction(t)
	second := h.transaction(t)

	assert.Equal(t, uint32(47), first.XID)
	require.Len(t, first.Events, 2)
	assert.Equal(t, int64(1), first.Events[0].New["a"])
	assert.Equal(t, int64(2), first.Events[1].New["a"])

	assert.Equal(t, uint32(48), second.XID)
	require.Len(t, second.Events, 1)
	assert.Equal(t, int64(3), second.Events[0].New["a"])
}

func TestDecoderEmptyTransaction(t *testing.T) {
	h := newDecoderHarness()
	commitTime := pgEpoch.Add(800_000 * time.Hour)

	h.process(t, beginMessage(49, 900, commitTime))
	h.process(t, commitMessage(900, 901, commitTime))

	tx := h.transaction(t)
	assert.Empty(t, tx.Events)
}
