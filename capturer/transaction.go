package capturer

import (
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
)

// Transaction groups the data changes between a Begin and Commit
// boundary in the replication stream. It is the unit of yield: no
// uncommitted data is ever surfaced.
type Transaction struct {
	XID        uint32
	CommitLSN  pglogrepl.LSN
	EndLSN     pglogrepl.LSN
	CommitTime time.Time
	Events     []*DataChangeEvent
}

// Checkpoint returns the position to acknowledge once every event in
// the transaction has been handled downstream.
func (t *Transaction) Checkpoint() string {
	return t.EndLSN.String()
}

type TransactionTracker struct {
	xid           uint32
	commitLSN     pglogrepl.LSN
	commitTime    time.Time
	pendingEvents []*DataChangeEvent
	mu            sync.Mutex
}

func (t *TransactionTracker) Begin(xid uint32, lsn pglogrepl.LSN, commitTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.xid = xid
	t.commitLSN = lsn
	t.commitTime = commitTime
	t.pendingEvents = t.pendingEvents[:0]
}

func (t *TransactionTracker) AddEvent(event *DataChangeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pendingEvents = append(t.pendingEvents, event)
}

// End closes the current transaction and returns it with its events in
// emission order.
func (t *TransactionTracker) End(commitLSN, endLSN pglogrepl.LSN, commitTime time.Time) *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &Transaction{
		XID:        t.xid,
		CommitLSN:  commitLSN,
		EndLSN:     endLSN,
		CommitTime: commitTime,
		Events:     make([]*DataChangeEvent, len(t.pendingEvents)),
	}
	copy(tx.Events, t.pendingEvents)

	t.pendingEvents = nil
	return tx
}
