package capturer

import "time"

type ChangeType string

const (
	// Insert carries new values only.
	Insert ChangeType = "INSERT"

	// DefaultUpdate carries new values only; produced when the source
	// table's replica identity does not capture the old row.
	DefaultUpdate ChangeType = "UPDATE"

	// FullUpdate carries old and new values (replica identity FULL).
	FullUpdate ChangeType = "FULL_UPDATE"

	// KeyDelete carries the primary-key values of the deleted row only.
	KeyDelete ChangeType = "KEY_DELETE"

	// FullDelete carries the full old row (replica identity FULL).
	FullDelete ChangeType = "FULL_DELETE"
)

// Relation describes a source table as seen by the replication stream.
// Row-change messages reference columns positionally by relation id, so
// a Relation must be cached before any row change referencing it can be
// decoded.
type Relation struct {
	ID         uint32
	Namespace  string
	Name       string
	ServerTime time.Time
	Columns    []RelationColumn
}

type RelationColumn struct {
	Name     string
	DataType uint32 // type OID
}

// ColumnNames returns the ordered column names of the relation.
func (r *Relation) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// DataChangeEvent is one decoded row change. Which of the five shapes
// is produced depends on the source table's replica identity; consumers
// must handle all of them, not assume FullUpdate/FullDelete.
type DataChangeEvent struct {
	Type   ChangeType
	Schema string
	Table  string

	// New holds row values after the change (Insert, DefaultUpdate,
	// FullUpdate). SQL NULL is a Go nil value, never a sentinel.
	New map[string]any

	// Old holds row values before the change (FullUpdate, FullDelete).
	Old map[string]any

	// Key holds the primary-key values of the deleted row (KeyDelete).
	Key map[string]any
}
