package capturer

import (
	"context"
)

// Capturer consumes a logical replication stream and yields committed
// transactions in commit order. A single capturer owns one replication
// slot; the slot's WAL position is inherently single-consumer.
type Capturer interface {
	Start() error

	Stop() error

	// Transactions yields committed transactions only. Events inside a
	// transaction keep their emission order.
	Transactions() <-chan *Transaction

	// Checkpoint reports the slot's confirmed flush position.
	Checkpoint(ctx context.Context) (string, error)

	// ACK marks everything up to position as durably applied downstream.
	// The next standby status update reports it as flushed, letting the
	// server trim retained WAL.
	ACK(ctx context.Context, position string) error

	// Err reports the error that terminated the replication loop. It is
	// non-nil only after the Transactions channel was closed by a fatal
	// protocol, decode, or connection failure (nil after a plain Stop).
	Err() error
}

type DatabaseConfig struct {
	Hosts    []string `json:"hosts" yaml:"hosts" toml:"hosts"`
	Port     uint16   `json:"port" yaml:"port" toml:"port"`
	Username string   `json:"username" yaml:"username" toml:"username"`
	Password string   `json:"password" yaml:"password" toml:"password"`
	Database string   `json:"database" yaml:"database" toml:"database"`
}

type Config struct {
	Database              DatabaseConfig `json:"database" yaml:"database" toml:"database"`
	SlotName              string         `json:"slot_name" yaml:"slot_name" toml:"slot_name"`
	PublicationName       string         `json:"publication_name" yaml:"publication_name" toml:"publication_name"`
	Tables                []string       `json:"tables" yaml:"tables" toml:"tables"`
	CreateSlotIfMissing   bool           `json:"create_slot_if_missing" yaml:"create_slot_if_missing" toml:"create_slot_if_missing"`
	CreatePubIfMissing    bool           `json:"create_publication_if_missing" yaml:"create_publication_if_missing" toml:"create_publication_if_missing"`
	DropSlotOnStop        bool           `json:"drop_slot_on_stop" yaml:"drop_slot_on_stop" toml:"drop_slot_on_stop"`
	DropPublicationOnStop bool           `json:"drop_publication_on_stop" yaml:"drop_publication_on_stop" toml:"drop_publication_on_stop"`
	TransactionBufferSize int            `json:"transaction_buffer_size" yaml:"transaction_buffer_size" toml:"transaction_buffer_size"`
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...any) {}
func (l *noopLogger) Infof(format string, args ...any)  {}
func (l *noopLogger) Warnf(format string, args ...any)  {}
func (l *noopLogger) Errorf(format string, args ...any) {}
