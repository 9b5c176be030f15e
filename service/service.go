// Package service holds the domain operations of the collaboration
// backend. Every mutation that affects who-can-do-what writes the
// entity change and a typed outbox event in one transaction; the
// request path never calls the authorization engine directly.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabforge/authsync/capturer"
	"github.com/collabforge/authsync/outbox"
)

var (
	// ErrNotFound means the target entity does not exist (or the caller
	// lacks the relation that makes it visible).
	ErrNotFound = errors.New("entity not found")

	// ErrConcurrencyConflict means an update matched zero rows because
	// the optimistic version token was stale.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrRoleAlreadyAssigned means the (entity, user, role) row already
	// exists.
	ErrRoleAlreadyAssigned = errors.New("role already assigned")
)

type base struct {
	pool   *pgxpool.Pool
	outbox *outbox.Writer
	logger capturer.Logger
}

func newBase(pool *pgxpool.Pool, w *outbox.Writer, logger capturer.Logger) base {
	if logger == nil {
		logger = nopLogger{}
	}
	return base{pool: pool, outbox: w, logger: logger}
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...any) {}
func (nopLogger) Infof(format string, args ...any)  {}
func (nopLogger) Warnf(format string, args ...any)  {}
func (nopLogger) Errorf(format string, args ...any) {}

// withTx runs fn inside one transaction; the entity write and outbox
// insert inside fn share its fate.
func (b base) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
