package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the subset of *sql.DB and *sql.Tx the repositories need.  Every
// repository method that takes a Querier participates in whatever scope
// the caller passes in.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is one unit of work.  It embeds the transaction so it can be handed to
// any repository method, and carries callbacks that must only run once the
// transaction has been committed.
type Tx struct {
	Querier
	afterCommit []func()
}

// NewTx wraps q in a unit of work.  TxManager is the normal way to obtain a
// Tx; NewTx exists for callers that manage the scope themselves.
func NewTx(q Querier) *Tx { return &Tx{Querier: q} }

// AfterCommit registers fn to run after a successful commit.  Callbacks are
// dropped when the transaction rolls back.
func (t *Tx) AfterCommit(fn func()) {
	if fn != nil {
		t.afterCommit = append(t.afterCommit, fn)
	}
}

// RunAfterCommit invokes the registered callbacks in registration order.
func (t *Tx) RunAfterCommit() {
	hooks := t.afterCommit
	t.afterCommit = nil
	for _, fn := range hooks {
		fn()
	}
}

// TxManager begins, commits and rolls back units of work on a *sql.DB.
type TxManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewTxManager returns a TxManager running transactions at READ COMMITTED,
// which is enough for the lock-then-diff pattern used by the services.
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db, opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

// DB exposes the underlying pool for reads that need no transaction.
func (m *TxManager) DB() *sql.DB { return m.db }

// WithinTx runs fn inside a transaction.  The transaction is committed when
// fn returns nil and rolled back otherwise; post-commit callbacks run only
// after the commit succeeded.
func (m *TxManager) WithinTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := NewTx(sqlTx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	tx.RunAfterCommit()
	return nil
}
