// internal/store/db.go
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx. Every query in
// this package goes through it so the same store code runs inside and outside
// a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// DB wraps the connection pool and resolves the active transaction, if any,
// from the context.
type DB struct {
	pool *pgxpool.Pool
}

func (d *DB) conn(ctx context.Context) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return d.pool
}

// InTx runs fn within a single transaction carried through the context. All
// store calls made with the derived context join the transaction; this is how
// a workspace's writes are kept to one atomic unit. Nested calls join the
// transaction already in flight.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Stores bundles the per-entity stores over one pool.
type Stores struct {
	DB           *DB
	Workspaces   *WorkspaceStore
	Monitors     *MonitorStore
	Repositories *RepositoryStore
	SlugHistory  *SlugHistoryStore
	Users        *UserStore
}

// New builds the store bundle.
func New(pool *pgxpool.Pool) *Stores {
	db := &DB{pool: pool}
	return &Stores{
		DB:           db,
		Workspaces:   &WorkspaceStore{db: db},
		Monitors:     &MonitorStore{db: db},
		Repositories: &RepositoryStore{db: db},
		SlugHistory:  &SlugHistoryStore{db: db},
		Users:        &UserStore{db: db},
	}
}
