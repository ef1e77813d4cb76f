package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"TelegramPipeline/internal/ports"
)

// PgxWarehouse loads staging tables with the COPY protocol.
type PgxWarehouse struct {
	pool *pgxpool.Pool
}

var _ ports.Warehouse = (*PgxWarehouse)(nil)

// OpenPgx connects a pgx pool and verifies the connection.
func OpenPgx(ctx context.Context, dsn string) (*PgxWarehouse, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &PgxWarehouse{pool: pool}, nil
}

// Close releases the pool.
func (w *PgxWarehouse) Close() error {
	w.pool.Close()
	return nil
}

// Recreate ensures the schema, drops the table and creates it empty.
func (w *PgxWarehouse) Recreate(ctx context.Context, table ports.Table) error {
	create, err := createTableSQL(table)
	if err != nil {
		return err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ddl: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmts := []string{dropTableSQL(table), create}
	if table.Schema != "" {
		stmts = append([]string{createSchemaSQL(table.Schema)}, stmts...)
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("recreate %s: %w", table.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ddl: %w", err)
	}
	return nil
}

// BulkInsert streams rows through COPY inside one transaction.
func (w *PgxWarehouse) BulkInsert(ctx context.Context, table ports.Table, rows ports.RowSource) (int64, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ident := pgx.Identifier{table.Name}
	if table.Schema != "" {
		ident = pgx.Identifier{table.Schema, table.Name}
	}

	n, err := tx.CopyFrom(ctx, ident, table.ColumnNames(), rows)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit load: %w", err)
	}
	return n, nil
}
