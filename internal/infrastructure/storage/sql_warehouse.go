package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"TelegramPipeline/internal/ports"
)

const defaultBatchSize = 500

// Bind parameter ceilings per statement.
const (
	maxPostgresParams = 65535
	maxSQLiteParams   = 32766
)

// SQLWarehouse loads staging tables through database/sql.
// The postgres driver uses real schemas; the sqlite3 driver maps a schema onto an
// attached database file stored next to the main database.
type SQLWarehouse struct {
	db        *sql.DB
	driver    string
	attachDir string
	batchSize int
}

var _ ports.Warehouse = (*SQLWarehouse)(nil)

// OpenSQL opens and pings a database/sql warehouse for driver "postgres" or "sqlite3".
func OpenSQL(driver, dsn string, batchSize int) (*SQLWarehouse, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var attachDir string
	if driver == "sqlite3" {
		// ATTACH is per connection.
		db.SetMaxOpenConns(1)
		attachDir = sqliteAttachDir(dsn)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	w := NewSQLWarehouse(db, driver, batchSize)
	w.attachDir = attachDir
	return w, nil
}

// NewSQLWarehouse wires an existing sql.DB.
func NewSQLWarehouse(db *sql.DB, driver string, batchSize int) *SQLWarehouse {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &SQLWarehouse{db: db, driver: driver, batchSize: batchSize}
}

// DB exposes the underlying handle for read-side checks.
func (w *SQLWarehouse) DB() *sql.DB {
	return w.db
}

// Close releases the connection pool.
func (w *SQLWarehouse) Close() error {
	return w.db.Close()
}

// Recreate ensures the schema, drops the table and creates it empty, committed as one unit.
func (w *SQLWarehouse) Recreate(ctx context.Context, table ports.Table) error {
	if w.driver == "sqlite3" {
		if err := w.attachSchema(ctx, table.Schema); err != nil {
			return err
		}
	}

	create, err := createTableSQL(table)
	if err != nil {
		return err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ddl: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{dropTableSQL(table), create}
	if w.driver != "sqlite3" && table.Schema != "" {
		stmts = append([]string{createSchemaSQL(table.Schema)}, stmts...)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("recreate %s: %w", table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ddl: %w", err)
	}
	return nil
}

// BulkInsert inserts all rows inside one transaction using batched multi-row INSERTs.
// Nothing is committed unless every row is inserted.
func (w *SQLWarehouse) BulkInsert(ctx context.Context, table ports.Table, rows ports.RowSource) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		total   int64
		pending int
		batch   = w.rowsPerStatement(table)
		builder = w.newInsert(table)
	)

	flush := func() error {
		if pending == 0 {
			return nil
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table.Name, err)
		}
		total += int64(pending)
		pending = 0
		builder = w.newInsert(table)
		return nil
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return 0, err
		}
		if len(values) != len(table.Columns) {
			return 0, fmt.Errorf("row has %d values, table %s has %d columns", len(values), table.Name, len(table.Columns))
		}
		builder = builder.Values(values...)
		pending++
		if pending >= batch {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit load: %w", err)
	}
	return total, nil
}

// rowsPerStatement caps the configured batch so one INSERT stays under the
// driver's bind parameter limit.
func (w *SQLWarehouse) rowsPerStatement(table ports.Table) int {
	limit := maxPostgresParams
	if w.driver == "sqlite3" {
		limit = maxSQLiteParams
	}
	batch := w.batchSize
	if cols := len(table.Columns); cols > 0 && batch*cols > limit {
		batch = limit / cols
	}
	return batch
}

func (w *SQLWarehouse) newInsert(table ports.Table) sq.InsertBuilder {
	var placeholder sq.PlaceholderFormat = sq.Dollar
	if w.driver == "sqlite3" {
		placeholder = sq.Question
	}
	return sq.Insert(qualifiedName(table)).
		Columns(quotedColumns(table)...).
		PlaceholderFormat(placeholder)
}

func (w *SQLWarehouse) attachSchema(ctx context.Context, schema string) error {
	if schema == "" || schema == "main" {
		return nil
	}

	var name string
	err := w.db.QueryRowContext(ctx, `SELECT name FROM pragma_database_list WHERE name = ?`, schema).Scan(&name)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("inspect attached databases: %w", err)
	}

	target := ":memory:"
	if w.attachDir != "" {
		target = filepath.Join(w.attachDir, schema+".db")
	}
	if _, err := w.db.ExecContext(ctx, `ATTACH DATABASE ? AS `+quoteSQLiteIdent(schema), target); err != nil {
		return fmt.Errorf("attach schema %s: %w", schema, err)
	}
	return nil
}

func quoteSQLiteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqliteAttachDir returns the directory of a file DSN, or "" for in-memory databases.
func sqliteAttachDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}
