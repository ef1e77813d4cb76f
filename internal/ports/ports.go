package ports

import (
	"context"
	"time"

	"TelegramPipeline/internal/domain"
)

// Column is one staging column in declaration order.
type Column struct {
	Name string
	Type string
}

// Table is a fixed staging relation definition.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// ColumnNames lists the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// RowSource streams rows for a bulk insert. It mirrors pgx.CopyFromSource.
type RowSource interface {
	Next() bool
	Values() ([]any, error)
	Err() error
}

// Warehouse replaces staging tables and bulk-loads them.
type Warehouse interface {
	// Recreate ensures the schema exists, drops the table and creates it empty.
	Recreate(ctx context.Context, table Table) error
	// BulkInsert inserts every row in a single transaction and returns the row count.
	BulkInsert(ctx context.Context, table Table, rows RowSource) (int64, error)
	Close() error
}

// Detector runs object detection over one image file.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]domain.Box, error)
}

// Notifier delivers a short run summary to operators.
type Notifier interface {
	PublishSummary(ctx context.Context, summary string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
