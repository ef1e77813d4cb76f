package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/infrastructure/lake"
	"TelegramPipeline/internal/logging"
	"TelegramPipeline/internal/ports"
)

const (
	messagesTableName   = "telegram_messages"
	detectionsTableName = "image_detections"
)

// MessagesTable is the staging relation for raw messages.
func MessagesTable(schema string) ports.Table {
	return ports.Table{
		Schema: schema,
		Name:   messagesTableName,
		Columns: []ports.Column{
			{Name: "message_id", Type: "BIGINT"},
			{Name: "channel_name", Type: "TEXT"},
			{Name: "message_date", Type: "TIMESTAMP"},
			{Name: "message_text", Type: "TEXT"},
			{Name: "views", Type: "INTEGER"},
			{Name: "forwards", Type: "INTEGER"},
			{Name: "has_media", Type: "BOOLEAN"},
			{Name: "image_path", Type: "TEXT"},
		},
	}
}

// DetectionsTable is the staging relation for image detections.
func DetectionsTable(schema string) ports.Table {
	return ports.Table{
		Schema: schema,
		Name:   detectionsTableName,
		Columns: []ports.Column{
			{Name: "message_id", Type: "BIGINT"},
			{Name: "channel_name", Type: "TEXT"},
			{Name: "detected_objects", Type: "TEXT"},
			{Name: "confidence_score", Type: "FLOAT"},
			{Name: "image_category", Type: "TEXT"},
		},
	}
}

// RawLoader replaces the raw message staging table with every file in the raw zone.
type RawLoader struct {
	lake      *lake.Lake
	warehouse ports.Warehouse
	schema    string
	logger    *slog.Logger
}

// NewRawLoader wires the lake with a warehouse.
func NewRawLoader(l *lake.Lake, w ports.Warehouse, schema string, logger *slog.Logger) *RawLoader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &RawLoader{lake: l, warehouse: w, schema: schema, logger: logger}
}

// Load drops and recreates the table, then inserts every record in one transaction.
// A malformed file aborts the load and leaves the table empty.
func (l *RawLoader) Load(ctx context.Context) (int64, error) {
	table := MessagesTable(l.schema)

	files, err := l.lake.MessageFiles()
	if err != nil {
		return 0, err
	}

	if err := l.warehouse.Recreate(ctx, table); err != nil {
		return 0, fmt.Errorf("recreate %s.%s: %w", table.Schema, table.Name, err)
	}

	rows := &messageRows{files: files, logger: l.logger}
	n, err := l.warehouse.BulkInsert(ctx, table, rows)
	if err != nil {
		return 0, fmt.Errorf("load %s.%s: %w", table.Schema, table.Name, err)
	}

	l.logger.Info("raw messages loaded", "table", table.Schema+"."+table.Name, "files", len(files), "rows", n)
	return n, nil
}

// messageRows streams messages file by file, in lake order.
type messageRows struct {
	files  []string
	logger *slog.Logger

	next    int
	current []domain.RawMessage
	pos     int
	err     error
}

func (r *messageRows) Next() bool {
	if r.err != nil {
		return false
	}
	for r.pos >= len(r.current) {
		if r.next >= len(r.files) {
			return false
		}
		path := r.files[r.next]
		r.next++

		msgs, err := lake.ReadMessageFile(path)
		if err != nil {
			r.err = err
			return false
		}
		r.logger.Debug("message file read", "file", path, "records", len(msgs))
		r.current, r.pos = msgs, 0
	}
	r.pos++
	return true
}

func (r *messageRows) Values() ([]any, error) {
	m := r.current[r.pos-1]
	return []any{
		m.MessageID,
		m.ChannelName,
		nullable(m.MessageDate),
		nullable(m.MessageText),
		nullable(m.Views),
		nullable(m.Forwards),
		m.HasMedia,
		nullable(m.ImagePath),
	}, nil
}

func (r *messageRows) Err() error {
	return r.err
}

// DetectionLoader replaces the detection staging table with the detection file.
type DetectionLoader struct {
	lake      *lake.Lake
	warehouse ports.Warehouse
	schema    string
	logger    *slog.Logger
}

// NewDetectionLoader wires the lake with a warehouse.
func NewDetectionLoader(l *lake.Lake, w ports.Warehouse, schema string, logger *slog.Logger) *DetectionLoader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DetectionLoader{lake: l, warehouse: w, schema: schema, logger: logger}
}

// Load drops and recreates the table, then inserts every row of the detection file
// in one transaction. A missing file or bad header fails before the table is touched.
func (l *DetectionLoader) Load(ctx context.Context) (int64, error) {
	table := DetectionsTable(l.schema)

	f, err := l.lake.OpenDetections()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader, err := lake.NewDetectionReader(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.Name(), err)
	}

	if err := l.warehouse.Recreate(ctx, table); err != nil {
		return 0, fmt.Errorf("recreate %s.%s: %w", table.Schema, table.Name, err)
	}

	n, err := l.warehouse.BulkInsert(ctx, table, &detectionRows{reader: reader})
	if err != nil {
		return 0, fmt.Errorf("load %s.%s: %w", table.Schema, table.Name, err)
	}

	l.logger.Info("detections loaded", "table", table.Schema+"."+table.Name, "rows", n)
	return n, nil
}

type detectionRows struct {
	reader  *lake.DetectionReader
	current domain.ImageDetection
	err     error
}

func (r *detectionRows) Next() bool {
	if r.err != nil {
		return false
	}
	row, err := r.reader.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
		return false
	}
	r.current = row
	return true
}

func (r *detectionRows) Values() ([]any, error) {
	var objects any
	if len(r.current.DetectedObjects) > 0 {
		objects = r.current.ObjectsString()
	}
	return []any{
		r.current.MessageID,
		r.current.ChannelName,
		objects,
		nullable(r.current.ConfidenceScore),
		string(r.current.ImageCategory),
	}, nil
}

func (r *detectionRows) Err() error {
	return r.err
}

// nullable unwraps a pointer into its value or an untyped nil for SQL NULL.
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

