package lake

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"TelegramPipeline/internal/domain"
)

// DetectionHeader is the fixed column header of the detection output.
var DetectionHeader = []string{"message_id", "channel_name", "detected_objects", "confidence_score", "image_category"}

// WriteDetections replaces the detection file with rows, in the given order.
func (l *Lake) WriteDetections(rows []domain.ImageDetection) (string, error) {
	path := l.DetectionsFile()
	err := writeAtomic(path, func(w io.Writer) error {
		return EncodeDetections(w, rows)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// EncodeDetections writes the header and one CSV record per row.
func EncodeDetections(w io.Writer, rows []domain.ImageDetection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DetectionHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		score := ""
		if row.ConfidenceScore != nil {
			score = strconv.FormatFloat(*row.ConfidenceScore, 'f', -1, 64)
		}
		record := []string{
			strconv.FormatInt(row.MessageID, 10),
			row.ChannelName,
			row.ObjectsString(),
			score,
			string(row.ImageCategory),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d/%s: %w", row.MessageID, row.ChannelName, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// DetectionReader decodes the detection file record by record.
type DetectionReader struct {
	r    *csv.Reader
	line int
}

// NewDetectionReader validates the header and returns a reader positioned on the first row.
func NewDetectionReader(r io.Reader) (*DetectionReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(DetectionHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty detection file", domain.ErrMalformedRecord)
		}
		return nil, fmt.Errorf("%w: header: %v", domain.ErrMalformedRecord, err)
	}
	for i, name := range DetectionHeader {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", domain.ErrMissingField, i, header[i], name)
		}
	}
	return &DetectionReader{r: cr, line: 1}, nil
}

// Read returns the next row or io.EOF.
func (d *DetectionReader) Read() (domain.ImageDetection, error) {
	record, err := d.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ImageDetection{}, io.EOF
		}
		return domain.ImageDetection{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	d.line++

	row, err := parseDetection(record)
	if err != nil {
		return domain.ImageDetection{}, fmt.Errorf("line %d: %w", d.line, err)
	}
	return row, nil
}

func parseDetection(record []string) (domain.ImageDetection, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return domain.ImageDetection{}, fmt.Errorf("%w: message_id %q", domain.ErrMalformedRecord, record[0])
	}

	row := domain.ImageDetection{
		MessageID:     id,
		ChannelName:   record[1],
		ImageCategory: domain.Category(record[4]),
	}
	if record[2] != "" {
		row.DetectedObjects = strings.Split(record[2], ",")
	}
	if s := strings.TrimSpace(record[3]); s != "" {
		score, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.ImageDetection{}, fmt.Errorf("%w: confidence_score %q", domain.ErrMalformedRecord, record[3])
		}
		row.ConfidenceScore = &score
	}
	if !row.ImageCategory.Valid() {
		return domain.ImageDetection{}, fmt.Errorf("%w: image_category %q", domain.ErrMalformedRecord, record[4])
	}
	return row, nil
}

// OpenDetections opens the detection file for reading.
func (l *Lake) OpenDetections() (*os.File, error) {
	f, err := os.Open(l.DetectionsFile())
	if err != nil {
		return nil, fmt.Errorf("open detections: %w", err)
	}
	return f, nil
}
