package lake

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"TelegramPipeline/internal/domain"
)

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func TestWriteMessagesEmptyWindow(t *testing.T) {
	t.Parallel()

	l := New(t.TempDir(), t.TempDir())
	day := time.Date(2025, time.March, 4, 22, 0, 0, 0, time.UTC)

	path, err := l.WriteMessages(day, "chemed", nil)
	if err != nil {
		t.Fatalf("WriteMessages: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join("telegram_messages", "2025-03-04", "chemed.json")) {
		t.Fatalf("unexpected path: %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("expected empty array, got %q", raw)
	}
}

func TestWriteMessagesRoundTrip(t *testing.T) {
	t.Parallel()

	l := New(t.TempDir(), t.TempDir())
	ts := time.Date(2025, time.March, 4, 10, 30, 0, 0, time.UTC)
	msgs := []domain.RawMessage{
		{
			MessageID:   11,
			ChannelName: "chemed",
			MessageDate: &ts,
			MessageText: strPtr("Paracetamol <500mg> & more"),
			Views:       int64Ptr(120),
			Forwards:    int64Ptr(3),
			HasMedia:    true,
			ImagePath:   strPtr("data/raw/images/chemed/11.jpg"),
		},
		{MessageID: 10, ChannelName: "chemed"},
	}

	path, err := l.WriteMessages(ts, "chemed", msgs)
	if err != nil {
		t.Fatalf("WriteMessages: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(raw, []byte("<500mg> & more")) {
		t.Fatalf("html characters should not be escaped: %s", raw)
	}
	if !bytes.Contains(raw, []byte(`"image_path": null`)) {
		t.Fatalf("nil fields should be written as null: %s", raw)
	}

	got, err := ReadMessageFile(path)
	if err != nil {
		t.Fatalf("ReadMessageFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].MessageID != 11 || !got[0].MessageDate.Equal(ts) || *got[0].Views != 120 {
		t.Fatalf("unexpected first message: %+v", got[0])
	}
	if got[1].MessageDate != nil || got[1].ImagePath != nil || got[1].HasMedia {
		t.Fatalf("unexpected second message: %+v", got[1])
	}
}

func TestDecodeMessagesMissingKey(t *testing.T) {
	t.Parallel()

	input := `[{"channel_name":"chemed","message_date":null,"message_text":null,"views":null,"forwards":null,"has_media":false,"image_path":null}]`
	_, err := DecodeMessages(strings.NewReader(input))
	if !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if !strings.Contains(err.Error(), "message_id") {
		t.Fatalf("error should name the key: %v", err)
	}
}

func TestDecodeMessagesMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not an array":  `{"message_id":1}`,
		"null document": `null`,
		"string id":     `[{"message_id":"x","channel_name":"c","message_date":null,"message_text":null,"views":null,"forwards":null,"has_media":false,"image_path":null}]`,
		"null id":       `[{"message_id":null,"channel_name":"c","message_date":null,"message_text":null,"views":null,"forwards":null,"has_media":false,"image_path":null}]`,
		"bad date":      `[{"message_id":1,"channel_name":"c","message_date":"yesterday","message_text":null,"views":null,"forwards":null,"has_media":false,"image_path":null}]`,
	}

	for name, input := range cases {
		if _, err := DecodeMessages(strings.NewReader(input)); !errors.Is(err, domain.ErrMalformedRecord) {
			t.Fatalf("%s: expected ErrMalformedRecord, got %v", name, err)
		}
	}
}

func TestDecodeMessagesPythonTimestamp(t *testing.T) {
	t.Parallel()

	input := `[{"message_id":5,"channel_name":"c","message_date":"2024-05-01T08:15:00+00:00","message_text":"hi","views":7,"forwards":null,"has_media":false,"image_path":null}]`
	msgs, err := DecodeMessages(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeMessages: %v", err)
	}
	want := time.Date(2024, time.May, 1, 8, 15, 0, 0, time.UTC)
	if !msgs[0].MessageDate.Equal(want) {
		t.Fatalf("unexpected date: %v", msgs[0].MessageDate)
	}
}

func TestMessageFilesOrder(t *testing.T) {
	t.Parallel()

	l := New(t.TempDir(), t.TempDir())
	for _, d := range []time.Time{
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		for _, ch := range []string{"b", "a"} {
			if _, err := l.WriteMessages(d, ch, nil); err != nil {
				t.Fatalf("WriteMessages: %v", err)
			}
		}
	}
	if err := os.WriteFile(filepath.Join(l.MessagesDir(), "README"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	files, err := l.MessageFiles()
	if err != nil {
		t.Fatalf("MessageFiles: %v", err)
	}

	var rel []string
	for _, f := range files {
		r, _ := filepath.Rel(l.MessagesDir(), f)
		rel = append(rel, filepath.ToSlash(r))
	}
	want := []string{"2025-01-01/a.json", "2025-01-01/b.json", "2025-01-02/a.json", "2025-01-02/b.json"}
	if strings.Join(rel, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected order: %v", rel)
	}
}

func TestImageFiles(t *testing.T) {
	t.Parallel()

	l := New(t.TempDir(), t.TempDir())
	for _, p := range []string{"chemed/1.jpg", "chemed/2.jpg", "chemed/notes.txt"} {
		full := filepath.Join(l.ImagesDir(), p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("img"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(l.ImagesDir(), "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(l.ImagesDir(), "top.jpg"), []byte("img"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	refs, err := l.ImageFiles()
	if err != nil {
		t.Fatalf("ImageFiles: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 images, got %+v", refs)
	}
	if refs[0].Channel != "chemed" || refs[0].Stem != "1" || refs[1].Stem != "2" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
}

func TestSaveImageFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	l := New(t.TempDir(), t.TempDir())
	_, err := l.SaveImage("chemed", 9, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("connection reset")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, statErr := os.Stat(l.ImagePath("chemed", 9)); !os.IsNotExist(statErr) {
		t.Fatalf("partial image left behind: %v", statErr)
	}

	entries, _ := os.ReadDir(filepath.Dir(l.ImagePath("chemed", 9)))
	if len(entries) != 0 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestDetectionsRoundTrip(t *testing.T) {
	t.Parallel()

	l := New(t.TempDir(), t.TempDir())
	score := 0.871
	rows := []domain.ImageDetection{
		{MessageID: 1, ChannelName: "chemed", DetectedObjects: []string{"bottle", "person"}, ConfidenceScore: &score, ImageCategory: domain.CategoryPromotional},
		{MessageID: 2, ChannelName: "chemed", ImageCategory: domain.CategoryOther},
	}

	path, err := l.WriteDetections(rows)
	if err != nil {
		t.Fatalf("WriteDetections: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "message_id,channel_name,detected_objects,confidence_score,image_category\n" +
		"1,chemed,\"bottle,person\",0.871,promotional\n" +
		"2,chemed,,,other\n"
	if string(raw) != want {
		t.Fatalf("unexpected csv:\n%s", raw)
	}

	f, err := l.OpenDetections()
	if err != nil {
		t.Fatalf("OpenDetections: %v", err)
	}
	defer f.Close()

	reader, err := NewDetectionReader(f)
	if err != nil {
		t.Fatalf("NewDetectionReader: %v", err)
	}
	first, err := reader.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first.ObjectsString() != "bottle,person" || *first.ConfidenceScore != 0.871 {
		t.Fatalf("unexpected first row: %+v", first)
	}
	second, err := reader.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if second.ConfidenceScore != nil || len(second.DetectedObjects) != 0 {
		t.Fatalf("unexpected second row: %+v", second)
	}
	if _, err := reader.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDetectionReaderRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewDetectionReader(strings.NewReader("id,channel\n")); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected malformed header error, got %v", err)
	}
	if _, err := NewDetectionReader(strings.NewReader("")); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected empty file error, got %v", err)
	}

	input := "message_id,channel_name,detected_objects,confidence_score,image_category\nabc,chemed,,,other\n"
	reader, err := NewDetectionReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewDetectionReader: %v", err)
	}
	if _, err := reader.Read(); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected malformed row error, got %v", err)
	}
}
