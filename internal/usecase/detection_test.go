package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/infrastructure/lake"
)

type fakeDetector struct {
	mu    sync.Mutex
	boxes map[string][]domain.Box
	fail  map[string]bool
	calls int
}

func (f *fakeDetector) Detect(_ context.Context, imagePath string) ([]domain.Box, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	key := filepath.Base(filepath.Dir(imagePath)) + "/" + filepath.Base(imagePath)
	if f.fail[key] {
		return nil, errors.New("inference timeout")
	}
	return f.boxes[key], nil
}

func seedImages(t *testing.T, l *lake.Lake, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(l.ImagesDir(), filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
}

func TestDetectionEngineRun(t *testing.T) {
	t.Parallel()

	l := lake.New(t.TempDir(), t.TempDir())
	seedImages(t, l,
		"lobelia/12.jpg",
		"chemed/7.jpg",
		"chemed/3.jpg",
		"chemed/cover.jpg",
		"chemed/5.jpg",
	)
	if err := os.MkdirAll(filepath.Join(l.ImagesDir(), "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(l.ImagesDir(), "stray.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	det := &fakeDetector{
		boxes: map[string][]domain.Box{
			"chemed/7.jpg":   {{Label: "person", Confidence: 0.9}, {Label: "bottle", Confidence: 0.6}, {Label: "person", Confidence: 0.7}},
			"lobelia/12.jpg": {{Label: "cup", Confidence: 0.5}},
		},
		fail: map[string]bool{"chemed/5.jpg": true},
	}
	engine := NewDetectionEngine(l, det, 3, nil)

	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Images != 5 || report.Rows != 3 || report.Skipped != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	raw, err := os.ReadFile(report.File)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "message_id,channel_name,detected_objects,confidence_score,image_category\n" +
		"3,chemed,,,other\n" +
		"7,chemed,\"bottle,person\",0.733,promotional\n" +
		"12,lobelia,cup,0.5,product_display\n"
	if string(raw) != want {
		t.Fatalf("unexpected csv:\n%s", raw)
	}

	again, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	raw2, err := os.ReadFile(again.File)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw2) != string(raw) {
		t.Fatalf("detection is not idempotent:\n%s\nvs\n%s", raw, raw2)
	}
}

func TestDetectionEngineNoImages(t *testing.T) {
	t.Parallel()

	l := lake.New(t.TempDir(), t.TempDir())
	report, err := NewDetectionEngine(l, &fakeDetector{}, 2, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	raw, err := os.ReadFile(report.File)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "message_id,channel_name,detected_objects,confidence_score,image_category\n" {
		t.Fatalf("expected header only, got %q", raw)
	}
}

func TestDetectionEngineCancelled(t *testing.T) {
	t.Parallel()

	l := lake.New(t.TempDir(), t.TempDir())
	seedImages(t, l, "chemed/1.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewDetectionEngine(l, &fakeDetector{}, 1, nil).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, err := os.Stat(l.DetectionsFile()); !os.IsNotExist(err) {
		t.Fatalf("cancelled run must not write output: %v", err)
	}
}
