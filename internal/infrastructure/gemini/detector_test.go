package gemini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/genai"
)

type fakeModels struct {
	text  string
	err   error
	model string
	parts int
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	if len(contents) > 0 {
		f.parts = len(contents[0].Parts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(f.text, genai.RoleModel)},
		},
	}, nil
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "7.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestDetect(t *testing.T) {
	t.Parallel()

	fake := &fakeModels{text: `{"objects":[{"label":"Person","confidence":0.8},{"label":"bottle","confidence":1.4},{"label":" ","confidence":0.3}]}`}
	d := newDetector(fake, "")

	boxes, err := d.Detect(context.Background(), writeImage(t))
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if fake.model != defaultModel || fake.parts != 2 {
		t.Fatalf("unexpected request: model=%s parts=%d", fake.model, fake.parts)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %+v", boxes)
	}
	if boxes[0].Label != "person" || boxes[1].Confidence != 1 {
		t.Fatalf("unexpected boxes: %+v", boxes)
	}
}

func TestDetectErrors(t *testing.T) {
	t.Parallel()

	img := writeImage(t)

	if _, err := newDetector(&fakeModels{err: errors.New("quota")}, "m").Detect(context.Background(), img); err == nil {
		t.Fatal("expected generate error")
	}
	if _, err := newDetector(&fakeModels{text: "I see a cat"}, "m").Detect(context.Background(), img); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := newDetector(&fakeModels{}, "m").Detect(context.Background(), filepath.Join(t.TempDir(), "none.jpg")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestParseBoxesFenced(t *testing.T) {
	t.Parallel()

	boxes, err := parseBoxes("```json\n{\"objects\":[]}\n```")
	if err != nil {
		t.Fatalf("parseBoxes returned error: %v", err)
	}
	if len(boxes) != 0 {
		t.Fatalf("expected no boxes, got %+v", boxes)
	}
}

func TestNewDetectorRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewDetector(context.Background(), "", ""); err == nil {
		t.Fatal("expected missing key error")
	}
}
