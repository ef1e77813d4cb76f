package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/ports"
)

const (
	defaultModel = "gemini-2.5-flash"

	detectPrompt = `Detect every object in this image using COCO class names (for example person, bottle, cup, cell phone, handbag).
Return JSON only, in the form {"objects":[{"label":"person","confidence":0.92}]}.
Use one entry per object instance, lowercase labels and confidence between 0 and 1.
Return {"objects":[]} when nothing is recognisable.`
)

// contentGenerator is the subset of *genai.Models used by the detector.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Detector asks a Gemini vision model for object boxes.
type Detector struct {
	models contentGenerator
	model  string
}

var _ ports.Detector = (*Detector)(nil)

// NewDetector creates a Gemini client for the given key and model.
func NewDetector(ctx context.Context, apiKey, model string) (*Detector, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newDetector(client.Models, model), nil
}

func newDetector(models contentGenerator, model string) *Detector {
	if model == "" {
		model = defaultModel
	}
	return &Detector{models: models, model: model}
}

// Detect sends the image with a fixed prompt and decodes the JSON answer.
func (d *Detector) Detect(ctx context.Context, imagePath string) ([]domain.Box, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(raw, "image/jpeg"),
			genai.NewPartFromText(detectPrompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}

	result, err := d.models.GenerateContent(ctx, d.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from %s", d.model)
	}

	return parseBoxes(result.Candidates[0].Content.Parts[0].Text)
}

type detectAnswer struct {
	Objects []domain.Box `json:"objects"`
}

func parseBoxes(text string) ([]domain.Box, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var answer detectAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &answer); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}

	boxes := make([]domain.Box, 0, len(answer.Objects))
	for _, obj := range answer.Objects {
		label := strings.ToLower(strings.TrimSpace(obj.Label))
		if label == "" {
			continue
		}
		conf := min(max(obj.Confidence, 0), 1)
		boxes = append(boxes, domain.Box{Label: label, Confidence: conf})
	}
	return boxes, nil
}
