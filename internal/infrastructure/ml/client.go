package ml

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/ports"
)

// Client talks to an external YOLO inference service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Detector = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type detectRequest struct {
	Filename string `json:"filename"`
	Image    string `json:"image"`
}

type detectResponse struct {
	Detections []domain.Box `json:"detections"`
}

// Detect uploads the image and returns one box per detected object.
func (c *Client) Detect(ctx context.Context, imagePath string) ([]domain.Box, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	payload := detectRequest{
		Filename: filepath.Base(imagePath),
		Image:    base64.StdEncoding.EncodeToString(raw),
	}

	var resp detectResponse
	if err := c.post(ctx, "/detect", payload, &resp); err != nil {
		return nil, err
	}

	for i, box := range resp.Detections {
		if box.Label == "" {
			return nil, fmt.Errorf("detection %d has no label", i)
		}
	}
	return resp.Detections, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
