package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/infrastructure/lake"
	"TelegramPipeline/internal/logging"
	"TelegramPipeline/internal/ports"
)

// DetectionReport summarises one detection pass.
type DetectionReport struct {
	Images  int
	Rows    int
	Skipped int
	Failed  int
	File    string
}

// DetectionEngine classifies every stored image and writes the detection file.
type DetectionEngine struct {
	lake     *lake.Lake
	detector ports.Detector
	workers  int
	logger   *slog.Logger
}

// NewDetectionEngine wires a detector with the lake; workers bounds parallel inference.
func NewDetectionEngine(l *lake.Lake, detector ports.Detector, workers int, logger *slog.Logger) *DetectionEngine {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &DetectionEngine{lake: l, detector: detector, workers: workers, logger: logger}
}

type detectionJob struct {
	ref lake.ImageRef
	id  int64
}

// Run detects objects on every image and replaces the detection file in one write.
// Images whose inference fails are logged and left out.
func (e *DetectionEngine) Run(ctx context.Context) (DetectionReport, error) {
	if e.lake == nil || e.detector == nil {
		return DetectionReport{}, fmt.Errorf("detection engine is not configured")
	}

	refs, err := e.lake.ImageFiles()
	if err != nil {
		return DetectionReport{}, fmt.Errorf("list images: %w", err)
	}

	report := DetectionReport{Images: len(refs)}
	jobs := make([]detectionJob, 0, len(refs))
	for _, ref := range refs {
		id, err := strconv.ParseInt(ref.Stem, 10, 64)
		if err != nil {
			report.Skipped++
			e.logger.Warn("skip image with non-numeric name", "channel", ref.Channel, "path", ref.Path)
			continue
		}
		jobs = append(jobs, detectionJob{ref: ref, id: id})
	}

	var (
		mu   sync.Mutex
		rows = make([]domain.ImageDetection, 0, len(jobs))
		wg   sync.WaitGroup
		feed = make(chan detectionJob)
	)

	for range min(e.workers, max(len(jobs), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range feed {
				boxes, err := e.detector.Detect(ctx, job.ref.Path)
				mu.Lock()
				if err != nil {
					report.Failed++
					mu.Unlock()
					e.logger.Error("detection failed", "channel", job.ref.Channel, "message_id", job.id, "error", err)
					continue
				}
				rows = append(rows, domain.Summarize(job.ref.Channel, job.id, boxes))
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, job := range jobs {
		select {
		case feed <- job:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(feed)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("detection interrupted: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ChannelName != rows[j].ChannelName {
			return rows[i].ChannelName < rows[j].ChannelName
		}
		return rows[i].MessageID < rows[j].MessageID
	})

	file, err := e.lake.WriteDetections(rows)
	if err != nil {
		return report, fmt.Errorf("write detections: %w", err)
	}

	report.Rows = len(rows)
	report.File = file
	e.logger.Info("detection finished",
		"images", report.Images,
		"rows", report.Rows,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"file", file)
	return report, nil
}
