package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/logging"
	"TelegramPipeline/internal/ports"
)

// PipelineDeps wires all stages into the orchestration pipeline.
// Nil stages are skipped.
type PipelineDeps struct {
	Fetcher         *Fetcher
	Detection       *DetectionEngine
	RawLoader       *RawLoader
	DetectionLoader *DetectionLoader
	Notifier        ports.Notifier
	Logger          *slog.Logger
}

// Pipeline runs scrape, detect and both loads in order.
type Pipeline struct {
	fetcher         *Fetcher
	detection       *DetectionEngine
	rawLoader       *RawLoader
	detectionLoader *DetectionLoader
	notifier        ports.Notifier
	logger          *slog.Logger
}

// RunSummary collects the outcome of every stage of one run.
type RunSummary struct {
	RunID      string
	Trigger    time.Time
	Fetch      domain.FetchReport
	Detection  DetectionReport
	Messages   int64
	Detections int64
	Err        error
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		fetcher:         deps.Fetcher,
		detection:       deps.Detection,
		rawLoader:       deps.RawLoader,
		detectionLoader: deps.DetectionLoader,
		notifier:        deps.Notifier,
		logger:          logger,
	}
}

// Run executes every configured stage. Channel failures are reported but not
// fatal; a failing detection or load stage stops the run. The summary is
// published whether or not the run succeeded.
func (p *Pipeline) Run(ctx context.Context, trigger time.Time) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.NewString(), Trigger: trigger}
	log := p.logger.With("run_id", summary.RunID)
	log.Info("pipeline run started", "trigger", trigger.Format(time.RFC3339))

	summary.Err = p.runStages(ctx, &summary, log)
	if summary.Err != nil {
		log.Error("pipeline run failed", "error", summary.Err)
	} else {
		log.Info("pipeline run finished",
			"messages", summary.Messages,
			"detections", summary.Detections,
			"failed_channels", summary.Fetch.Failed())
	}

	if p.notifier != nil {
		if err := p.notifier.PublishSummary(ctx, FormatSummary(summary)); err != nil {
			log.Warn("publish summary failed", "error", err)
		}
	}
	return summary, summary.Err
}

func (p *Pipeline) runStages(ctx context.Context, summary *RunSummary, log *slog.Logger) error {
	var err error
	if p.fetcher != nil {
		summary.Fetch, err = p.fetcher.Run(ctx)
		if err != nil {
			return fmt.Errorf("scrape: %w", err)
		}
	}
	if p.detection != nil {
		summary.Detection, err = p.detection.Run(ctx)
		if err != nil {
			return fmt.Errorf("detect: %w", err)
		}
	}
	if p.rawLoader != nil {
		summary.Messages, err = p.rawLoader.Load(ctx)
		if err != nil {
			return fmt.Errorf("load raw messages: %w", err)
		}
	}
	if p.detectionLoader != nil {
		summary.Detections, err = p.detectionLoader.Load(ctx)
		if err != nil {
			return fmt.Errorf("load detections: %w", err)
		}
	}
	log.Debug("all stages completed")
	return nil
}

// FormatSummary renders a run summary as plain text for chat delivery.
func FormatSummary(s RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline run %s\n", s.RunID)
	if !s.Fetch.Day.IsZero() {
		fmt.Fprintf(&b, "Scrape %s: %d channels, %d failed, %d messages\n",
			s.Fetch.Day.Format("2006-01-02"), len(s.Fetch.Channels), s.Fetch.Failed(), s.Fetch.TotalMessages())
		for _, ch := range s.Fetch.Channels {
			if ch.Err != nil {
				fmt.Fprintf(&b, "- %s: failed: %v\n", ch.Channel, ch.Err)
				continue
			}
			fmt.Fprintf(&b, "- %s: %d messages, %d images\n", ch.Channel, ch.Messages, ch.Images)
		}
	}
	if s.Detection.File != "" {
		fmt.Fprintf(&b, "Detection: %d of %d images classified, %d failed, %d skipped\n",
			s.Detection.Rows, s.Detection.Images, s.Detection.Failed, s.Detection.Skipped)
	}
	if s.Err == nil {
		fmt.Fprintf(&b, "Loaded: %d messages, %d detections\n", s.Messages, s.Detections)
	} else {
		fmt.Fprintf(&b, "Failed: %v\n", s.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}
