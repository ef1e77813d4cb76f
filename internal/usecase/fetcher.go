package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/infrastructure/lake"
	"TelegramPipeline/internal/logging"
	"TelegramPipeline/internal/scanner"
)

// FetcherDeps wires the fetcher with scanners, storage and limits.
type FetcherDeps struct {
	Registry       *scanner.Registry
	Lake           *lake.Lake
	Channels       []domain.Channel
	MessageLimit   int
	Concurrency    int
	ChannelTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Fetcher pulls the recent window of every configured channel into the raw zone.
type Fetcher struct {
	registry    *scanner.Registry
	lake        *lake.Lake
	channels    []domain.Channel
	limit       int
	concurrency int
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewFetcher constructs the fetcher; Now defaults to time.Now.
func NewFetcher(deps FetcherDeps) *Fetcher {
	f := &Fetcher{
		registry:    deps.Registry,
		lake:        deps.Lake,
		channels:    deps.Channels,
		limit:       deps.MessageLimit,
		concurrency: deps.Concurrency,
		timeout:     deps.ChannelTimeout,
		now:         deps.Now,
		logger:      deps.Logger,
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.concurrency <= 0 {
		f.concurrency = 1
	}
	if f.logger == nil {
		f.logger = logging.Discard()
	}
	return f
}

// Run fetches all channels for the current UTC day. A failing channel is
// recorded in the report and does not stop the others.
func (f *Fetcher) Run(ctx context.Context) (domain.FetchReport, error) {
	if f.registry == nil || f.lake == nil {
		return domain.FetchReport{}, fmt.Errorf("fetcher is not configured")
	}

	day := f.now().UTC()
	report := domain.FetchReport{Day: day, Channels: make([]domain.ChannelResult, len(f.channels))}

	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup
	for i, ch := range f.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				report.Channels[i] = domain.ChannelResult{Channel: ch.Name, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			report.Channels[i] = f.FetchChannel(ctx, day, ch)
		}()
	}
	wg.Wait()

	f.logger.Info("fetch finished",
		"day", day.Format("2006-01-02"),
		"channels", len(report.Channels),
		"failed", report.Failed(),
		"messages", report.TotalMessages())

	return report, ctx.Err()
}

// FetchChannel scans one channel, stores its photos and writes the day file.
func (f *Fetcher) FetchChannel(ctx context.Context, day time.Time, ch domain.Channel) domain.ChannelResult {
	result := domain.ChannelResult{Channel: ch.Name}
	log := f.logger.With("channel", ch.Name)
	log.Info("starting scrape", "scanner", ch.Scanner)

	strategy, err := f.registry.Resolve(ch.Scanner)
	if err != nil {
		result.Err = err
		log.Error("scrape failed", "error", err)
		return result
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	posts, err := strategy.Scan(ctx, scanner.Request{Channel: ch, Limit: f.limit})
	if err != nil {
		result.Err = fmt.Errorf("scan %s: %w", ch.Name, err)
		log.Error("scrape failed", "error", err)
		return result
	}
	if f.limit > 0 && len(posts) > f.limit {
		posts = posts[:f.limit]
	}

	msgs := make([]domain.RawMessage, 0, len(posts))
	for _, post := range posts {
		msg := domain.RawMessage{
			MessageID:   post.ID,
			ChannelName: ch.Name,
			MessageDate: post.Date,
			MessageText: post.Text,
			Views:       post.Views,
			Forwards:    post.Forwards,
			HasMedia:    post.Media != domain.MediaNone,
		}

		if post.Media == domain.MediaPhoto && post.Photo != nil {
			path, err := f.lake.SaveImage(ch.Name, post.ID, func(w io.Writer) error {
				return post.Photo.Download(ctx, w)
			})
			if err != nil {
				log.Warn("photo download failed", "message_id", post.ID, "error", err)
			} else {
				msg.ImagePath = &path
				result.Images++
			}
		}
		msgs = append(msgs, msg)
	}

	file, err := f.lake.WriteMessages(day, ch.Name, msgs)
	if err != nil {
		result.Err = fmt.Errorf("write %s: %w", ch.Name, err)
		log.Error("scrape failed", "error", err)
		return result
	}

	result.Messages = len(msgs)
	result.File = file
	log.Info("completed scrape", "messages", result.Messages, "images", result.Images, "file", file)
	return result
}
