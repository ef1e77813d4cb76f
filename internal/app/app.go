package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"TelegramPipeline/internal/config"
	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/infrastructure/gemini"
	"TelegramPipeline/internal/infrastructure/lake"
	"TelegramPipeline/internal/infrastructure/ml"
	"TelegramPipeline/internal/infrastructure/mtproto"
	"TelegramPipeline/internal/infrastructure/parser"
	"TelegramPipeline/internal/infrastructure/scheduler"
	"TelegramPipeline/internal/infrastructure/storage"
	"TelegramPipeline/internal/infrastructure/telegram"
	"TelegramPipeline/internal/logging"
	"TelegramPipeline/internal/ports"
	"TelegramPipeline/internal/scanner"
	"TelegramPipeline/internal/usecase"
)

const stopTimeout = 30 * time.Second

// Application wires configs to use cases. Adapters are built per command so
// that, for example, loading never needs Telegram credentials.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	lake   *lake.Lake
}

// New builds an application instance.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		lake:   lake.New(cfg.Lake.RawRoot, cfg.Lake.ProcessedRoot),
	}
}

// Scrape fetches every configured channel once. It fails only when no channel succeeded.
func (a *Application) Scrape(ctx context.Context) error {
	fetcher, cleanup, err := a.buildFetcher(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := fetcher.Run(ctx)
	if err != nil {
		return err
	}
	if len(report.Channels) > 0 && report.Failed() == len(report.Channels) {
		return fmt.Errorf("all %d channels failed", len(report.Channels))
	}
	return nil
}

// Detect runs object detection over the image tree.
func (a *Application) Detect(ctx context.Context) error {
	engine, err := a.buildDetection(ctx)
	if err != nil {
		return err
	}
	_, err = engine.Run(ctx)
	return err
}

// LoadRaw replaces the raw message staging table.
func (a *Application) LoadRaw(ctx context.Context) error {
	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer a.closeWarehouse(wh)

	_, err = usecase.NewRawLoader(a.lake, wh, a.cfg.Warehouse.Schema, a.component("loader.raw")).Load(ctx)
	return err
}

// LoadDetections replaces the detection staging table.
func (a *Application) LoadDetections(ctx context.Context) error {
	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer a.closeWarehouse(wh)

	_, err = usecase.NewDetectionLoader(a.lake, wh, a.cfg.Warehouse.Schema, a.component("loader.detections")).Load(ctx)
	return err
}

// Run executes the whole pipeline once, or on the scheduler interval when watch is set
// until ctx is cancelled.
func (a *Application) Run(ctx context.Context, watch bool) error {
	fetcher, cleanup, err := a.buildFetcher(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := a.buildDetection(ctx)
	if err != nil {
		return err
	}

	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer a.closeWarehouse(wh)

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:         fetcher,
		Detection:       engine,
		RawLoader:       usecase.NewRawLoader(a.lake, wh, a.cfg.Warehouse.Schema, a.component("loader.raw")),
		DetectionLoader: usecase.NewDetectionLoader(a.lake, wh, a.cfg.Warehouse.Schema, a.component("loader.detections")),
		Notifier:        a.buildNotifier(),
		Logger:          a.component("pipeline"),
	})

	loc := a.cfg.Scheduler.Location()
	if !watch {
		_, err := pipeline.Run(ctx, time.Now().In(loc))
		return err
	}

	driver := scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, loc)
	sched := usecase.NewScheduler(driver, pipeline)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval.String())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	a.logger.Info("scheduler stopped")
	return nil
}

func (a *Application) channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(a.cfg.Channels))
	for _, ch := range a.cfg.Channels {
		out = append(out, domain.Channel{Name: ch.Name, Address: ch.Address, Scanner: ch.Scanner})
	}
	return out
}

func (a *Application) usesScanner(name string) bool {
	for _, ch := range a.cfg.Channels {
		if ch.Scanner == name {
			return true
		}
	}
	return false
}

// buildFetcher registers the scanners the channel list needs. The returned
// cleanup stops the MTProto connection when one was started.
func (a *Application) buildFetcher(ctx context.Context) (*usecase.Fetcher, func(), error) {
	registry := scanner.NewRegistry()
	registry.Register(parser.NewWebScanner(nil, "", a.component("scanner.web")))

	cleanup := func() {}
	if a.usesScanner(config.ScannerMTProto) {
		client, err := mtproto.NewClient(a.cfg.Telegram, a.component("scanner.mtproto"))
		if err != nil {
			return nil, nil, err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- client.Start(ctx) }()
		cleanup = func() {
			_ = client.Close()
			if err := <-errCh; err != nil {
				a.logger.Error("telegram client stopped with error", "error", err)
			}
		}
		registry.Register(client)
	}

	fetcher := usecase.NewFetcher(usecase.FetcherDeps{
		Registry:       registry,
		Lake:           a.lake,
		Channels:       a.channels(),
		MessageLimit:   a.cfg.Telegram.MessageLimit,
		Concurrency:    a.cfg.Telegram.Concurrency,
		ChannelTimeout: a.cfg.Telegram.ChannelTimeout,
		Logger:         a.component("fetcher"),
	})
	return fetcher, cleanup, nil
}

func (a *Application) buildDetection(ctx context.Context) (*usecase.DetectionEngine, error) {
	var detector ports.Detector
	switch a.cfg.Detection.Provider {
	case config.DetectorGemini:
		d, err := gemini.NewDetector(ctx, a.cfg.Detection.GeminiAPIKey, a.cfg.Detection.GeminiModel)
		if err != nil {
			return nil, err
		}
		detector = d
	default:
		detector = ml.NewClient(a.cfg.Detection.InferenceURL, a.cfg.Detection.APIKey)
	}
	return usecase.NewDetectionEngine(a.lake, detector, a.cfg.Detection.Workers, a.component("detection")), nil
}

func (a *Application) openWarehouse(ctx context.Context) (ports.Warehouse, error) {
	wc := a.cfg.Warehouse
	if wc.DSN == "" {
		return nil, fmt.Errorf("warehouse dsn is not configured")
	}
	switch wc.Driver {
	case config.DriverPgx:
		return storage.OpenPgx(ctx, wc.DSN)
	default:
		return storage.OpenSQL(wc.Driver, wc.DSN, wc.BatchSize)
	}
}

func (a *Application) closeWarehouse(wh ports.Warehouse) {
	if err := wh.Close(); err != nil {
		a.logger.Warn("close warehouse", "error", err)
	}
}

func (a *Application) buildNotifier() ports.Notifier {
	bot := a.cfg.Notifications.Telegram
	if bot.BotToken == "" || bot.ChatID == "" {
		return nil
	}
	n, err := telegram.NewNotifier(bot.BotToken, bot.ChatID)
	if err != nil {
		a.logger.Warn("run summaries disabled", "error", err)
		return nil
	}
	return n
}

func (a *Application) component(name string) *slog.Logger {
	return a.logger.With("component", name)
}
