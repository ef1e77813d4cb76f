package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"TelegramPipeline/internal/app"
	"TelegramPipeline/internal/config"
	"TelegramPipeline/internal/logging"
)

const usage = `usage: telegrampipeline [-config path] <command>

commands:
  scrape            fetch recent messages and photos of every channel
  detect            run object detection over stored images
  load-raw          replace the raw message staging table
  load-detections   replace the image detection staging table
  run [-watch]      run all stages once, or repeatedly on the scheduler interval
`

func main() {
	configPath := flag.String("config", "", "path to the YAML config (defaults to $PIPELINE_CONFIG)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("info", "text").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)

	command, args := flag.Arg(0), flag.Args()[1:]
	switch command {
	case "scrape":
		err = application.Scrape(ctx)
	case "detect":
		err = application.Detect(ctx)
	case "load-raw":
		err = application.LoadRaw(ctx)
	case "load-detections":
		err = application.LoadDetections(ctx)
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		watch := fs.Bool("watch", false, "repeat on the scheduler interval until interrupted")
		_ = fs.Parse(args)
		err = application.Run(ctx, *watch)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", "command", command, "error", err)
		stop()
		os.Exit(1)
	}
}
