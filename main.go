package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"jk-analytics/config"
	"jk-analytics/models"
	"jk-analytics/utils"
)

const usage = `usage: jk-analytics <command> [flags]

commands:
  scrape         run an ingestion cycle (--kind rental|sale|both, --only-missing)
  complexes      list the complex directory, or "complexes add" to register one
  blacklist      list | add <complex> [--reason R] | remove <complex>
  analyze        aggregate one complex (--complex X [--date D] [--tolerance T])
  snapshot       record today's analysis (--complex X | --all)
  trend          print snapshot history (--complex X [--from D] [--to D])
  opportunities  rank undervalued or high-yield sale listings
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "--help" || argv[0] == "help" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	command, args := argv[0], argv[1:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format, "jk-analytics")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		if cfg.DBDriver == "postgres" {
			logger.Error("make sure PostgreSQL is running: docker compose up -d")
		}
		return 1
	}
	defer app.Close()

	err = app.run(ctx, command, args)
	var ve *models.ValidationError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		return 2
	case errors.As(err, &ve), models.IsNotFound(err):
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
	default:
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
	}
	return 1
}
