package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sghousing/resale-tracker/internal/app"
	"github.com/sghousing/resale-tracker/internal/config"
	"github.com/sghousing/resale-tracker/internal/jobs"
	"github.com/sghousing/resale-tracker/internal/jobs/inmemory"
	"github.com/sghousing/resale-tracker/internal/logger"
)

// The worker refreshes the dataset on a fixed interval, one run at a time.
func main() {
	interval := flag.Duration("interval", 24*time.Hour, "time between scheduled runs")
	runNow := flag.Bool("now", true, "run once immediately at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}
	defer application.Close()

	jobQueue := inmemory.NewQueue(cfg.QueueBuffer, inmemory.NewStore(), nil)
	handler := func(ctx context.Context, job *jobs.RefreshJob) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.ExtractTimeout)
		defer cancel()

		dataset, summary, err := application.Runner.RunWithSummary(ctx)
		job.RunID = summary.RunID
		if err != nil {
			return err
		}
		job.DatasetRows = len(dataset.Rows)
		return nil
	}
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	schedule := func() {
		if err := jobQueue.PublishRefresh(ctx, &jobs.RefreshJob{Trigger: "schedule"}); err != nil {
			log.Error().Err(err).Msg("Failed to schedule refresh")
		}
	}
	if *runNow {
		schedule()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Dur("interval", *interval).Msg("Worker service started")
	for {
		select {
		case <-ticker.C:
			schedule()
		case <-quit:
			log.Info().Msg("Shutting down worker service...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ExtractTimeout)
			if err := jobQueue.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Error during graceful shutdown")
			}
			shutdownCancel()
			log.Info().Msg("Worker service exited")
			return
		}
	}
}
