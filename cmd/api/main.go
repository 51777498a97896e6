package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sghousing/resale-tracker/internal/api/handlers"
	"github.com/sghousing/resale-tracker/internal/app"
	"github.com/sghousing/resale-tracker/internal/config"
	"github.com/sghousing/resale-tracker/internal/jobs"
	"github.com/sghousing/resale-tracker/internal/jobs/inmemory"
	"github.com/sghousing/resale-tracker/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	port := flag.String("port", cfg.HTTPPort, "HTTP server port (or set PORT env)")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := logger.WithContext(context.Background(), log)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}
	defer application.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueBuffer, jobStore, nil)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job *jobs.RefreshJob) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.ExtractTimeout)
		defer cancel()

		dataset, summary, err := application.Runner.RunWithSummary(ctx)
		job.RunID = summary.RunID
		if err != nil {
			return err
		}
		job.DatasetRows = len(dataset.Rows)
		application.Reader.Invalidate()
		return nil
	}

	log.Info().Msg("Starting job worker")
	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handlers.NewRouter(application.Reader, jobQueue, jobStore, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("store", cfg.StoreBackend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
