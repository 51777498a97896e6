package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/sghousing/resale-tracker/internal/config"
	"github.com/sghousing/resale-tracker/internal/logger"
	"github.com/sghousing/resale-tracker/internal/warehouse"
)

// migrate applies the warehouse schema migrations to BigQuery.
func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	projectID := flag.String("project", cfg.BigQueryProject, "GCP project ID (or set BIGQUERY_PROJECT)")
	datasetID := flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	dir := flag.String("migrations", "", "Directory of NNNN_name.sql files (defaults to the bundled migrations)")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := logger.WithContext(context.Background(), log)

	if *projectID == "" {
		log.Fatal().Msg("Error: -project flag is required")
	}

	client, err := warehouse.New(ctx, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	migrations := warehouse.Migrations()
	if *dir != "" {
		migrations = os.DirFS(*dir)
	}

	applied, err := client.Migrate(ctx, migrations, *appliedBy)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		return
	}
	log.Info().Int("applied", applied).Msg("Migrations applied")
}
