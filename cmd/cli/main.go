package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/sghousing/resale-tracker/internal/app"
	"github.com/sghousing/resale-tracker/internal/config"
	"github.com/sghousing/resale-tracker/internal/geocache"
	"github.com/sghousing/resale-tracker/internal/logger"
	"github.com/sghousing/resale-tracker/internal/matching"
	"github.com/sghousing/resale-tracker/internal/onemap"
	"github.com/sghousing/resale-tracker/internal/warehouse"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Out: os.Stderr})

	switch os.Args[1] {
	case "extract":
		runExtract(cfg, log)
	case "geocode":
		runGeocode(cfg, log)
	case "cache":
		runCache(cfg, log)
	case "runs":
		runRuns(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("HDB Resale Tracker CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  extract   Run one extraction and publish the dataset")
	fmt.Println("  geocode   Resolve a single address against OneMap")
	fmt.Println("  cache     Show geocode cache statistics")
	fmt.Println("  runs      List recent runs recorded in the warehouse")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runExtract(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	timeout := fs.Duration("timeout", cfg.ExtractTimeout, "maximum duration of the run")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}
	defer application.Close()

	dataset, summary, err := application.Runner.RunWithSummary(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("run_id", summary.RunID).Msg("Extraction failed")
	}

	fmt.Printf("Run %s published %d rows (last updated %s).\n", summary.RunID, len(dataset.Rows), dataset.LastUpdated)
	fmt.Printf("Addresses: %d distinct, %d missing, %d resolved, %d no match, %d fetch errors.\n",
		summary.DistinctAddresses, summary.MissingAddresses, summary.Resolved, summary.NoMatch, summary.FetchErrors)
	if summary.SnapshotURI != "" {
		fmt.Printf("Snapshot: %s\n", summary.SnapshotURI)
	}
}

func runGeocode(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("geocode", flag.ExitOnError)
	address := fs.String("address", "", `address to resolve, e.g. "123 ANG MO KIO AVE 3"`)
	only := fs.Bool("only", false, "accept a single candidate without scoring it")
	fs.Parse(os.Args[2:])

	if strings.TrimSpace(*address) == "" {
		log.Fatal().Msg("Error: --address is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	scorer, err := app.NewScorer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scorer")
	}
	selector := matching.NewSelector(scorer)
	searcher := app.NewSearcher(cfg)

	query := strings.ToUpper(strings.TrimSpace(*address))
	outcome := searcher.SearchAll(ctx, query)
	fmt.Printf("Outcome:    %s (%d candidates)\n", outcome.Kind, len(outcome.Candidates))
	if outcome.Kind == onemap.KindFetchError {
		fmt.Printf("Error:      %v\n", outcome.Err)
	}

	var match matching.Match
	if *only {
		match = selector.BestOrOnlyMatch(ctx, query, outcome.CandidatesOrEmpty())
	} else {
		match = selector.BestMatch(ctx, query, outcome.CandidatesOrEmpty())
	}
	if match.NoMatch {
		fmt.Println("Best match: none")
		return
	}

	entry := match.Project()
	fmt.Printf("Best match: %s\n", match.Candidate.SearchValue)
	fmt.Printf("Address:    %s\n", match.Candidate.Address)
	if match.Scored {
		fmt.Printf("Score:      %.4f\n", match.Score)
	} else {
		fmt.Println("Score:      (only candidate, not scored)")
	}
	if entry.HasCoordinates() {
		fmt.Printf("Lat/Lon:    %.6f, %.6f\n", *entry.Lat, *entry.Lon)
	} else {
		fmt.Println("Lat/Lon:    unavailable")
	}
}

func runCache(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	unresolved := fs.Bool("unresolved", false, "list addresses without coordinates")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	ts, closeStore, err := app.NewStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cache, err := geocache.Load(ctx, ts, cfg.LatLongTable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load cache")
	}

	stats := cache.Stats()
	fmt.Printf("Table:      %s (%s)\n", cfg.LatLongTable, cfg.StoreBackend)
	fmt.Printf("Rows:       %d\n", stats.Rows)
	fmt.Printf("Addresses:  %d\n", stats.Addresses)
	fmt.Printf("Resolved:   %d\n", stats.Resolved)
	fmt.Printf("Unresolved: %d\n", stats.Unresolved)

	if *unresolved {
		for _, addr := range cache.Unresolved() {
			fmt.Printf("  %s\n", addr)
		}
	}
}

func runRuns(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of runs to show")
	fs.Parse(os.Args[2:])

	if cfg.BigQueryProject == "" {
		log.Fatal().Msg("Error: BIGQUERY_PROJECT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	wh, err := warehouse.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create warehouse client")
	}
	defer wh.Close()

	runs, err := wh.ListRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTATUS\tSTARTED\tDURATION\tROWS\tRESOLVED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Status, r.StartedTS.Format(time.RFC3339), r.Duration().Round(time.Second),
			r.DatasetRows, r.Resolved, truncate(r.ErrorMessage, 60))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
