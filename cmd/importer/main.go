package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"citybike-importer/internal/citybike"
	"citybike-importer/internal/config"
	"citybike-importer/internal/db"
	"citybike-importer/internal/logging"
	"citybike-importer/internal/metrics"
	"citybike-importer/internal/pipeline"
	"citybike-importer/internal/publisher"
)

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		stage := citybike.StageOf(err)
		if stage == "" {
			fmt.Fprintf(os.Stderr, "citybike-importer: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "citybike-importer: %s failed: %v\n", stage, err)
		}
	}
	os.Exit(exitCode(err))
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return citybike.ExitUsage
	}
	return citybike.ExitCodeForError(err)
}

type flags struct {
	configPath string
	trips      []string
	stations   string
	batchSize  int
	table      string
	driver     string
	logLevel   string
	dryRun     bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "citybike-importer [trip files...]",
		Short: "Load city bike trip exports into the journeys table",
		Long: `citybike-importer reads one or more trip CSV exports, drops trips shorter
than 10 m or 10 s and trips with unknown stations, removes exact duplicates
and inserts the rest into the journeys table in committed batches.

Settings come from the environment (a .env file is read if present), an
optional YAML file given with --config, and the flags below.

Exit Codes:
  0  - Success
  1  - Unexpected error
  2  - CLI usage error
  10 - Invalid configuration
  11 - Database connection failed
  20 - Reading input files failed
  21 - A numeric field could not be parsed
  22 - Inserting or committing a batch failed`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.trips = append(f.trips, args...)
			return run(cmd, f)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fl.StringSliceVarP(&f.trips, "trips", "t", nil, "trip export CSV files, in load order (TRIP_FILES)")
	fl.StringVarP(&f.stations, "stations", "s", "", "station reference CSV (STATION_FILE)")
	fl.IntVarP(&f.batchSize, "batch-size", "b", config.DefaultBatchSize, "rows per insert and commit (BATCH_SIZE)")
	fl.StringVar(&f.table, "table", "", "destination table (JOURNEYS_TABLE)")
	fl.StringVar(&f.driver, "driver", "", "database driver: postgres or mysql (DB_DRIVER)")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	fl.BoolVar(&f.dryRun, "dry-run", false, "load and validate only, do not touch the database (DRY_RUN)")
	return cmd
}

func run(cmd *cobra.Command, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, f, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("%w: %v", citybike.ErrInvalidConfig, err)
	}
	defer func() { _ = log.Sync() }()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.BatchSize)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	if cfg.PushgatewayURL != "" {
		// registered first so it runs last, after the pipeline has recorded the outcome
		defer func() {
			if err := mcol.Push(cfg.PushgatewayURL); err != nil {
				log.Warn("push metrics", zap.String("url", cfg.PushgatewayURL), zap.Error(err))
			}
		}()
	}

	var pub pipeline.Publisher
	if cfg.NATSURL != "" {
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, log)
		if err != nil {
			// events are informational; the import does not depend on them
			log.Warn("nats unavailable, continuing without events", zap.String("url", cfg.NATSURL), zap.Error(err))
		} else {
			defer np.Close()
			pub = np
		}
	}

	flavor, err := db.Flavor(cfg.Driver)
	if err != nil {
		return fmt.Errorf("%w: %v", citybike.ErrInvalidConfig, err)
	}

	var sqlDB *sqlx.DB
	if !cfg.DryRun {
		sqlDB, err = connect(ctx, cfg, log)
		if err != nil {
			mcol.StageFailures.WithLabelValues(string(citybike.StageConnect)).Inc()
			return err
		}
		defer sqlDB.Close()
	}

	p := pipeline.New(pipeline.Options{
		TripFiles:   cfg.TripFiles,
		StationFile: cfg.StationFile,
		Table:       cfg.JourneysTable,
		BatchSize:   cfg.BatchSize,
		Flavor:      flavor,
		DryRun:      cfg.DryRun,
	}, sqlDB, log, mcol, pub)

	_, err = p.Run(ctx)
	return err
}

func connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sqlx.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", citybike.ErrInvalidConfig, err)
	}
	sqlDB, err := db.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, citybike.LoadError{Stage: citybike.StageConnect, Err: err}
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, citybike.LoadError{Stage: citybike.StageConnect, Source: db.Redact(cfg.Driver, dsn), Err: err}
	}
	log.Info("connected", zap.String("driver", cfg.Driver), zap.String("dsn", db.Redact(cfg.Driver, dsn)))
	return sqlDB, nil
}

// applyFlags overrides config values with flags the user actually set.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	fl := cmd.Flags()
	if len(f.trips) > 0 {
		cfg.TripFiles = f.trips
	}
	if fl.Changed("stations") {
		cfg.StationFile = f.stations
	}
	if fl.Changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if fl.Changed("table") {
		cfg.JourneysTable = f.table
	}
	if fl.Changed("driver") {
		cfg.Driver = f.driver
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
}
