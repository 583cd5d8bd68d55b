// Package pipeline runs one import: load trips, clean them, load stations and
// write the journeys.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"citybike-importer/internal/citybike"
	"citybike-importer/internal/clean"
	"citybike-importer/internal/db"
	"citybike-importer/internal/load"
	"citybike-importer/internal/metrics"
	"citybike-importer/internal/publisher"
	"citybike-importer/internal/source"
)

// Publisher receives run events. *publisher.NATSPublisher implements it.
type Publisher interface {
	PublishProgress(publisher.ProgressMessage) error
	PublishRun(publisher.RunMessage) error
}

type Options struct {
	TripFiles   []string
	StationFile string
	Table       string
	BatchSize   int
	Flavor      sqlbuilder.Flavor
	DryRun      bool
}

type Pipeline struct {
	opts    Options
	db      *sqlx.DB
	log     *zap.Logger
	metrics *metrics.Collector
	pub     Publisher
	now     func() time.Time
}

// New returns a pipeline. sqlDB may be nil for dry runs; mcol and pub may be nil.
func New(opts Options, sqlDB *sqlx.DB, log *zap.Logger, mcol *metrics.Collector, pub Publisher) *Pipeline {
	if opts.Table == "" {
		opts.Table = "journeys"
	}
	if opts.Flavor == 0 {
		opts.Flavor = sqlbuilder.DefaultFlavor
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{opts: opts, db: sqlDB, log: log, metrics: mcol, pub: pub, now: time.Now}
}

// Run executes the import once. Rows committed before a failure stay in the
// table; running again re-inserts them unless the schema rejects duplicates.
func (p *Pipeline) Run(ctx context.Context) (citybike.Stats, error) {
	runID := uuid.NewString()
	started := p.now()
	log := p.log.With(zap.String("run_id", runID))

	stats, err := p.run(ctx, runID, log)

	msg := publisher.RunMessage{
		RunID:      runID,
		Status:     "completed",
		Read:       stats.Read,
		Invalid:    stats.Invalid,
		Duplicates: stats.Duplicates,
		Inserted:   stats.Inserted,
		Batches:    stats.Batches,
		Stations:   stats.Stations,
		StartedAt:  started,
		FinishedAt: p.now(),
	}
	if err != nil {
		stage := citybike.StageOf(err)
		msg.Status, msg.Stage, msg.Error = "failed", string(stage), err.Error()
		if p.metrics != nil {
			p.metrics.StageFailures.WithLabelValues(string(stage)).Inc()
		}
		log.Error("import failed", zap.String("stage", string(stage)), zap.Int("committed", stats.Inserted), zap.Error(err))
	} else {
		if p.metrics != nil {
			p.metrics.MarkSuccess(msg.FinishedAt)
		}
		log.Info("import finished",
			zap.Int("read", stats.Read),
			zap.Int("invalid", stats.Invalid),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("inserted", stats.Inserted),
			zap.Int("batches", stats.Batches),
			zap.Duration("elapsed", msg.FinishedAt.Sub(started)),
		)
	}
	if p.pub != nil {
		if perr := p.pub.PublishRun(msg); perr != nil {
			log.Warn("publish run event", zap.Error(perr))
		}
	}
	return stats, err
}

func (p *Pipeline) run(ctx context.Context, runID string, log *zap.Logger) (citybike.Stats, error) {
	var stats citybike.Stats

	raw, err := source.LoadTrips(p.opts.TripFiles)
	if err != nil {
		return stats, err
	}
	stats.Read = len(raw)
	if p.metrics != nil {
		p.metrics.RowsRead.Add(float64(len(raw)))
	}
	log.Info("trips loaded", zap.Strings("files", p.opts.TripFiles), zap.Int("rows", len(raw)))

	trips, res, err := clean.Trips(raw)
	if err != nil {
		return stats, fmt.Errorf("validate: %w", err)
	}
	stats.Invalid, stats.Duplicates, stats.Cleaned = res.Invalid, res.Duplicates, res.Kept
	if p.metrics != nil {
		p.metrics.RowsInvalid.Add(float64(res.Invalid))
		p.metrics.RowsDuplicate.Add(float64(res.Duplicates))
	}
	log.Info("trips cleaned", zap.Int("invalid", res.Invalid), zap.Int("duplicates", res.Duplicates), zap.Int("kept", res.Kept))

	if p.opts.StationFile != "" {
		tbl, err := source.LoadStations(p.opts.StationFile)
		if err != nil {
			return stats, err
		}
		stats.Stations = len(tbl.Rows)
		if p.metrics != nil {
			p.metrics.StationsLoaded.Add(float64(len(tbl.Rows)))
		}
		log.Info("stations loaded", zap.String("file", p.opts.StationFile), zap.Strings("columns", tbl.Header), zap.Int("rows", len(tbl.Rows)))
	}

	if p.opts.DryRun {
		log.Info("dry run, skipping database", zap.Int("would_insert", len(trips)))
		return stats, nil
	}
	if p.db == nil {
		return stats, citybike.LoadError{Stage: citybike.StageConnect, Err: fmt.Errorf("no database configured")}
	}

	if n, err := db.CountRows(ctx, p.db, p.opts.Flavor, p.opts.Table); err != nil {
		log.Warn("could not count existing rows", zap.String("table", p.opts.Table), zap.Error(err))
	} else if n > 0 {
		log.Warn("table already holds rows, a repeated import inserts them again",
			zap.String("table", p.opts.Table), zap.Int64("existing", n))
	}

	progress := []load.Progress{}
	if p.metrics != nil {
		progress = append(progress, metricsProgress{p.metrics})
	}
	if p.pub != nil {
		progress = append(progress, natsProgress{pub: p.pub, runID: runID, table: p.opts.Table, log: log, now: p.now})
	}
	w, err := load.NewJourneyWriter(p.db, load.Options{
		Table:     p.opts.Table,
		BatchSize: p.opts.BatchSize,
		Flavor:    p.opts.Flavor,
	}, log, progress...)
	if err != nil {
		return stats, fmt.Errorf("%w: %v", citybike.ErrInvalidConfig, err)
	}

	sum, err := w.Write(ctx, trips)
	stats.Inserted, stats.Batches = sum.Inserted, sum.Batches
	return stats, err
}
