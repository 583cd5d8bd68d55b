package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "citybike_importer"

type Collector struct {
	reg *prometheus.Registry

	RowsRead       prometheus.Counter
	RowsInvalid    prometheus.Counter
	RowsDuplicate  prometheus.Counter
	RowsInserted   prometheus.Counter
	StationsLoaded prometheus.Counter

	BatchesCommitted prometheus.Counter
	BatchDuration    prometheus.Histogram

	StageFailures *prometheus.CounterVec // stage label: load|validate|connect|insert
	LastSuccess   prometheus.Gauge       // unix seconds

	BatchSize prometheus.Gauge
}

func NewCollector(batchSize int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		RowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_rows_read_total",
			Help: "Trip rows read from export files.",
		}),
		RowsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_rows_invalid_total",
			Help: "Trip rows discarded by the distance, duration or station id filter.",
		}),
		RowsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_rows_duplicate_total",
			Help: "Trip rows discarded as exact duplicates.",
		}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_rows_inserted_total",
			Help: "Trip rows committed to the journeys table.",
		}),
		StationsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_stations_loaded_total",
			Help: "Station reference rows read.",
		}),
		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_batches_committed_total",
			Help: "Insert batches committed, remainder included.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "importer_batch_duration_seconds",
			Help:    "Time to insert and commit one batch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_stage_failures_total",
			Help: "Runs aborted, by failing stage.",
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "importer_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "importer_batch_size",
			Help: "Configured rows per insert batch.",
		}),
	}

	reg.MustRegister(
		c.RowsRead, c.RowsInvalid, c.RowsDuplicate, c.RowsInserted, c.StationsLoaded,
		c.BatchesCommitted, c.BatchDuration,
		c.StageFailures, c.LastSuccess, c.BatchSize,
	)

	c.BatchSize.Set(float64(batchSize))

	return c
}

// ObserveBatch records one committed batch of n rows.
func (c *Collector) ObserveBatch(n int, d time.Duration) {
	c.BatchesCommitted.Inc()
	c.RowsInserted.Add(float64(n))
	c.BatchDuration.Observe(d.Seconds())
}

func (c *Collector) MarkSuccess(t time.Time) { c.LastSuccess.Set(float64(t.Unix())) }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	return srv
}

// Push sends the registry to a Pushgateway. Batch jobs exit before a scrape
// would reach them, so this is the primary export path.
func (c *Collector) Push(url string) error {
	return push.New(url, jobName).Gatherer(c.reg).Push()
}
