package pipeline

import (
	"time"

	"go.uber.org/zap"

	"citybike-importer/internal/load"
	"citybike-importer/internal/metrics"
	"citybike-importer/internal/publisher"
)

type metricsProgress struct{ c *metrics.Collector }

func (m metricsProgress) BatchCommitted(r load.Report) { m.c.ObserveBatch(r.Rows, r.Duration) }

// natsProgress forwards batch reports as events. Publish failures are logged
// and never fail the import.
type natsProgress struct {
	pub   Publisher
	runID string
	table string
	log   *zap.Logger
	now   func() time.Time
}

func (n natsProgress) BatchCommitted(r load.Report) {
	err := n.pub.PublishProgress(publisher.ProgressMessage{
		RunID:     n.runID,
		Table:     n.table,
		Batch:     r.Batch,
		Rows:      r.Rows,
		Processed: r.Processed,
		Total:     r.Total,
		Timestamp: n.now(),
	})
	if err != nil {
		n.log.Warn("publish progress", zap.Int("batch", r.Batch), zap.Error(err))
	}
}
