// Package load writes cleaned trips to the database in committed batches.
package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"citybike-importer/internal/citybike"
)

// JourneyColumns is the journeys table layout, in citybike.Trip.Values order.
var JourneyColumns = []string{"departure_id", "departure_name", "return_id", "return_name", "distance", "duration"}

// maxPlaceholders is the PostgreSQL bind parameter limit; MySQL allows the same.
const maxPlaceholders = 65535

// Report describes one committed batch.
type Report struct {
	Batch     int // 0-based
	Remainder bool
	Rows      int
	Processed int // rows committed so far, this batch included
	Total     int
	Duration  time.Duration
}

// Progress receives a Report after every commit.
type Progress interface {
	BatchCommitted(Report)
}

type ProgressFunc func(Report)

func (f ProgressFunc) BatchCommitted(r Report) { f(r) }

// Summary is what a Write call managed to persist.
type Summary struct {
	Inserted int
	Batches  int
}

type Options struct {
	Table     string
	BatchSize int
	Flavor    sqlbuilder.Flavor
}

// JourneyWriter inserts trips batch by batch, committing after each one.
// Batches committed before a failure stay committed.
type JourneyWriter struct {
	db       *sqlx.DB
	opts     Options
	log      *zap.Logger
	progress []Progress
	state    State
}

func NewJourneyWriter(db *sqlx.DB, opts Options, log *zap.Logger, progress ...Progress) (*JourneyWriter, error) {
	if opts.Table == "" {
		opts.Table = "journeys"
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.BatchSize*len(JourneyColumns) > maxPlaceholders {
		return nil, fmt.Errorf("batch size %d exceeds %d bind parameters", opts.BatchSize, maxPlaceholders)
	}
	if opts.Flavor == 0 {
		opts.Flavor = sqlbuilder.DefaultFlavor
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &JourneyWriter{db: db, opts: opts, log: log, progress: progress}, nil
}

// State returns the current position in the run.
func (w *JourneyWriter) State() State { return w.state }

// Write inserts trips. The connection it uses is held for the whole call and
// released on return. Errors are citybike.LoadError.
func (w *JourneyWriter) Write(ctx context.Context, trips []citybike.Trip) (Summary, error) {
	var sum Summary
	w.transition(State{Phase: Idle})

	conn, err := w.db.Connx(ctx)
	if err != nil {
		w.transition(State{Phase: Failed})
		return sum, citybike.LoadError{Stage: citybike.StageConnect, Source: w.opts.Table, Err: err}
	}
	defer conn.Close()

	full, remainder := Partition(trips, w.opts.BatchSize)
	for i, batch := range full {
		if err := w.commit(ctx, conn, State{Phase: Inserting, Batch: i}, batch, len(trips), &sum); err != nil {
			return sum, err
		}
	}
	// Always runs, including when remainder is empty.
	if err := w.commit(ctx, conn, State{Phase: Inserting, Batch: len(full), Remainder: true}, remainder, len(trips), &sum); err != nil {
		return sum, err
	}

	w.transition(State{Phase: Done})
	return sum, nil
}

func (w *JourneyWriter) commit(ctx context.Context, conn *sqlx.Conn, st State, batch []citybike.Trip, total int, sum *Summary) error {
	start := time.Now()
	w.transition(st)

	fail := func(op string, err error) error {
		w.transition(State{Phase: Failed, Batch: st.Batch, Remainder: st.Remainder})
		return citybike.LoadError{
			Stage:  citybike.StageInsert,
			Source: w.opts.Table,
			Err:    fmt.Errorf("batch %d: %s: %w", st.Batch, op, err),
		}
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	if len(batch) > 0 {
		query, args := w.insert(batch)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fail("insert", errors.Join(err, rollback(tx)))
		}
	}
	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}

	sum.Inserted += len(batch)
	sum.Batches++
	w.transition(State{Phase: Committed, Batch: st.Batch, Remainder: st.Remainder})

	r := Report{
		Batch:     st.Batch,
		Remainder: st.Remainder,
		Rows:      len(batch),
		Processed: sum.Inserted,
		Total:     total,
		Duration:  time.Since(start),
	}
	w.log.Info("batch committed",
		zap.String("table", w.opts.Table),
		zap.Int("batch", r.Batch),
		zap.Bool("remainder", r.Remainder),
		zap.Int("rows", r.Rows),
		zap.Int("processed", r.Processed),
		zap.Int("total", r.Total),
	)
	for _, p := range w.progress {
		p.BatchCommitted(r)
	}
	return nil
}

func (w *JourneyWriter) insert(batch []citybike.Trip) (string, []any) {
	ib := w.opts.Flavor.NewInsertBuilder()
	ib.InsertInto(w.opts.Table)
	ib.Cols(JourneyColumns...)
	for _, t := range batch {
		ib.Values(t.Values()...)
	}
	return ib.Build()
}

func (w *JourneyWriter) transition(s State) {
	w.log.Debug("writer state", zap.Stringer("from", w.state), zap.Stringer("to", s))
	w.state = s
}

func rollback(tx *sqlx.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
