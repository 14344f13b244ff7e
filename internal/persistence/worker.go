package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TrancheLedger/internal/core"
	"TrancheLedger/internal/event"
	"TrancheLedger/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotSource captures the engine state to commit alongside a batch.
type SnapshotSource func() (core.Snapshot, error)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends to this channel with blocking sends, so a slow worker
// stalls the engine instead of losing events.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	snapshots *SnapshotManager
	source    SnapshotSource
}

type batch struct {
	events []EventRow
	rates  []EpochRateRow
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.rates = b.rates[:0]
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// SnapshotWith commits a snapshot from source in every batch transaction.
// The source runs after the batch was built, so the snapshot is never
// behind the events it is committed with and the log never runs ahead of
// the latest snapshot.
func (pw *PersistenceWorker) SnapshotWith(mgr *SnapshotManager, source SnapshotSource) {
	pw.snapshots = mgr
	pw.source = source
}

// Run batches incoming envelopes and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	b := &batch{
		events: make([]EventRow, 0, pw.batchSize),
		rates:  make([]EpochRateRow, 0, pw.batchSize),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(b.events) > 0 {
				if err := pw.flush(context.Background(), b); err != nil {
					pw.logger.Error().Err(err).Int("events", len(b.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-pw.inputChan:
			if !ok {
				if len(b.events) > 0 {
					if err := pw.flush(context.Background(), b); err != nil {
						pw.logger.Error().Err(err).Int("events", len(b.events)).Msg("final flush failed")
					}
				}
				return nil
			}

			row, rates, err := RowsFromEnvelope(env)
			if err != nil {
				pw.logger.Error().Err(err).Int64("sequence", env.Sequence).Msg("skipping unencodable event")
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				continue
			}
			b.events = append(b.events, row)
			b.rates = append(b.rates, rates...)

			if len(b.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				b.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(b.events) > 0 {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				b.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(b.events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), b); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, b.events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteEpochRateBatch(ctx, tx, b.rates); err != nil {
		pw.countError("write_epoch_rates")
		return err
	}

	last := b.events[len(b.events)-1].Sequence
	var (
		snapSeq  int64
		snapSize int
	)
	if pw.source != nil {
		snap, err := pw.source()
		if err != nil {
			pw.countError("snapshot")
			return err
		}
		if snap.Sequence < last {
			pw.countError("snapshot")
			return fmt.Errorf("snapshot at %d is behind flushed event %d", snap.Sequence, last)
		}
		if snapSize, err = saveSnapshot(ctx, tx, snap, time.Now()); err != nil {
			pw.countError("write_snapshot")
			return err
		}
		snapSeq = snap.Sequence
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(b.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(b.events)))
		pw.metrics.PersistEpochRatesWritten.Add(float64(len(b.rates)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}
	if pw.source != nil {
		pw.snapshots.observe(start, snapSize, snapSeq)
		pw.logger.Debug().Int64("flushed", last).Int64("snapshot", snapSeq).Msg("batch committed with snapshot")
	}
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
