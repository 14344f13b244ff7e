package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TrancheLedger/internal/core"
	"TrancheLedger/internal/observability"

	"github.com/google/uuid"
)

// snapshotFormatVersion is bumped whenever core.Snapshot changes shape.
const snapshotFormatVersion int32 = 2

var (
	// ErrSnapshotMismatch is returned by Verify when the snapshot's state
	// hash disagrees with the persisted event at the same sequence.
	ErrSnapshotMismatch = errors.New("snapshot state hash does not match event log")

	// ErrSnapshotAhead is returned by Verify when the event at the snapshot
	// sequence was never persisted.
	ErrSnapshotAhead = errors.New("snapshot is ahead of the event log")
)

// SnapshotManager stores engine snapshots and reads back the event log.
// The engine restarts from the latest snapshot; events are the audit trail.
type SnapshotManager struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics) *SnapshotManager {
	return &SnapshotManager{db: db, metrics: metrics}
}

// SaveSnapshot persists a snapshot, replacing any previous one at the same
// sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap core.Snapshot, takenAt time.Time) error {
	start := time.Now()
	size, err := saveSnapshot(ctx, sm.db, snap, takenAt)
	if err != nil {
		return err
	}
	sm.observe(start, size, snap.Sequence)
	return nil
}

// saveSnapshot writes one snapshot row through db or an open transaction
// and returns the encoded size.
func saveSnapshot(ctx context.Context, db execer, snap core.Snapshot, takenAt time.Time) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO tranche_ledger.snapshots
			(snapshot_id, sequence, epoch, data, state_hash, format_version, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO UPDATE SET data = $4, state_hash = $5, size_bytes = $7
	`, uuid.New(), snap.Sequence, snap.Epoch, string(data), snap.StateHash[:], snapshotFormatVersion, len(data), takenAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot at %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

func (sm *SnapshotManager) observe(start time.Time, size int, sequence int64) {
	if sm.metrics == nil {
		return
	}
	sm.metrics.SnapshotTaken.Inc()
	sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	sm.metrics.SnapshotSizeBytes.Set(float64(size))
	sm.metrics.SnapshotLastSeq.Set(float64(sequence))
}

// LoadLatestSnapshot returns the snapshot with the highest sequence, or nil
// on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.Snapshot, error) {
	var (
		data    []byte
		version int32
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM tranche_ledger.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format version %d, want %d", version, snapshotFormatVersion)
	}

	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Verify checks the snapshot's hash against the event persisted at the same
// sequence. A snapshot taken before any event (sequence 0) always passes.
func (sm *SnapshotManager) Verify(ctx context.Context, snap core.Snapshot) error {
	if snap.Sequence == 0 {
		return nil
	}
	var hash []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM tranche_ledger.events WHERE sequence = $1
	`, snap.Sequence).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: event %d not persisted", ErrSnapshotAhead, snap.Sequence)
	}
	if err != nil {
		return fmt.Errorf("load event %d: %w", snap.Sequence, err)
	}
	if !bytes.Equal(hash, snap.StateHash[:]) {
		return fmt.Errorf("%w at sequence %d", ErrSnapshotMismatch, snap.Sequence)
	}
	return nil
}

// LoadEventsFrom returns up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, epoch, account_id, payload,
		       state_hash, prev_hash, timestamp
		FROM tranche_ledger.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e       EventRow
			account uuid.NullUUID
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.Epoch, &account,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if account.Valid {
			id := account.UUID
			e.AccountID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM tranche_ledger.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
