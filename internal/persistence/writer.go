package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TrancheLedger/internal/event"

	"github.com/google/uuid"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events and finalized epoch rates to Postgres using
// multi-row INSERTs. Writes are idempotent on their natural keys so a
// retried batch never duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in tranche_ledger.events
type EventRow struct {
	Sequence  int64
	EventID   uuid.UUID
	EventType string
	Epoch     int64
	AccountID *uuid.UUID
	Payload   []byte // JSON-encoded event payload, bound as text for JSONB
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// EpochRateRow represents a row in tranche_ledger.epoch_rates. Amounts are
// fixed-point integers rendered in base 10 and stored as NUMERIC(78,0).
type EpochRateRow struct {
	Epoch                      int64
	Tranche                    int
	SharesPerCollateralDeposit string
	CollateralPerShareWithdraw string
	Deposits                   string
	Withdrawals                string
	Shares                     string
	Collateral                 string
	Sequence                   int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromEnvelope converts an engine envelope into its event row and, for
// EpochSettled, one epoch-rate row per tranche.
func RowsFromEnvelope(env event.Envelope) (EventRow, []EpochRateRow, error) {
	if env.Payload == nil {
		return EventRow{}, nil, fmt.Errorf("envelope %d has no payload", env.Sequence)
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, nil, fmt.Errorf("marshal payload for sequence %d: %w", env.Sequence, err)
	}

	stateHash := env.StateHash
	prevHash := env.PrevHash
	row := EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID,
		EventType: env.EventType.String(),
		Epoch:     env.Epoch,
		AccountID: env.Payload.AccountID(),
		Payload:   payload,
		StateHash: stateHash[:],
		PrevHash:  prevHash[:],
		Timestamp: env.Timestamp,
	}

	settled, ok := env.Payload.(*event.EpochSettled)
	if !ok {
		return row, nil, nil
	}

	rates := make([]EpochRateRow, 0, len(settled.Tranches))
	for _, t := range settled.Tranches {
		rates = append(rates, EpochRateRow{
			Epoch:                      settled.ClosedEpoch,
			Tranche:                    t.Index,
			SharesPerCollateralDeposit: t.SharesPerCollateralDeposit.String(),
			CollateralPerShareWithdraw: t.CollateralPerShareWithdraw.String(),
			Deposits:                   t.Deposits.String(),
			Withdrawals:                t.Withdrawals.String(),
			Shares:                     t.Shares.String(),
			Collateral:                 t.Collateral.String(),
			Sequence:                   env.Sequence,
		})
	}
	return row, rates, nil
}

// WriteEventBatch writes a batch of events to tranche_ledger.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildEventInsert(events)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteEpochRateBatch writes finalized exchange rates to tranche_ledger.epoch_rates.
func (w *EventLogWriter) WriteEpochRateBatch(ctx context.Context, tx execer, rates []EpochRateRow) error {
	if len(rates) == 0 {
		return nil
	}
	query, args := buildEpochRateInsert(rates)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func buildEventInsert(events []EventRow) (string, []interface{}) {
	const cols = 9
	query := `INSERT INTO tranche_ledger.events
		(sequence, event_id, event_type, epoch, account_id, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.Epoch, e.AccountID,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"
	return query, args
}

func buildEpochRateInsert(rates []EpochRateRow) (string, []interface{}) {
	const cols = 9
	query := `INSERT INTO tranche_ledger.epoch_rates
		(epoch, tranche, shares_per_collateral_deposit, collateral_per_share_withdraw,
		 deposits, withdrawals, shares, collateral, sequence)
		VALUES `

	values := make([]string, 0, len(rates))
	args := make([]interface{}, 0, len(rates)*cols)
	for i, r := range rates {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.Epoch, r.Tranche, r.SharesPerCollateralDeposit, r.CollateralPerShareWithdraw,
			r.Deposits, r.Withdrawals, r.Shares, r.Collateral, r.Sequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (epoch, tranche) DO NOTHING"
	return query, args
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
