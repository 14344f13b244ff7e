package state

import (
	"fmt"
	"sort"

	fpmath "TrancheLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

// EpochKey addresses the exchange-rate record of one tranche in one epoch.
type EpochKey struct {
	Epoch   int64 `json:"epoch"`
	Tranche int   `json:"tranche"`
}

// EpochRecord accumulates the deposits and share withdrawals queued for an
// epoch. The two exchange rates are written once, when that epoch closes.
type EpochRecord struct {
	SharesPerCollateralDeposit sdkmath.Int `json:"shares_per_collateral_deposit"`
	CollateralPerShareWithdraw sdkmath.Int `json:"collateral_per_share_withdraw"`
	Deposits                   sdkmath.Int `json:"deposits"`
	Withdrawals                sdkmath.Int `json:"withdrawals"`
	Settled                    bool        `json:"settled"`
}

func emptyRecord() EpochRecord {
	return EpochRecord{
		SharesPerCollateralDeposit: fpmath.Zero(),
		CollateralPerShareWithdraw: fpmath.Zero(),
		Deposits:                   fpmath.Zero(),
		Withdrawals:                fpmath.Zero(),
	}
}

// HasActivity reports whether anything was queued against the record.
func (r EpochRecord) HasActivity() bool {
	return r.Deposits.IsPositive() || r.Withdrawals.IsPositive()
}

// EpochBook stores EpochRecords keyed by (epoch, tranche).
type EpochBook struct {
	records map[EpochKey]*EpochRecord
}

func NewEpochBook() *EpochBook {
	return &EpochBook{
		records: make(map[EpochKey]*EpochRecord),
	}
}

// Get returns the record, or an empty one if nothing was queued.
func (b *EpochBook) Get(epoch int64, tranche int) EpochRecord {
	if r, ok := b.records[EpochKey{Epoch: epoch, Tranche: tranche}]; ok {
		return *r
	}
	return emptyRecord()
}

func (b *EpochBook) entry(epoch int64, tranche int) *EpochRecord {
	key := EpochKey{Epoch: epoch, Tranche: tranche}
	r, ok := b.records[key]
	if !ok {
		rec := emptyRecord()
		r = &rec
		b.records[key] = r
	}
	return r
}

// AddDeposit adds a queued deposit to an open epoch.
func (b *EpochBook) AddDeposit(epoch int64, tranche int, amount sdkmath.Int) error {
	r := b.entry(epoch, tranche)
	if r.Settled {
		return fmt.Errorf("epoch %d tranche %d already settled", epoch, tranche)
	}
	r.Deposits = r.Deposits.Add(amount)
	return nil
}

// AddWithdrawal adds queued shares to an open epoch.
func (b *EpochBook) AddWithdrawal(epoch int64, tranche int, shares sdkmath.Int) error {
	r := b.entry(epoch, tranche)
	if r.Settled {
		return fmt.Errorf("epoch %d tranche %d already settled", epoch, tranche)
	}
	r.Withdrawals = r.Withdrawals.Add(shares)
	return nil
}

// Finalize writes the exchange rates of a closing epoch. A record can be
// finalized only once.
func (b *EpochBook) Finalize(epoch int64, tranche int, sharesPerDeposit, collateralPerShare sdkmath.Int) error {
	r := b.entry(epoch, tranche)
	if r.Settled {
		return fmt.Errorf("epoch %d tranche %d already settled", epoch, tranche)
	}
	r.SharesPerCollateralDeposit = sharesPerDeposit
	r.CollateralPerShareWithdraw = collateralPerShare
	r.Settled = true
	return nil
}

// EpochRecordEntry is a flattened record for snapshots.
type EpochRecordEntry struct {
	EpochKey
	EpochRecord
}

// Entries returns all records ordered by epoch then tranche.
func (b *EpochBook) Entries() []EpochRecordEntry {
	out := make([]EpochRecordEntry, 0, len(b.records))
	for k, r := range b.records {
		out = append(out, EpochRecordEntry{EpochKey: k, EpochRecord: *r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].Tranche < out[j].Tranche
	})
	return out
}

// RestoreEpochBook rebuilds a book from snapshot entries.
func RestoreEpochBook(entries []EpochRecordEntry) *EpochBook {
	b := NewEpochBook()
	for _, e := range entries {
		rec := e.EpochRecord
		b.records[e.EpochKey] = &rec
	}
	return b
}
