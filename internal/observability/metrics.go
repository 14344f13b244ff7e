package observability

import (
	"strconv"

	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/ratemodel"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the tranche ledger.
type Metrics struct {
	// --- Engine ---
	EpochsSettled      prometheus.Counter
	SettlementDuration prometheus.Histogram
	SettlementFailures *prometheus.CounterVec
	PriceSteps         prometheus.Histogram
	CurrentEpoch       prometheus.Gauge
	Price              prometheus.Gauge
	TrancheCollateral  *prometheus.GaugeVec
	TrancheShares      *prometheus.GaugeVec
	Rates              *prometheus.GaugeVec
	AdminFees          prometheus.Gauge
	ActionsQueued      *prometheus.CounterVec
	ActionsRejected    *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	PriceUpdates      *prometheus.CounterVec
	CommandsProcessed *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten     prometheus.Counter
	PersistEpochRatesWritten prometheus.Counter
	PersistBatchSize         prometheus.Histogram
	PersistBatchDur          prometheus.Histogram
	PersistErrors            *prometheus.CounterVec
	PersistLastSequence      prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Engine
		EpochsSettled: f.NewCounter(prometheus.CounterOpts{
			Name: "tranche_epochs_settled_total",
			Help: "Epochs settled",
		}),

		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tranche_settlement_duration_seconds",
			Help:    "Time to settle one epoch",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		SettlementFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_settlement_failures_total",
			Help: "Settlements aborted without state change",
		}, []string{"reason"}),

		PriceSteps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tranche_settlement_price_steps",
			Help:    "Capped price steps applied per settlement",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),

		CurrentEpoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_epoch",
			Help: "Current epoch number",
		}),

		Price: f.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_price",
			Help: "Reference price used at the last settlement",
		}),

		TrancheCollateral: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tranche_collateral",
			Help: "Collateral attributed to a tranche",
		}, []string{"tranche"}),

		TrancheShares: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tranche_shares",
			Help: "Outstanding shares of a tranche",
		}, []string{"tranche"}),

		Rates: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tranche_rate",
			Help: "Annualized rates applied at the next settlement",
		}, []string{"rate"}),

		AdminFees: f.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_admin_fees",
			Help: "Accrued admin fees not yet withdrawn",
		}),

		ActionsQueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_actions_queued_total",
			Help: "Deposits and withdrawals queued",
		}, []string{"action"}),

		ActionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_actions_rejected_total",
			Help: "Operations rejected by validation",
		}, []string{"action", "reason"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tranche_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tranche_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tranche_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "tranche_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "tranche_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Ingestion
		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_price_updates_total",
			Help: "Price feed messages by outcome",
		}, []string{"result"}),

		CommandsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_commands_total",
			Help: "Account command messages by kind and outcome",
		}, []string{"kind", "result"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "tranche_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistEpochRatesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "tranche_persist_epoch_rates_written_total",
			Help: "Epoch exchange-rate rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tranche_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tranche_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "tranche_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tranche_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tranche_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// SetTranche exports one tranche's shares and collateral.
func (m *Metrics) SetTranche(index int, shares, collateral sdkmath.Int) {
	label := strconv.Itoa(index)
	m.TrancheShares.WithLabelValues(label).Set(FixedToFloat(shares))
	m.TrancheCollateral.WithLabelValues(label).Set(FixedToFloat(collateral))
}

// SetRates exports the rate snapshot.
func (m *Metrics) SetRates(r ratemodel.Rates) {
	m.Rates.WithLabelValues("long_funding").Set(FixedToFloat(r.LongFundingRate))
	m.Rates.WithLabelValues("short_funding").Set(FixedToFloat(r.ShortFundingRate))
	m.Rates.WithLabelValues("liquidity_funding").Set(FixedToFloat(r.LiquidityPoolFundingRate))
	m.Rates.WithLabelValues("rebalance").Set(FixedToFloat(r.RebalanceRate))
	m.Rates.WithLabelValues("liquidity_rebalance").Set(FixedToFloat(r.RebalanceLiquidityPoolRate))
}

// FixedToFloat converts an 18-decimal value for export. Precision loss is
// acceptable for gauges only.
func FixedToFloat(v sdkmath.Int) float64 {
	if v.IsNil() {
		return 0
	}
	f, err := strconv.ParseFloat(fpmath.ToDecimal(v), 64)
	if err != nil {
		return 0
	}
	return f
}
