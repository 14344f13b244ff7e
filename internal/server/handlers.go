package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"TrancheLedger/internal/core"
	"TrancheLedger/internal/persistence"
	"TrancheLedger/internal/ratemodel"
	"TrancheLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// Ledger is the read side of the engine served over HTTP.
type Ledger interface {
	Pools() state.TrancheTable
	Pool(tranche int) (state.Tranche, error)
	PoolEpochData(epoch int64, tranche int) (state.EpochRecord, error)
	UserActions(account uuid.UUID) []state.PendingAction
	UserShares(account uuid.UUID) [state.NumTranches]sdkmath.Int
	UserDeposits(account uuid.UUID) [state.NumTranches]sdkmath.Int
	WithdrawableCollateral(account uuid.UUID) sdkmath.Int
	CalculatePoolAmounts() ratemodel.PoolAmounts
	Rates() ratemodel.Rates
	Epoch() int64
	EpochStartTime() time.Time
	Price() sdkmath.Int
	AdminFees() sdkmath.Int
	Sequence() int64
}

// EventLog is the persisted event history.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// Response bodies. Every body carries as_of_sequence, the engine sequence
// read before the view.

type PoolResponse struct {
	Index int           `json:"index"`
	Pool  state.Tranche `json:"pool"`
}

type PoolsResponse struct {
	AsOfSequence   int64          `json:"as_of_sequence"`
	Epoch          int64          `json:"epoch"`
	EpochStartTime time.Time      `json:"epoch_start_time"`
	Price          sdkmath.Int    `json:"price"`
	AdminFees      sdkmath.Int    `json:"admin_fees"`
	Pools          []PoolResponse `json:"pools"`
}

type EpochDataResponse struct {
	AsOfSequence int64             `json:"as_of_sequence"`
	Epoch        int64             `json:"epoch"`
	Index        int               `json:"index"`
	Record       state.EpochRecord `json:"record"`
}

type AccountResponse struct {
	AsOfSequence int64                          `json:"as_of_sequence"`
	Account      uuid.UUID                      `json:"account"`
	Shares       [state.NumTranches]sdkmath.Int `json:"shares"`
	Deposits     [state.NumTranches]sdkmath.Int `json:"deposits"`
	Withdrawable sdkmath.Int                    `json:"withdrawable"`
	Actions      []state.PendingAction          `json:"actions"`
}

type RatesResponse struct {
	AsOfSequence int64           `json:"as_of_sequence"`
	Epoch        int64           `json:"epoch"`
	Rates        ratemodel.Rates `json:"rates"`
}

type AmountsResponse struct {
	AsOfSequence int64                 `json:"as_of_sequence"`
	Amounts      ratemodel.PoolAmounts `json:"amounts"`
}

type EventResponse struct {
	Sequence  int64           `json:"sequence"`
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	Epoch     int64           `json:"epoch"`
	AccountID *uuid.UUID      `json:"account_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	PrevHash  string          `json:"prev_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

type EventsResponse struct {
	LastSequence int64           `json:"last_sequence"`
	Events       []EventResponse `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	deps Deps
}

type routeFunc func(r *http.Request, params map[string]string) (int, interface{})

// NewHandler builds the gateway mux with every view route plus the health
// endpoints.
func NewHandler(deps Deps) (http.Handler, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("server: %w: ledger", core.ErrNilCollaborator)
	}
	h := &handlers{deps: deps}
	mux := runtime.NewServeMux()

	routes := []struct {
		name    string
		pattern string
		fn      routeFunc
	}{
		{"pools", "/v1/pools", h.pools},
		{"pool", "/v1/pools/{index}", h.pool},
		{"epoch_pool", "/v1/epochs/{epoch}/pools/{index}", h.epochPool},
		{"account", "/v1/accounts/{id}", h.account},
		{"rates", "/v1/rates", h.rates},
		{"amounts", "/v1/amounts", h.amounts},
		{"events", "/v1/events", h.events},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(http.MethodGet, rt.pattern, h.instrument(rt.name, rt.fn)); err != nil {
			return nil, fmt.Errorf("register %s: %w", rt.pattern, err)
		}
	}

	if hc := deps.HealthChecker; hc != nil {
		if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			hc.LivenessHandler(w, r)
		}); err != nil {
			return nil, err
		}
		if err := mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			hc.ReadinessHandler(w, r)
		}); err != nil {
			return nil, err
		}
	} else {
		if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (h *handlers) instrument(endpoint string, fn routeFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		code, body := fn(r, params)
		writeJSON(w, code, body)

		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (h *handlers) pools(_ *http.Request, _ map[string]string) (int, interface{}) {
	l := h.deps.Ledger
	resp := PoolsResponse{
		AsOfSequence:   l.Sequence(),
		Epoch:          l.Epoch(),
		EpochStartTime: l.EpochStartTime(),
		Price:          l.Price(),
		AdminFees:      l.AdminFees(),
	}
	table := l.Pools()
	for i, p := range table {
		resp.Pools = append(resp.Pools, PoolResponse{Index: i, Pool: p})
	}
	return http.StatusOK, resp
}

func (h *handlers) pool(_ *http.Request, params map[string]string) (int, interface{}) {
	index, err := strconv.Atoi(params["index"])
	if err != nil {
		return badRequest("index must be an integer")
	}
	p, err := h.deps.Ledger.Pool(index)
	if err != nil {
		return ledgerError(err)
	}
	return http.StatusOK, PoolResponse{Index: index, Pool: p}
}

func (h *handlers) epochPool(_ *http.Request, params map[string]string) (int, interface{}) {
	epoch, err := strconv.ParseInt(params["epoch"], 10, 64)
	if err != nil || epoch < 0 {
		return badRequest("epoch must be a non-negative integer")
	}
	index, err := strconv.Atoi(params["index"])
	if err != nil {
		return badRequest("index must be an integer")
	}
	seq := h.deps.Ledger.Sequence()
	rec, err := h.deps.Ledger.PoolEpochData(epoch, index)
	if err != nil {
		return ledgerError(err)
	}
	return http.StatusOK, EpochDataResponse{AsOfSequence: seq, Epoch: epoch, Index: index, Record: rec}
}

func (h *handlers) account(_ *http.Request, params map[string]string) (int, interface{}) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		return badRequest(fmt.Sprintf("invalid account id: %v", err))
	}
	l := h.deps.Ledger
	return http.StatusOK, AccountResponse{
		AsOfSequence: l.Sequence(),
		Account:      id,
		Shares:       l.UserShares(id),
		Deposits:     l.UserDeposits(id),
		Withdrawable: l.WithdrawableCollateral(id),
		Actions:      l.UserActions(id),
	}
}

func (h *handlers) rates(_ *http.Request, _ map[string]string) (int, interface{}) {
	l := h.deps.Ledger
	return http.StatusOK, RatesResponse{AsOfSequence: l.Sequence(), Epoch: l.Epoch(), Rates: l.Rates()}
}

func (h *handlers) amounts(_ *http.Request, _ map[string]string) (int, interface{}) {
	l := h.deps.Ledger
	return http.StatusOK, AmountsResponse{AsOfSequence: l.Sequence(), Amounts: l.CalculatePoolAmounts()}
}

// events pages through the persisted log: ?from=<sequence>&limit=<n>.
func (h *handlers) events(r *http.Request, _ map[string]string) (int, interface{}) {
	if h.deps.EventLog == nil {
		return http.StatusServiceUnavailable, errorResponse{Error: "event log not configured"}
	}

	from := int64(1)
	if s := r.URL.Query().Get("from"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 1 {
			return badRequest("from must be a positive integer")
		}
		from = v
	}
	limit := defaultEventPage
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return badRequest("limit must be a positive integer")
		}
		if v > maxEventPage {
			v = maxEventPage
		}
		limit = v
	}

	ctx := r.Context()
	last, err := h.deps.EventLog.GetLatestSequence(ctx)
	if err != nil {
		return h.internal("latest sequence", err)
	}
	rows, err := h.deps.EventLog.LoadEventsFrom(ctx, from, limit)
	if err != nil {
		return h.internal("load events", err)
	}

	resp := EventsResponse{LastSequence: last, Events: make([]EventResponse, 0, len(rows))}
	for _, row := range rows {
		resp.Events = append(resp.Events, EventResponse{
			Sequence:  row.Sequence,
			EventID:   row.EventID,
			EventType: row.EventType,
			Epoch:     row.Epoch,
			AccountID: row.AccountID,
			Payload:   json.RawMessage(row.Payload),
			StateHash: hex.EncodeToString(row.StateHash),
			PrevHash:  hex.EncodeToString(row.PrevHash),
			Timestamp: row.Timestamp,
		})
	}
	return http.StatusOK, resp
}

func (h *handlers) internal(what string, err error) (int, interface{}) {
	h.deps.Logger.Error().Err(err).Str("op", what).Msg("query failed")
	return http.StatusInternalServerError, errorResponse{Error: what + " failed"}
}

func badRequest(msg string) (int, interface{}) {
	return http.StatusBadRequest, errorResponse{Error: msg}
}

func ledgerError(err error) (int, interface{}) {
	if errors.Is(err, core.ErrInvalidPool) {
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	}
	return http.StatusBadRequest, errorResponse{Error: err.Error()}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
