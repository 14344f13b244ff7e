package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"TrancheLedger/internal/config"
	"TrancheLedger/internal/core"
	fpmath "TrancheLedger/internal/math"
)

// ============================================================================
// Test: Environment
// ============================================================================

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("TRANCHE_HTTP_ADDR", "")
	t.Setenv("TRANCHE_EPOCH_POLL", "")

	cfg := config.FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http addr: got %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.EpochPoll != 5*time.Second {
		t.Errorf("epoch poll: got %s, want 5s", cfg.EpochPoll)
	}
	if cfg.PersistBatchSize != 50 {
		t.Errorf("batch size: got %d, want 50", cfg.PersistBatchSize)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TRANCHE_HTTP_ADDR", ":18080")
	t.Setenv("TRANCHE_PERSIST_BATCH_SIZE", "200")
	t.Setenv("TRANCHE_EPOCH_POLL", "250ms")
	t.Setenv("TRANCHE_PUBLISH_CHAN_SIZE", "not-a-number")

	cfg := config.FromEnv()
	if cfg.HTTPAddr != ":18080" {
		t.Errorf("http addr: got %q", cfg.HTTPAddr)
	}
	if cfg.PersistBatchSize != 200 {
		t.Errorf("batch size: got %d, want 200", cfg.PersistBatchSize)
	}
	if cfg.EpochPoll != 250*time.Millisecond {
		t.Errorf("epoch poll: got %s, want 250ms", cfg.EpochPoll)
	}
	if cfg.PublishChanSize != 2048 {
		t.Errorf("malformed int should fall back: got %d", cfg.PublishChanSize)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("TRANCHE_GRPC_ADDR=:19090\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Registered so the variable is restored after the test.
	t.Setenv("TRANCHE_GRPC_ADDR", "")
	os.Unsetenv("TRANCHE_GRPC_ADDR")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GRPCAddr != ":19090" {
		t.Errorf("grpc addr: got %q, want :19090", cfg.GRPCAddr)
	}
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing env file: %v", err)
	}
}

// ============================================================================
// Test: Params file
// ============================================================================

func writeParams(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParams_ExpandsEnvAndResolves(t *testing.T) {
	t.Setenv("TEST_TX_FEE", "0.001")
	path := writeParams(t, `
fees:
  transaction_fee: "${TEST_TX_FEE}"
  admin_share: "0.3"
  liquidity_share: "0.7"
change_cap: "0.1"
epoch_period: 1h
rate_model:
  funding_multiplier: "0"
  max_rebalance_rate: "1000000000000000000"
`)

	pf, err := config.LoadParamsAndValidate(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	engine, rates, err := pf.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if !engine.TransactionFee.Equal(fpmath.MustParseInt("1000000000000000")) {
		t.Errorf("transaction fee: got %s", engine.TransactionFee)
	}
	if !engine.ChangeCap.Equal(fpmath.MustFromDecimal("0.1")) {
		t.Errorf("change cap: got %s", engine.ChangeCap)
	}
	if engine.EpochPeriod != time.Hour {
		t.Errorf("epoch period: got %s, want 1h", engine.EpochPeriod)
	}
	if engine.WaitPeriod != 90*time.Second {
		t.Errorf("wait period default: got %s, want 1m30s", engine.WaitPeriod)
	}
	if !rates.FundingMultiplier.IsZero() {
		t.Errorf("funding multiplier: got %s, want 0", rates.FundingMultiplier)
	}
	if !rates.RebalanceMultiplier.Equal(fpmath.One) {
		t.Errorf("rebalance multiplier default: got %s", rates.RebalanceMultiplier)
	}
	if !rates.MaxRebalanceRate.Equal(fpmath.MustParseInt("1000000000000000000000000000000000000")) {
		t.Errorf("max rebalance rate: got %s", rates.MaxRebalanceRate)
	}
}

func TestLoadParams_RejectsInvalidFees(t *testing.T) {
	path := writeParams(t, `
fees:
  transaction_fee: "0.001"
  admin_share: "0.4"
  liquidity_share: "0.7"
`)
	if _, err := config.LoadParamsAndValidate(path); !errors.Is(err, core.ErrInvalidFees) {
		t.Errorf("got %v, want ErrInvalidFees", err)
	}
}

func TestLoadParams_RejectsMalformedDecimal(t *testing.T) {
	path := writeParams(t, `change_cap: "five percent"`)
	if _, err := config.LoadParamsAndValidate(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultParamsFile_MatchesEngineDefaults(t *testing.T) {
	engine, rates, err := config.DefaultParamsFile().Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := core.DefaultParams()
	if !engine.TransactionFee.Equal(want.TransactionFee) || !engine.ChangeCap.Equal(want.ChangeCap) {
		t.Errorf("engine defaults: got %+v, want %+v", engine, want)
	}
	if engine.EpochPeriod != want.EpochPeriod {
		t.Errorf("epoch period: got %s, want %s", engine.EpochPeriod, want.EpochPeriod)
	}
	if !rates.MaxFundingRate.Equal(fpmath.One) {
		t.Errorf("max funding rate: got %s", rates.MaxFundingRate)
	}
}
