package config

import (
	"fmt"
	"os"
	"time"

	"TrancheLedger/internal/core"
	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/ratemodel"

	sdkmath "cosmossdk.io/math"
	"gopkg.in/yaml.v3"
)

// ParamsFile is the YAML engine parameter file. Fixed-point values are
// written as decimals ("0.003").
type ParamsFile struct {
	Fees        FeesConfig      `yaml:"fees"`
	ChangeCap   string          `yaml:"change_cap"`
	EpochPeriod time.Duration   `yaml:"epoch_period"`
	WaitPeriod  time.Duration   `yaml:"wait_period"`
	RateModel   RateModelConfig `yaml:"rate_model"`
}

type FeesConfig struct {
	TransactionFee string `yaml:"transaction_fee"`
	AdminShare     string `yaml:"admin_share"`
	LiquidityShare string `yaml:"liquidity_share"`
}

type RateModelConfig struct {
	FundingMultiplier   string `yaml:"funding_multiplier"`
	RebalanceMultiplier string `yaml:"rebalance_multiplier"`
	MaxFundingRate      string `yaml:"max_funding_rate"`
	MaxRebalanceRate    string `yaml:"max_rebalance_rate"`
}

// LoadParams reads a YAML parameter file and expands ${VAR} references.
func LoadParams(path string) (*ParamsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var pf ParamsFile
	if err := yaml.Unmarshal([]byte(expanded), &pf); err != nil {
		return nil, fmt.Errorf("parse params yaml: %w", err)
	}
	return &pf, nil
}

// LoadParamsWithDefaults loads the file and fills unset fields.
func LoadParamsWithDefaults(path string) (*ParamsFile, error) {
	pf, err := LoadParams(path)
	if err != nil {
		return nil, err
	}
	pf.applyDefaults()
	return pf, nil
}

// LoadParamsAndValidate loads, applies defaults and validates.
func LoadParamsAndValidate(path string) (*ParamsFile, error) {
	pf, err := LoadParamsWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := pf.Validate(); err != nil {
		return nil, fmt.Errorf("validate params: %w", err)
	}
	return pf, nil
}

// DefaultParamsFile mirrors core.DefaultParams and ratemodel.DefaultParams.
func DefaultParamsFile() *ParamsFile {
	pf := &ParamsFile{}
	pf.applyDefaults()
	return pf
}

func (pf *ParamsFile) applyDefaults() {
	engine := core.DefaultParams()
	rates := ratemodel.DefaultParams()

	setDefault(&pf.Fees.TransactionFee, fpmath.ToDecimal(engine.TransactionFee))
	setDefault(&pf.Fees.AdminShare, fpmath.ToDecimal(engine.AdminFeeShare))
	setDefault(&pf.Fees.LiquidityShare, fpmath.ToDecimal(engine.LiquidityPoolFeeShare))
	setDefault(&pf.ChangeCap, fpmath.ToDecimal(engine.ChangeCap))
	if pf.EpochPeriod == 0 {
		pf.EpochPeriod = engine.EpochPeriod
	}
	if pf.WaitPeriod == 0 {
		pf.WaitPeriod = engine.WaitPeriod
	}
	setDefault(&pf.RateModel.FundingMultiplier, fpmath.ToDecimal(rates.FundingMultiplier))
	setDefault(&pf.RateModel.RebalanceMultiplier, fpmath.ToDecimal(rates.RebalanceMultiplier))
	setDefault(&pf.RateModel.MaxFundingRate, fpmath.ToDecimal(rates.MaxFundingRate))
	setDefault(&pf.RateModel.MaxRebalanceRate, fpmath.ToDecimal(rates.MaxRebalanceRate))
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate parses every value and runs the engine and rate-model checks.
func (pf *ParamsFile) Validate() error {
	engine, rates, err := pf.Resolve()
	if err != nil {
		return err
	}
	if err := engine.Validate(); err != nil {
		return err
	}
	return rates.Validate()
}

// Resolve converts the file into engine and rate-model parameters.
func (pf *ParamsFile) Resolve() (core.Params, ratemodel.Params, error) {
	var (
		engine core.Params
		rates  ratemodel.Params
	)
	fields := []struct {
		name  string
		value string
		dst   *sdkmath.Int
	}{
		{"fees.transaction_fee", pf.Fees.TransactionFee, &engine.TransactionFee},
		{"fees.admin_share", pf.Fees.AdminShare, &engine.AdminFeeShare},
		{"fees.liquidity_share", pf.Fees.LiquidityShare, &engine.LiquidityPoolFeeShare},
		{"change_cap", pf.ChangeCap, &engine.ChangeCap},
		{"rate_model.funding_multiplier", pf.RateModel.FundingMultiplier, &rates.FundingMultiplier},
		{"rate_model.rebalance_multiplier", pf.RateModel.RebalanceMultiplier, &rates.RebalanceMultiplier},
		{"rate_model.max_funding_rate", pf.RateModel.MaxFundingRate, &rates.MaxFundingRate},
		{"rate_model.max_rebalance_rate", pf.RateModel.MaxRebalanceRate, &rates.MaxRebalanceRate},
	}
	for _, f := range fields {
		v, err := fpmath.FromDecimal(f.value)
		if err != nil {
			return core.Params{}, ratemodel.Params{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	engine.EpochPeriod = pf.EpochPeriod
	engine.WaitPeriod = pf.WaitPeriod
	return engine, rates, nil
}
