package lending

import (
	"errors"
	"time"
)

// RiskParameters groups the governance-controlled safety limits.
type RiskParameters struct {
	// LiquidationThresholdBps is the health ratio below which an account
	// becomes liquidation-eligible, in basis points. 11000 means 1.10.
	LiquidationThresholdBps uint64
	// CloseFactorBps caps the share of outstanding debt repayable in a
	// single liquidation call.
	CloseFactorBps uint64
	// LiquidationPenaltyBps is the collateral premium granted on seizure.
	LiquidationPenaltyBps uint64
	// MaxAccrualDt bounds the elapsed time applied by one accrual step.
	MaxAccrualDt time.Duration
}

// Normalized fills unset parameters with conservative defaults.
func (p RiskParameters) Normalized() RiskParameters {
	out := p
	if out.LiquidationThresholdBps == 0 {
		out.LiquidationThresholdBps = 11_000
	}
	if out.CloseFactorBps == 0 || out.CloseFactorBps > 10_000 {
		out.CloseFactorBps = 5_000
	}
	if out.MaxAccrualDt <= 0 {
		out.MaxAccrualDt = 24 * time.Hour
	}
	return out
}

// LiquidationSplit fixes the three-way routing of seized collateral. The
// shares must cover the whole seizure; any rounding remainder lands on the
// treasury share so value is never dropped.
type LiquidationSplit struct {
	LiquidatorBps uint64
	InsuranceBps  uint64
	TreasuryBps   uint64
}

var errSplitSum = errors.New("lending: liquidation split must sum to 10000 bps")

// Validate checks the shares cover the seizure exactly.
func (s LiquidationSplit) Validate() error {
	if s.LiquidatorBps+s.InsuranceBps+s.TreasuryBps != 10_000 {
		return errSplitSum
	}
	return nil
}

// DefaultLiquidationSplit routes 70% of a seizure to the liquidator, 20% to
// the insurance fund and 10% to the treasury.
var DefaultLiquidationSplit = LiquidationSplit{
	LiquidatorBps: 7_000,
	InsuranceBps:  2_000,
	TreasuryBps:   1_000,
}

// ActionPauses exposes fine-grained switches for pausing individual flows.
type ActionPauses struct {
	Deposit   bool
	Withdraw  bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}
