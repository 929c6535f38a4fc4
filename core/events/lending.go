package events

import (
	"math/big"
	"strconv"
)

const (
	// TypeInterestAccrued is emitted after a pool's indexes advance.
	TypeInterestAccrued = "lending.interestAccrued"
	// TypeAccrualClamped is emitted when the elapsed time used for an
	// accrual step was clamped to the configured maximum.
	TypeAccrualClamped = "lending.accrualClamped"
	// TypeAccountLiquidated is emitted after a successful liquidation.
	TypeAccountLiquidated = "lending.accountLiquidated"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// InterestAccrued records one accrual step for a pool.
type InterestAccrued struct {
	Pool        string
	DtSeconds   int64
	BorrowIndex *big.Int
	SupplyIndex *big.Int
	Interest    *big.Int
	ReserveCut  *big.Int
}

// Event converts the accrual into the generic event representation.
func (a InterestAccrued) Event() Event {
	return Event{
		Type: TypeInterestAccrued,
		Attributes: map[string]string{
			"pool":        a.Pool,
			"dtSeconds":   strconv.FormatInt(a.DtSeconds, 10),
			"borrowIndex": bigString(a.BorrowIndex),
			"supplyIndex": bigString(a.SupplyIndex),
			"interest":    bigString(a.Interest),
			"reserveCut":  bigString(a.ReserveCut),
		},
	}
}

// AccrualClamped makes dt clamping observable to auditors.
type AccrualClamped struct {
	Pool             string
	RequestedSeconds int64
	ClampedSeconds   int64
}

// Event converts the clamp into the generic event representation.
func (c AccrualClamped) Event() Event {
	return Event{
		Type: TypeAccrualClamped,
		Attributes: map[string]string{
			"pool":             c.Pool,
			"requestedSeconds": strconv.FormatInt(c.RequestedSeconds, 10),
			"clampedSeconds":   strconv.FormatInt(c.ClampedSeconds, 10),
		},
	}
}

// AccountLiquidated records the full audit trail of a liquidation: the repay,
// the seizure and the three-way incentive split.
type AccountLiquidated struct {
	ID              string
	Account         string
	Liquidator      string
	DebtAsset       string
	CollateralAsset string
	Repaid          *big.Int
	Seized          *big.Int
	LiquidatorShare *big.Int
	InsuranceShare  *big.Int
	TreasuryShare   *big.Int
}

// Event converts the liquidation into the generic event representation.
func (l AccountLiquidated) Event() Event {
	return Event{
		Type: TypeAccountLiquidated,
		Attributes: map[string]string{
			"id":              l.ID,
			"account":         l.Account,
			"liquidator":      l.Liquidator,
			"debtAsset":       l.DebtAsset,
			"collateralAsset": l.CollateralAsset,
			"repaid":          bigString(l.Repaid),
			"seized":          bigString(l.Seized),
			"liquidatorShare": bigString(l.LiquidatorShare),
			"insuranceShare":  bigString(l.InsuranceShare),
			"treasuryShare":   bigString(l.TreasuryShare),
		},
	}
}
