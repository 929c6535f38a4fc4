package lending

import "math/big"

const secondsPerYear = 31_536_000

// InterestModel encapsulates the kinked rate curve that shapes how borrow
// rates react to pool utilization.
type InterestModel struct {
	// BaseRate is the minimum annual borrow rate at zero utilization.
	BaseRate *big.Rat
	// Slope is the rate increase per unit of utilization up to the kink.
	Slope *big.Rat
	// JumpSlope is the additional increase applied beyond the kink.
	JumpSlope *big.Rat
	// Kink is the utilization ratio where the curve steepens.
	Kink *big.Rat
}

// NewInterestModel constructs a model from decimal inputs, e.g. a 2% base
// rate is 0.02 and an 80% kink is 0.8.
func NewInterestModel(baseRate, slope, jumpSlope, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate:  new(big.Rat),
		Slope:     new(big.Rat),
		JumpSlope: new(big.Rat),
		Kink:      new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope.SetFloat64(slope)
	model.JumpSlope.SetFloat64(jumpSlope)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	clone := &InterestModel{
		BaseRate:  new(big.Rat),
		Slope:     new(big.Rat),
		JumpSlope: new(big.Rat),
		Kink:      new(big.Rat),
	}
	if m.BaseRate != nil {
		clone.BaseRate.Set(m.BaseRate)
	}
	if m.Slope != nil {
		clone.Slope.Set(m.Slope)
	}
	if m.JumpSlope != nil {
		clone.JumpSlope.Set(m.JumpSlope)
	}
	if m.Kink != nil {
		clone.Kink.Set(m.Kink)
	}
	return clone
}

// Utilization computes U = totalBorrow / totalSupply. When no liquidity
// exists the utilization is defined as zero.
func (m *InterestModel) Utilization(totalBorrow, totalSupply Units) *big.Rat {
	if totalBorrow.Sign() == 0 || totalSupply.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrow.value(), totalSupply.value())
}

// BorrowRate derives the annual borrow rate for the current utilization.
func (m *InterestModel) BorrowRate(totalBorrow, totalSupply Units) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilization := m.Utilization(totalBorrow, totalSupply)
	if utilization.Sign() == 0 {
		return rate
	}

	kink := cloneRat(m.Kink)
	slope := cloneRat(m.Slope)
	if kink.Sign() == 0 || utilization.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope, utilization))
	}

	// Rate at the kink, then the jump slope beyond it.
	rate.Add(rate, new(big.Rat).Mul(slope, kink))
	excess := new(big.Rat).Sub(utilization, kink)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.JumpSlope), excess))
}

// SupplyRate derives the annual supplier rate: the borrow rate earned on the
// utilized share of the pool, net of the reserve factor.
func (m *InterestModel) SupplyRate(totalBorrow, totalSupply Units, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	borrowRate := m.BorrowRate(totalBorrow, totalSupply)
	if borrowRate.Sign() == 0 {
		return new(big.Rat)
	}
	utilization := m.Utilization(totalBorrow, totalSupply)
	if utilization.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	reserve := new(big.Rat).SetFrac(new(big.Int).SetUint64(reserveFactorBps), basisPoints)
	oneMinus := new(big.Rat).Sub(big.NewRat(1, 1), reserve)
	rate := new(big.Rat).Mul(borrowRate, utilization)
	return rate.Mul(rate, oneMinus)
}

// rateFactor converts an annual rate applied for dt seconds into a ray-based
// multiplicative index factor: 1 + rate*dt/year.
func rateFactor(rate *big.Rat, dtSeconds int64) *big.Int {
	if rate == nil || rate.Sign() == 0 || dtSeconds <= 0 {
		return new(big.Int).Set(ray)
	}
	step := new(big.Rat).Set(rate)
	step.Mul(step, new(big.Rat).SetInt64(dtSeconds))
	step.Quo(step, new(big.Rat).SetInt64(secondsPerYear))
	factor := new(big.Rat).Add(big.NewRat(1, 1), step)
	return ratToRay(factor)
}

// computeInterest returns floor(total * rate * dt / year).
func computeInterest(total Units, rate *big.Rat, dtSeconds int64) *big.Int {
	if total.Sign() == 0 || rate == nil || rate.Sign() == 0 || dtSeconds <= 0 {
		return big.NewInt(0)
	}
	step := new(big.Rat).Set(rate)
	step.Mul(step, new(big.Rat).SetInt64(dtSeconds))
	step.Quo(step, new(big.Rat).SetInt64(secondsPerYear))
	interest := new(big.Rat).Mul(step, new(big.Rat).SetInt(total.value()))
	return new(big.Int).Quo(interest.Num(), interest.Denom())
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	out := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if out.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return out
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides a kinked curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
