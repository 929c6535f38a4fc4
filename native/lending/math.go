package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// ray is the fixed-point base for pool indexes: an index of 1e18 is 1.0x.
	ray = big.NewInt(1_000_000_000_000_000_000)
)

// Units is an actual redeemable or owed token amount. Scaled is a balance
// expressed as a multiple of a pool index. The two are distinct types with no
// cross-arithmetic, so a balance can only move between the spaces through an
// explicit index conversion.
type Units struct {
	amt *big.Int
}

// Scaled is an index-relative balance. See Units.
type Scaled struct {
	amt *big.Int
}

// NewUnits wraps a copy of v as a unit amount. A nil value is zero.
func NewUnits(v *big.Int) Units {
	if v == nil {
		return Units{amt: big.NewInt(0)}
	}
	return Units{amt: new(big.Int).Set(v)}
}

// UnitsFromUint64 is a convenience constructor for tests and configuration.
func UnitsFromUint64(v uint64) Units {
	return Units{amt: new(big.Int).SetUint64(v)}
}

// NewScaled wraps a copy of v as a scaled amount. A nil value is zero.
func NewScaled(v *big.Int) Scaled {
	if v == nil {
		return Scaled{amt: big.NewInt(0)}
	}
	return Scaled{amt: new(big.Int).Set(v)}
}

func (u Units) value() *big.Int {
	if u.amt == nil {
		return big.NewInt(0)
	}
	return u.amt
}

// BigInt returns a copy of the underlying integer.
func (u Units) BigInt() *big.Int { return new(big.Int).Set(u.value()) }

func (u Units) Sign() int          { return u.value().Sign() }
func (u Units) IsZero() bool       { return u.value().Sign() == 0 }
func (u Units) Cmp(o Units) int    { return u.value().Cmp(o.value()) }
func (u Units) String() string     { return u.value().String() }
func (u Units) Add(o Units) Units  { return Units{amt: new(big.Int).Add(u.value(), o.value())} }
func (u Units) Sub(o Units) Units  { return Units{amt: new(big.Int).Sub(u.value(), o.value())} }

// Min returns the smaller of the two amounts.
func (u Units) Min(o Units) Units {
	if u.Cmp(o) <= 0 {
		return NewUnits(u.value())
	}
	return NewUnits(o.value())
}

func (s Scaled) value() *big.Int {
	if s.amt == nil {
		return big.NewInt(0)
	}
	return s.amt
}

// BigInt returns a copy of the underlying integer.
func (s Scaled) BigInt() *big.Int { return new(big.Int).Set(s.value()) }

func (s Scaled) Sign() int           { return s.value().Sign() }
func (s Scaled) IsZero() bool        { return s.value().Sign() == 0 }
func (s Scaled) Cmp(o Scaled) int    { return s.value().Cmp(o.value()) }
func (s Scaled) String() string      { return s.value().String() }
func (s Scaled) Add(o Scaled) Scaled { return Scaled{amt: new(big.Int).Add(s.value(), o.value())} }
func (s Scaled) Sub(o Scaled) Scaled { return Scaled{amt: new(big.Int).Sub(s.value(), o.value())} }

// Min returns the smaller of the two amounts.
func (s Scaled) Min(o Scaled) Scaled {
	if s.Cmp(o) <= 0 {
		return NewScaled(s.value())
	}
	return NewScaled(o.value())
}

// ToUnits converts the scaled balance through the supplied index, rounding
// down. unit_balance = scaled_balance * index / ray.
func (s Scaled) ToUnits(index *big.Int) Units {
	if index == nil || index.Sign() == 0 {
		return Units{amt: big.NewInt(0)}
	}
	return Units{amt: mulDiv(s.value(), index, ray)}
}

// ToScaled converts the unit amount through the supplied index, rounding
// down. Used when crediting balances so rounding favors the pool.
func (u Units) ToScaled(index *big.Int) Scaled {
	if index == nil || index.Sign() == 0 {
		return Scaled{amt: big.NewInt(0)}
	}
	return Scaled{amt: mulDiv(u.value(), ray, index)}
}

// ToScaledCeil converts the unit amount through the supplied index, rounding
// up. Used when recording debt or debiting balances so rounding never
// under-counts what an account owes.
func (u Units) ToScaledCeil(index *big.Int) Scaled {
	if index == nil || index.Sign() == 0 {
		return Scaled{amt: big.NewInt(0)}
	}
	return Scaled{amt: mulDivCeil(u.value(), ray, index)}
}

// mulDiv computes floor(a*b/den) with an arbitrary-width intermediate so the
// product can never overflow before the division narrows it.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// mulDivCeil computes ceil(a*b/den) for non-negative inputs.
func mulDivCeil(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	prod := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(prod, den, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// bpsShare computes floor(amount*bps/10000).
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// rayMul computes floor(a*b/ray), the multiplicative index update.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	return mulDiv(a, b, ray)
}

// pow10 returns 10^n as a big integer.
func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
