package lending

import (
	"math/big"
	"testing"
)

// kinkedModel is 2% base, 10% slope to an 80% kink, 100% jump beyond it,
// built from exact rationals.
func kinkedModel() *InterestModel {
	return &InterestModel{
		BaseRate:  big.NewRat(1, 50),
		Slope:     big.NewRat(1, 10),
		JumpSlope: big.NewRat(1, 1),
		Kink:      big.NewRat(4, 5),
	}
}

func TestUtilization(t *testing.T) {
	model := kinkedModel()
	if got := model.Utilization(UnitsFromUint64(0), UnitsFromUint64(100)); got.Sign() != 0 {
		t.Fatalf("utilization with no debt = %s, want 0", got)
	}
	if got := model.Utilization(UnitsFromUint64(50), UnitsFromUint64(0)); got.Sign() != 0 {
		t.Fatalf("utilization with no supply = %s, want 0", got)
	}
	if got := model.Utilization(UnitsFromUint64(50), UnitsFromUint64(200)); got.Cmp(big.NewRat(1, 4)) != 0 {
		t.Fatalf("utilization = %s, want 1/4", got)
	}
}

func TestBorrowRateBelowKink(t *testing.T) {
	model := kinkedModel()
	// U = 0.5: rate = 0.02 + 0.1*0.5 = 0.07.
	got := model.BorrowRate(UnitsFromUint64(50), UnitsFromUint64(100))
	if got.Cmp(big.NewRat(7, 100)) != 0 {
		t.Fatalf("rate at U=0.5 is %s, want 7/100", got)
	}
}

func TestBorrowRateAtKink(t *testing.T) {
	model := kinkedModel()
	// U = 0.8 sits exactly on the kink: rate = 0.02 + 0.1*0.8 = 0.10.
	got := model.BorrowRate(UnitsFromUint64(80), UnitsFromUint64(100))
	if got.Cmp(big.NewRat(1, 10)) != 0 {
		t.Fatalf("rate at kink is %s, want 1/10", got)
	}
}

func TestBorrowRateAboveKink(t *testing.T) {
	model := kinkedModel()
	// U = 0.9: rate = 0.02 + 0.1*0.8 + 1.0*(0.9-0.8) = 0.20.
	got := model.BorrowRate(UnitsFromUint64(90), UnitsFromUint64(100))
	if got.Cmp(big.NewRat(1, 5)) != 0 {
		t.Fatalf("rate above kink is %s, want 1/5", got)
	}
}

func TestBorrowRateIdleAtBase(t *testing.T) {
	model := kinkedModel()
	got := model.BorrowRate(UnitsFromUint64(0), UnitsFromUint64(100))
	if got.Cmp(big.NewRat(1, 50)) != 0 {
		t.Fatalf("idle rate = %s, want base 1/50", got)
	}
}

func TestSupplyRateNetsReserve(t *testing.T) {
	model := kinkedModel()
	// U = 0.5, borrow rate 0.07: suppliers earn 0.07*0.5*(1-0.1) = 0.0315.
	got := model.SupplyRate(UnitsFromUint64(50), UnitsFromUint64(100), 1_000)
	if got.Cmp(big.NewRat(315, 10_000)) != 0 {
		t.Fatalf("supply rate = %s, want 315/10000", got)
	}
	// A full reserve factor gives suppliers nothing.
	if got := model.SupplyRate(UnitsFromUint64(50), UnitsFromUint64(100), 10_000); got.Sign() != 0 {
		t.Fatalf("supply rate at 100%% reserve = %s, want 0", got)
	}
}

func TestRateFactorExactYear(t *testing.T) {
	// 10% for exactly one year: factor = 1.1 ray.
	got := rateFactor(big.NewRat(1, 10), secondsPerYear)
	want := new(big.Int).Quo(new(big.Int).Mul(ray, big.NewInt(11)), big.NewInt(10))
	if got.Cmp(want) != 0 {
		t.Fatalf("rateFactor = %s, want %s", got, want)
	}
	// No time or no rate leaves the index untouched.
	if got := rateFactor(big.NewRat(1, 10), 0); got.Cmp(ray) != 0 {
		t.Fatalf("zero dt factor = %s, want ray", got)
	}
	if got := rateFactor(new(big.Rat), secondsPerYear); got.Cmp(ray) != 0 {
		t.Fatalf("zero rate factor = %s, want ray", got)
	}
}

func TestComputeInterestFloors(t *testing.T) {
	// 1000 at 10% for half a year = 50.
	got := computeInterest(UnitsFromUint64(1_000), big.NewRat(1, 10), secondsPerYear/2)
	if got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("interest = %s, want 50", got)
	}
	// 7 at 10% for one second is fractional and floors to zero.
	if got := computeInterest(UnitsFromUint64(7), big.NewRat(1, 10), 1); got.Sign() != 0 {
		t.Fatalf("sub-unit interest = %s, want 0", got)
	}
}

func TestModelClone(t *testing.T) {
	model := kinkedModel()
	clone := model.Clone()
	clone.BaseRate.SetInt64(9)
	if model.BaseRate.Cmp(big.NewRat(1, 50)) != 0 {
		t.Fatalf("clone mutation leaked into original: %s", model.BaseRate)
	}
}
