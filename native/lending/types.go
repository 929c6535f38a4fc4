package lending

import (
	"math/big"
	"sort"
)

// Asset describes a listed instrument. The listing itself is immutable; only
// the feed binding (held by the oracle registry) may be re-bound afterwards.
type Asset struct {
	// Symbol is the canonical uppercase identifier, e.g. "USDC".
	Symbol string
	// Decimals is the fixed-point scale of unit amounts for this asset.
	Decimals uint8
	// CollateralWeightBps discounts the asset's value when it backs debt,
	// expressed in basis points. 10000 counts collateral at face value.
	CollateralWeightBps uint64
}

// Pool captures the per-asset accounting state. Pools are created once at
// listing and never deleted; paused pools refuse mutations instead.
type Pool struct {
	// Symbol ties the pool to its listed asset.
	Symbol string
	// TotalSupply is the aggregate unit liquidity deposited by suppliers.
	TotalSupply Units
	// TotalBorrow tracks the outstanding unit debt across all accounts.
	TotalBorrow Units
	// SupplyIndex is the cumulative interest index applied to supplier
	// balances, ray base.
	SupplyIndex *big.Int
	// BorrowIndex is the cumulative interest index applied to debt, ray base.
	BorrowIndex *big.Int
	// LastUpdate records the unix second when the indexes last advanced.
	LastUpdate int64
	// ReserveFactorBps is the share of accrued interest routed to the
	// treasury, in basis points.
	ReserveFactorBps uint64
	// MaxTxUnits caps a single deposit or borrow. Zero disables the cap.
	MaxTxUnits Units
	// MaxSupplyUnits caps the pool's total supply. Zero disables the cap.
	MaxSupplyUnits Units
	// MaxBorrowUnits caps the pool's total debt. Zero disables the cap.
	MaxBorrowUnits Units
	// Paused refuses every balance mutation while set.
	Paused bool
}

// normalize backfills zero-value indexes so a freshly decoded pool is safe to
// use. Indexes start at 1.0x and only ever grow.
func (p *Pool) normalize() {
	if p == nil {
		return
	}
	if p.SupplyIndex == nil || p.SupplyIndex.Sign() == 0 {
		p.SupplyIndex = new(big.Int).Set(ray)
	}
	if p.BorrowIndex == nil || p.BorrowIndex.Sign() == 0 {
		p.BorrowIndex = new(big.Int).Set(ray)
	}
}

// availableLiquidity returns the units that can leave the pool right now.
func (p *Pool) availableLiquidity() Units {
	liquidity := p.TotalSupply.Sub(p.TotalBorrow)
	if liquidity.Sign() < 0 {
		return UnitsFromUint64(0)
	}
	return liquidity
}

// Account maintains the positions of one owner across every asset. Accounts
// are created on first deposit and persist at zero balances.
type Account struct {
	// Owner is the account identity.
	Owner string
	// Supplies maps asset symbol to the scaled supply balance.
	Supplies map[string]Scaled
	// Borrows maps asset symbol to the scaled debt balance.
	Borrows map[string]Scaled
	// LastInteraction records the unix second of the last mutation.
	LastInteraction int64
}

// NewAccount returns an empty account for the owner.
func NewAccount(owner string) *Account {
	return &Account{
		Owner:    owner,
		Supplies: make(map[string]Scaled),
		Borrows:  make(map[string]Scaled),
	}
}

func (a *Account) ensureMaps() {
	if a.Supplies == nil {
		a.Supplies = make(map[string]Scaled)
	}
	if a.Borrows == nil {
		a.Borrows = make(map[string]Scaled)
	}
}

// SupplyBalance returns the scaled supply balance for the symbol.
func (a *Account) SupplyBalance(symbol string) Scaled {
	if a == nil || a.Supplies == nil {
		return Scaled{}
	}
	return a.Supplies[symbol]
}

// BorrowBalance returns the scaled debt balance for the symbol.
func (a *Account) BorrowBalance(symbol string) Scaled {
	if a == nil || a.Borrows == nil {
		return Scaled{}
	}
	return a.Borrows[symbol]
}

// HeldAssets returns the sorted symbols the account actually holds, either as
// collateral or as debt. Health evaluation iterates exactly this set.
func (a *Account) HeldAssets() []string {
	if a == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for symbol, balance := range a.Supplies {
		if !balance.IsZero() {
			seen[symbol] = struct{}{}
		}
	}
	for symbol, balance := range a.Borrows {
		if !balance.IsZero() {
			seen[symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy used for projected health checks.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := NewAccount(a.Owner)
	clone.LastInteraction = a.LastInteraction
	for symbol, balance := range a.Supplies {
		clone.Supplies[symbol] = NewScaled(balance.value())
	}
	for symbol, balance := range a.Borrows {
		clone.Borrows[symbol] = NewScaled(balance.value())
	}
	return clone
}
