package lending

import (
	"math/big"

	"github.com/google/uuid"

	"riskengine/core/events"
	"riskengine/native/oracle"
)

// Outcome classifies the account state a liquidation left behind.
type Outcome string

const (
	// OutcomePartial means debt remains and the account is still below the
	// liquidation threshold.
	OutcomePartial Outcome = "partial"
	// OutcomeHealthy means the repayment lifted the account back above the
	// threshold.
	OutcomeHealthy Outcome = "healthy"
	// OutcomeClosed means the chosen debt was fully extinguished.
	OutcomeClosed Outcome = "closed"
)

// LiquidationResult is the audited outcome of one liquidation call. The
// three shares always sum exactly to Seized.
type LiquidationResult struct {
	ID              string
	DebtAsset       string
	CollateralAsset string
	Repaid          Units
	Seized          Units
	LiquidatorShare Units
	InsuranceShare  Units
	TreasuryShare   Units
	Outcome         Outcome
}

// Liquidate lets a third party repay part of an unhealthy account's debt in
// exchange for a discounted slice of its collateral. The repay is clamped to
// the close factor; the whole call commits atomically or not at all, and the
// per-account lock guarantees racing liquidators cannot seize the same
// collateral twice.
//
// When debtAsset is empty the engine selects the account's largest debt by
// USD value so each call converges the account toward health fastest.
func (e *Engine) Liquidate(liquidator, owner, debtAsset, collateralAsset string, requestedRepay Units) (*LiquidationResult, error) {
	params, split, _, pauses := e.policy()
	if pauses.Liquidate {
		return nil, ErrPoolPaused
	}
	if requestedRepay.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if liquidator == owner {
		return nil, ErrNotLiquidatable
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}

	extra := []string{collateralAsset}
	if debtAsset != "" {
		extra = append(extra, debtAsset)
	}
	sc, err := e.lockScope([]string{owner, liquidator}, extra)
	if err != nil {
		return nil, err
	}
	defer sc.release()

	account := sc.accounts[owner]
	account.ensureMaps()
	liqAccount := sc.accounts[liquidator]
	liqAccount.ensureMaps()

	tx := e.store.Begin()

	collPool := sc.pools[collateralAsset]
	if collPool.Paused {
		return nil, ErrPoolPaused
	}
	if _, err := e.accruePool(tx, collPool, now); err != nil {
		return nil, err
	}

	prices, err := e.snapshot(sc, now)
	if err != nil {
		return nil, err
	}
	assessment, err := EvaluateAccount(account, sc.pools, sc.assets, prices, params.LiquidationThresholdBps)
	if err != nil {
		return nil, err
	}
	if !assessment.Liquidatable {
		return nil, ErrNotLiquidatable
	}

	if debtAsset == "" {
		debtAsset = e.largestDebt(account, sc, prices)
		if debtAsset == "" {
			return nil, ErrNoDebtToRepay
		}
	}
	debtPool, ok := sc.pools[debtAsset]
	if !ok {
		return nil, ErrPoolNotFound
	}
	if debtPool.Paused {
		return nil, ErrPoolPaused
	}
	if debtAsset != collateralAsset {
		if _, err := e.accruePool(tx, debtPool, now); err != nil {
			return nil, err
		}
	}

	debtScaled := account.BorrowBalance(debtAsset)
	debtUnits := debtScaled.ToUnits(debtPool.BorrowIndex)
	if debtUnits.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}

	maxRepay := NewUnits(bpsShare(debtUnits.value(), params.CloseFactorBps))
	repaid := requestedRepay.Min(maxRepay)
	if repaid.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	debtQuote, ok := prices.Quote(debtAsset)
	if !ok {
		return nil, errMissingQuote
	}
	collQuote, ok := prices.Quote(collateralAsset)
	if !ok {
		return nil, errMissingQuote
	}
	seized := seizureFor(repaid, debtQuote, collQuote, sc.assets[debtAsset], sc.assets[collateralAsset], params.LiquidationPenaltyBps)

	collScaled := account.SupplyBalance(collateralAsset)
	collUnits := collScaled.ToUnits(collPool.SupplyIndex)
	if seized.Cmp(collUnits) > 0 {
		return nil, ErrInsufficientCollateral
	}

	// The liquidator covers the repayment from their own supply balance in
	// the debt pool.
	liqScaled := liqAccount.SupplyBalance(debtAsset)
	liqUnits := liqScaled.ToUnits(debtPool.SupplyIndex)
	if repaid.Cmp(liqUnits) > 0 {
		return nil, ErrInsufficientFunds
	}

	liquidatorShare := NewUnits(bpsShare(seized.value(), split.LiquidatorBps))
	insuranceShare := NewUnits(bpsShare(seized.value(), split.InsuranceBps))
	treasuryShare := seized.Sub(liquidatorShare).Sub(insuranceShare)

	// Debt side: the liquidator's supply pays the account's debt down.
	account.Borrows[debtAsset] = debtScaled.Sub(repaid.ToScaled(debtPool.BorrowIndex).Min(debtScaled))
	if repaid.Cmp(debtUnits) == 0 {
		account.Borrows[debtAsset] = NewScaled(nil)
	}
	liqAccount.Supplies[debtAsset] = liqScaled.Sub(repaid.ToScaledCeil(debtPool.SupplyIndex).Min(liqScaled))
	debtPool.TotalBorrow = debtPool.TotalBorrow.Sub(repaid)
	if debtPool.TotalBorrow.Sign() < 0 {
		debtPool.TotalBorrow = UnitsFromUint64(0)
	}
	debtPool.TotalSupply = debtPool.TotalSupply.Sub(repaid)

	// Collateral side: the liquidator share stays in the pool under the
	// liquidator's account; the insurance and treasury shares leave it.
	seizedScaled := seized.ToScaledCeil(collPool.SupplyIndex).Min(collScaled)
	account.Supplies[collateralAsset] = collScaled.Sub(seizedScaled)
	liqAccount.Supplies[collateralAsset] = liqAccount.SupplyBalance(collateralAsset).Add(liquidatorShare.ToScaled(collPool.SupplyIndex))
	collPool.TotalSupply = collPool.TotalSupply.Sub(insuranceShare).Sub(treasuryShare)

	if e.sink != nil {
		if insuranceShare.Sign() > 0 {
			if err := e.sink.StageInsurance(tx, collateralAsset, insuranceShare.BigInt()); err != nil {
				return nil, err
			}
		}
		if treasuryShare.Sign() > 0 {
			if _, _, err := e.sink.StageDeposit(tx, collateralAsset, treasuryShare.BigInt(), now); err != nil {
				return nil, err
			}
		}
	}

	account.LastInteraction = now.Unix()
	liqAccount.LastInteraction = now.Unix()

	if err := e.store.StagePool(tx, collPool); err != nil {
		return nil, err
	}
	if debtAsset != collateralAsset {
		if err := e.store.StagePool(tx, debtPool); err != nil {
			return nil, err
		}
	}
	if err := e.store.StageAccount(tx, account); err != nil {
		return nil, err
	}
	if err := e.store.StageAccount(tx, liqAccount); err != nil {
		return nil, err
	}

	result := &LiquidationResult{
		ID:              uuid.NewString(),
		DebtAsset:       debtAsset,
		CollateralAsset: collateralAsset,
		Repaid:          repaid,
		Seized:          seized,
		LiquidatorShare: liquidatorShare,
		InsuranceShare:  insuranceShare,
		TreasuryShare:   treasuryShare,
		Outcome:         e.classifyOutcome(account, sc, prices, params, debtAsset),
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.AccountLiquidated{
		ID:              result.ID,
		Account:         owner,
		Liquidator:      liquidator,
		DebtAsset:       debtAsset,
		CollateralAsset: collateralAsset,
		Repaid:          repaid.BigInt(),
		Seized:          seized.BigInt(),
		LiquidatorShare: liquidatorShare.BigInt(),
		InsuranceShare:  insuranceShare.BigInt(),
		TreasuryShare:   treasuryShare.BigInt(),
	}.Event())
	return result, nil
}

// seizureFor computes repay * pDebt / pColl * (1 + penalty), adjusting for
// the decimal scales of both assets. The whole product is carried in an
// arbitrary-width intermediate before the single narrowing division.
func seizureFor(repaid Units, debtQuote, collQuote oracle.Quote, debtAsset, collAsset *Asset, penaltyBps uint64) Units {
	var debtDecimals, collDecimals uint8
	if debtAsset != nil {
		debtDecimals = debtAsset.Decimals
	}
	if collAsset != nil {
		collDecimals = collAsset.Decimals
	}
	num := new(big.Int).Mul(repaid.value(), debtQuote.Price())
	num.Mul(num, pow10(collDecimals))
	num.Mul(num, new(big.Int).SetUint64(10_000+penaltyBps))
	den := new(big.Int).Mul(collQuote.Price(), pow10(debtDecimals))
	den.Mul(den, basisPoints)
	return NewUnits(new(big.Int).Quo(num, den))
}

// largestDebt returns the held debt asset with the greatest USD value.
func (e *Engine) largestDebt(account *Account, sc *scope, prices *oracle.PriceSet) string {
	best := ""
	bestValue := big.NewInt(0)
	for _, symbol := range account.HeldAssets() {
		borrow := account.BorrowBalance(symbol)
		if borrow.IsZero() {
			continue
		}
		pool := sc.pools[symbol]
		asset := sc.assets[symbol]
		quote, ok := prices.Quote(symbol)
		if !ok || pool == nil || asset == nil {
			continue
		}
		value := usdValue(borrow.ToUnits(pool.BorrowIndex), quote.Price(), asset.Decimals)
		if value.Cmp(bestValue) > 0 {
			best = symbol
			bestValue = value
		}
	}
	return best
}

func (e *Engine) classifyOutcome(account *Account, sc *scope, prices *oracle.PriceSet, params RiskParameters, debtAsset string) Outcome {
	if account.BorrowBalance(debtAsset).IsZero() && !e.hasDebt(account) {
		return OutcomeClosed
	}
	assessment, err := EvaluateAccount(account, sc.pools, sc.assets, prices, params.LiquidationThresholdBps)
	if err != nil || assessment.Liquidatable {
		return OutcomePartial
	}
	return OutcomeHealthy
}
