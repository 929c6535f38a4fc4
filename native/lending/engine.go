package lending

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"riskengine/core/events"
	"riskengine/native/authority"
	"riskengine/native/oracle"
	"riskengine/state"
)

var (
	ErrInvalidAmount          = errors.New("lending engine: amount must be positive")
	ErrPoolPaused             = errors.New("lending engine: pool paused")
	ErrCapExceeded            = errors.New("lending engine: cap exceeded")
	ErrInsufficientFunds      = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending engine: seizure exceeds available collateral")
	ErrHealthCheckFailed      = errors.New("lending engine: position health below liquidation threshold")
	ErrNotLiquidatable        = errors.New("lending engine: account not eligible for liquidation")
	ErrNoDebtToRepay          = errors.New("lending engine: no outstanding debt to repay")
	ErrUnauthorized           = errors.New("lending engine: capability not authorized")
	ErrAlreadyListed          = errors.New("lending engine: asset already listed")

	errNilStore       = errors.New("lending engine: store not configured")
	errNilClock       = errors.New("lending engine: clock not configured")
	errContention     = errors.New("lending engine: account scope changed during lock acquisition, retry")
	errAmountTooSmall = errors.New("lending engine: amount too small for current index")
)

// Clock supplies the trusted monotonic time used for accrual. Elapsed time is
// always derived from stored state against this clock, never accepted from a
// caller.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// RewardSink receives reserve cuts and liquidation shares. Stagings join the
// engine's transaction so fee routing commits atomically with the ledger
// mutation that produced it.
type RewardSink interface {
	// StageDeposit routes a fee intake, splitting off the bot-rewards share
	// for the epoch containing now. It returns the bot and retained shares.
	StageDeposit(tx *state.Tx, asset string, amount *big.Int, now time.Time) (*big.Int, *big.Int, error)
	// StageInsurance credits the insurance fund.
	StageInsurance(tx *state.Tx, asset string, amount *big.Int) error
	// LockKey names the treasury entity whose lock must be held while
	// staging, so concurrent fee routings cannot lose updates.
	LockKey() string
}

// Engine orchestrates every state transition of the risk ledger: deposits,
// withdrawals, borrows, repayments, accrual and liquidation.
type Engine struct {
	store    *Store
	registry *oracle.Registry
	source   oracle.Source
	clock    Clock
	emitter  events.Emitter
	sink     RewardSink

	admin authority.Capability

	mu     sync.RWMutex
	params RiskParameters
	split  LiquidationSplit
	model  *InterestModel
	pauses ActionPauses
	maint  map[authority.Capability]struct{}
}

// NewEngine constructs an engine bound to its store, oracle registry and
// trusted clock. The admin capability guards every policy mutation.
func NewEngine(store *Store, registry *oracle.Registry, source oracle.Source, clock Clock, admin authority.Capability) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		source:   source,
		clock:    clock,
		emitter:  events.NoopEmitter{},
		admin:    admin,
		params:   RiskParameters{}.Normalized(),
		split:    DefaultLiquidationSplit,
		model:    DefaultInterestModel.Clone(),
		maint:    make(map[authority.Capability]struct{}),
	}
}

// SetEmitter wires the emitter receiving engine records.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetRewardSink wires the treasury that receives reserve cuts and
// liquidation shares.
func (e *Engine) SetRewardSink(sink RewardSink) {
	if e == nil {
		return
	}
	e.sink = sink
}

// SetRateModel replaces the interest rate model. Authorized only.
func (e *Engine) SetRateModel(cap authority.Capability, model *InterestModel) error {
	if err := e.requireAdmin(cap); err != nil {
		return err
	}
	e.mu.Lock()
	e.model = model.Clone()
	e.mu.Unlock()
	return nil
}

// SetLiquidationPolicy replaces the risk parameters and seizure split.
// Authorized only.
func (e *Engine) SetLiquidationPolicy(cap authority.Capability, params RiskParameters, split LiquidationSplit) error {
	if err := e.requireAdmin(cap); err != nil {
		return err
	}
	if err := split.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.params = params.Normalized()
	e.split = split
	e.mu.Unlock()
	return nil
}

// SetPauses replaces the per-flow pause switches. Authorized only.
func (e *Engine) SetPauses(cap authority.Capability, pauses ActionPauses) error {
	if err := e.requireAdmin(cap); err != nil {
		return err
	}
	e.mu.Lock()
	e.pauses = pauses
	e.mu.Unlock()
	return nil
}

// AllowMaintenance grants a maintenance capability permission to call
// Accrue. Authorized only.
func (e *Engine) AllowMaintenance(cap, maint authority.Capability) error {
	if err := e.requireAdmin(cap); err != nil {
		return err
	}
	if !maint.Valid() {
		return ErrUnauthorized
	}
	e.mu.Lock()
	e.maint[maint] = struct{}{}
	e.mu.Unlock()
	return nil
}

func (e *Engine) requireAdmin(cap authority.Capability) error {
	if e == nil {
		return errNilStore
	}
	if !cap.Valid() || cap != e.admin {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireMaintenance(cap authority.Capability) error {
	if e == nil {
		return errNilStore
	}
	if cap.Valid() && cap == e.admin {
		return nil
	}
	e.mu.RLock()
	_, ok := e.maint[cap]
	e.mu.RUnlock()
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) policy() (RiskParameters, LiquidationSplit, *InterestModel, ActionPauses) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params, e.split, e.model, e.pauses
}

func (e *Engine) now() (time.Time, error) {
	if e.clock == nil {
		return time.Time{}, errNilClock
	}
	return e.clock.Now(), nil
}

// ListAsset creates the listing and its pool. Listing is a one-time
// operation; pools are paused afterwards, never deleted. Authorized only.
func (e *Engine) ListAsset(cap authority.Capability, asset Asset, pool Pool) error {
	if err := e.requireAdmin(cap); err != nil {
		return err
	}
	if e.store == nil {
		return errNilStore
	}
	if asset.Symbol == "" {
		return errSymbolRequired
	}
	now, err := e.now()
	if err != nil {
		return err
	}

	release := e.store.Lock(PoolKey(asset.Symbol))
	defer release()

	exists, err := e.store.HasPool(asset.Symbol)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyListed
	}

	pool.Symbol = asset.Symbol
	pool.LastUpdate = now.Unix()
	pool.normalize()

	tx := e.store.Begin()
	if err := e.store.StageAsset(tx, &asset); err != nil {
		return err
	}
	if err := e.store.StagePool(tx, &pool); err != nil {
		return err
	}
	return tx.Commit()
}

// scope holds the consistently locked working set for one operation.
type scope struct {
	release  func()
	accounts map[string]*Account
	pools    map[string]*Pool
	assets   map[string]*Asset
}

// lockScope acquires the locks for the supplied owners, their held assets and
// any extra symbols, then reloads everything under lock. Because an
// account's held set can change between the unlocked peek and the lock
// acquisition, the set is re-checked and the acquisition retried.
func (e *Engine) lockScope(owners []string, symbols []string) (*scope, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	for attempt := 0; attempt < 5; attempt++ {
		wanted := make(map[string]struct{})
		for _, symbol := range symbols {
			wanted[symbol] = struct{}{}
		}
		for _, owner := range owners {
			peek, err := e.store.Account(owner)
			if err != nil {
				return nil, err
			}
			for _, symbol := range peek.HeldAssets() {
				wanted[symbol] = struct{}{}
			}
		}

		keys := make([]string, 0, len(owners)+len(wanted))
		for _, owner := range owners {
			keys = append(keys, AccountKey(owner))
		}
		for symbol := range wanted {
			keys = append(keys, PoolKey(symbol))
		}
		if e.sink != nil {
			keys = append(keys, e.sink.LockKey())
		}
		release := e.store.Lock(keys...)

		sc := &scope{
			release:  release,
			accounts: make(map[string]*Account, len(owners)),
			pools:    make(map[string]*Pool, len(wanted)),
			assets:   make(map[string]*Asset, len(wanted)),
		}
		stable := true
		for _, owner := range owners {
			account, err := e.store.Account(owner)
			if err != nil {
				release()
				return nil, err
			}
			for _, symbol := range account.HeldAssets() {
				if _, ok := wanted[symbol]; !ok {
					stable = false
				}
			}
			sc.accounts[owner] = account
		}
		if !stable {
			release()
			continue
		}
		for symbol := range wanted {
			pool, err := e.store.Pool(symbol)
			if err != nil {
				release()
				return nil, err
			}
			asset, err := e.store.Asset(symbol)
			if err != nil {
				release()
				return nil, err
			}
			sc.pools[symbol] = pool
			sc.assets[symbol] = asset
		}
		return sc, nil
	}
	return nil, errContention
}

// snapshot builds a verified price set covering every asset in the scope.
func (e *Engine) snapshot(sc *scope, now time.Time) (*oracle.PriceSet, error) {
	symbols := make([]string, 0, len(sc.pools))
	for symbol := range sc.pools {
		symbols = append(symbols, symbol)
	}
	return e.registry.Snapshot(e.source, symbols, now)
}

// accruePool advances the pool indexes to now and stages the reserve cut.
// Calling it with now at or before the last update is a safe no-op, which
// keeps the indexes monotone under duplicate or out-of-order invocations.
// The boolean result reports whether the elapsed time was clamped.
func (e *Engine) accruePool(tx *state.Tx, pool *Pool, now time.Time) (bool, error) {
	params, _, model, _ := e.policy()

	nowSec := now.Unix()
	if nowSec <= pool.LastUpdate {
		return false, nil
	}
	dt := nowSec - pool.LastUpdate
	clamped := false
	maxDt := int64(params.MaxAccrualDt / time.Second)
	if maxDt > 0 && dt > maxDt {
		e.emitter.Emit(events.AccrualClamped{
			Pool:             pool.Symbol,
			RequestedSeconds: dt,
			ClampedSeconds:   maxDt,
		}.Event())
		dt = maxDt
		clamped = true
	}
	pool.LastUpdate = nowSec

	if pool.TotalBorrow.Sign() == 0 || model == nil {
		return clamped, nil
	}

	borrowRate := model.BorrowRate(pool.TotalBorrow, pool.TotalSupply)
	if borrowRate.Sign() == 0 {
		return clamped, nil
	}
	interest := computeInterest(pool.TotalBorrow, borrowRate, dt)
	if interest.Sign() == 0 {
		return clamped, nil
	}

	reserveCut := bpsShare(interest, pool.ReserveFactorBps)
	supplierCut := new(big.Int).Sub(interest, reserveCut)

	supplyRate := model.SupplyRate(pool.TotalBorrow, pool.TotalSupply, pool.ReserveFactorBps)
	pool.BorrowIndex = rayMul(pool.BorrowIndex, rateFactor(borrowRate, dt))
	pool.SupplyIndex = rayMul(pool.SupplyIndex, rateFactor(supplyRate, dt))

	pool.TotalBorrow = pool.TotalBorrow.Add(NewUnits(interest))
	pool.TotalSupply = pool.TotalSupply.Add(NewUnits(supplierCut))

	if e.sink != nil && reserveCut.Sign() > 0 {
		if _, _, err := e.sink.StageDeposit(tx, pool.Symbol, reserveCut, now); err != nil {
			return clamped, err
		}
	}

	e.emitter.Emit(events.InterestAccrued{
		Pool:        pool.Symbol,
		DtSeconds:   dt,
		BorrowIndex: new(big.Int).Set(pool.BorrowIndex),
		SupplyIndex: new(big.Int).Set(pool.SupplyIndex),
		Interest:    interest,
		ReserveCut:  reserveCut,
	}.Event())
	return clamped, nil
}

// Accrue advances one pool's indexes and reports whether the elapsed time was
// clamped. Restricted to maintenance callers so an unprivileged actor cannot
// steer accrual timing; the elapsed time itself is always derived from stored
// state against the trusted clock.
func (e *Engine) Accrue(cap authority.Capability, symbol string) (bool, error) {
	if err := e.requireMaintenance(cap); err != nil {
		return false, err
	}
	now, err := e.now()
	if err != nil {
		return false, err
	}
	// The reserve cut read-modify-writes treasury balances, so the sink's
	// entity lock must be held alongside the pool's.
	keys := []string{PoolKey(symbol)}
	if e.sink != nil {
		keys = append(keys, e.sink.LockKey())
	}
	release := e.store.Lock(keys...)
	defer release()

	pool, err := e.store.Pool(symbol)
	if err != nil {
		return false, err
	}
	tx := e.store.Begin()
	clamped, err := e.accruePool(tx, pool, now)
	if err != nil {
		return false, err
	}
	if err := e.store.StagePool(tx, pool); err != nil {
		return false, err
	}
	return clamped, tx.Commit()
}

// Deposit credits the owner's supply balance with amount units.
func (e *Engine) Deposit(owner, symbol string, amount Units) error {
	_, _, _, pauses := e.policy()
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	now, err := e.now()
	if err != nil {
		return err
	}
	sc, err := e.lockScope([]string{owner}, []string{symbol})
	if err != nil {
		return err
	}
	defer sc.release()

	pool := sc.pools[symbol]
	if pool.Paused || pauses.Deposit {
		return ErrPoolPaused
	}
	if pool.MaxTxUnits.Sign() > 0 && amount.Cmp(pool.MaxTxUnits) > 0 {
		return ErrCapExceeded
	}
	if pool.MaxSupplyUnits.Sign() > 0 && pool.TotalSupply.Add(amount).Cmp(pool.MaxSupplyUnits) > 0 {
		return ErrCapExceeded
	}

	tx := e.store.Begin()
	if _, err := e.accruePool(tx, pool, now); err != nil {
		return err
	}

	minted := amount.ToScaled(pool.SupplyIndex)
	if minted.IsZero() {
		return errAmountTooSmall
	}

	account := sc.accounts[owner]
	account.ensureMaps()
	account.Supplies[symbol] = account.SupplyBalance(symbol).Add(minted)
	account.LastInteraction = now.Unix()
	pool.TotalSupply = pool.TotalSupply.Add(amount)

	if err := e.store.StagePool(tx, pool); err != nil {
		return err
	}
	if err := e.store.StageAccount(tx, account); err != nil {
		return err
	}
	return tx.Commit()
}

// Withdraw releases amount units back to the owner. When the account carries
// debt the projected position must stay above the liquidation threshold.
func (e *Engine) Withdraw(owner, symbol string, amount Units) error {
	params, _, _, pauses := e.policy()
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	now, err := e.now()
	if err != nil {
		return err
	}
	sc, err := e.lockScope([]string{owner}, []string{symbol})
	if err != nil {
		return err
	}
	defer sc.release()

	pool := sc.pools[symbol]
	if pool.Paused || pauses.Withdraw {
		return ErrPoolPaused
	}

	tx := e.store.Begin()
	if _, err := e.accruePool(tx, pool, now); err != nil {
		return err
	}

	account := sc.accounts[owner]
	account.ensureMaps()
	balance := account.SupplyBalance(symbol)
	balanceUnits := balance.ToUnits(pool.SupplyIndex)
	if amount.Cmp(balanceUnits) > 0 {
		return ErrInsufficientFunds
	}
	if amount.Cmp(pool.availableLiquidity()) > 0 {
		return ErrInsufficientLiquidity
	}

	burned := amount.ToScaledCeil(pool.SupplyIndex).Min(balance)

	projected := account.Clone()
	projected.Supplies[symbol] = balance.Sub(burned)
	if e.hasDebt(projected) {
		prices, err := e.snapshot(sc, now)
		if err != nil {
			return err
		}
		assessment, err := EvaluateAccount(projected, sc.pools, sc.assets, prices, params.LiquidationThresholdBps)
		if err != nil {
			return err
		}
		if assessment.Liquidatable {
			return ErrHealthCheckFailed
		}
	}

	account.Supplies[symbol] = balance.Sub(burned)
	account.LastInteraction = now.Unix()
	pool.TotalSupply = pool.TotalSupply.Sub(amount)

	if err := e.store.StagePool(tx, pool); err != nil {
		return err
	}
	if err := e.store.StageAccount(tx, account); err != nil {
		return err
	}
	return tx.Commit()
}

// Borrow draws amount units against the owner's collateral.
func (e *Engine) Borrow(owner, symbol string, amount Units) error {
	params, _, _, pauses := e.policy()
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	now, err := e.now()
	if err != nil {
		return err
	}
	sc, err := e.lockScope([]string{owner}, []string{symbol})
	if err != nil {
		return err
	}
	defer sc.release()

	pool := sc.pools[symbol]
	if pool.Paused || pauses.Borrow {
		return ErrPoolPaused
	}
	if pool.MaxTxUnits.Sign() > 0 && amount.Cmp(pool.MaxTxUnits) > 0 {
		return ErrCapExceeded
	}
	if pool.MaxBorrowUnits.Sign() > 0 && pool.TotalBorrow.Add(amount).Cmp(pool.MaxBorrowUnits) > 0 {
		return ErrCapExceeded
	}

	tx := e.store.Begin()
	if _, err := e.accruePool(tx, pool, now); err != nil {
		return err
	}
	if amount.Cmp(pool.availableLiquidity()) > 0 {
		return ErrInsufficientLiquidity
	}

	account := sc.accounts[owner]
	account.ensureMaps()
	drawn := amount.ToScaledCeil(pool.BorrowIndex)
	if drawn.IsZero() {
		return errAmountTooSmall
	}

	projected := account.Clone()
	projected.Borrows[symbol] = projected.BorrowBalance(symbol).Add(drawn)
	prices, err := e.snapshot(sc, now)
	if err != nil {
		return err
	}
	assessment, err := EvaluateAccount(projected, sc.pools, sc.assets, prices, params.LiquidationThresholdBps)
	if err != nil {
		return err
	}
	if assessment.Liquidatable {
		return ErrHealthCheckFailed
	}

	account.Borrows[symbol] = account.BorrowBalance(symbol).Add(drawn)
	account.LastInteraction = now.Unix()
	pool.TotalBorrow = pool.TotalBorrow.Add(amount)

	if err := e.store.StagePool(tx, pool); err != nil {
		return err
	}
	if err := e.store.StageAccount(tx, account); err != nil {
		return err
	}
	return tx.Commit()
}

// Repay reduces the owner's debt by up to amount units and returns the units
// actually applied, so an over-payment is observable rather than silent.
func (e *Engine) Repay(owner, symbol string, amount Units) (Units, error) {
	_, _, _, pauses := e.policy()
	if amount.Sign() <= 0 {
		return Units{}, ErrInvalidAmount
	}
	now, err := e.now()
	if err != nil {
		return Units{}, err
	}
	sc, err := e.lockScope([]string{owner}, []string{symbol})
	if err != nil {
		return Units{}, err
	}
	defer sc.release()

	pool := sc.pools[symbol]
	if pool.Paused || pauses.Repay {
		return Units{}, ErrPoolPaused
	}

	tx := e.store.Begin()
	if _, err := e.accruePool(tx, pool, now); err != nil {
		return Units{}, err
	}

	account := sc.accounts[owner]
	account.ensureMaps()
	debtScaled := account.BorrowBalance(symbol)
	debtUnits := debtScaled.ToUnits(pool.BorrowIndex)
	if debtUnits.Sign() == 0 {
		return Units{}, ErrNoDebtToRepay
	}
	repaid := amount.Min(debtUnits)

	burned := repaid.ToScaled(pool.BorrowIndex).Min(debtScaled)
	if repaid.Cmp(debtUnits) == 0 {
		// Full repayment clears the scaled balance so no dust debt lingers.
		burned = debtScaled
	}
	account.Borrows[symbol] = debtScaled.Sub(burned)
	account.LastInteraction = now.Unix()
	pool.TotalBorrow = pool.TotalBorrow.Sub(repaid)
	if pool.TotalBorrow.Sign() < 0 {
		pool.TotalBorrow = UnitsFromUint64(0)
	}

	if err := e.store.StagePool(tx, pool); err != nil {
		return Units{}, err
	}
	if err := e.store.StageAccount(tx, account); err != nil {
		return Units{}, err
	}
	if err := tx.Commit(); err != nil {
		return Units{}, err
	}
	return repaid, nil
}

// Health evaluates the owner's current position without mutating state.
func (e *Engine) Health(owner string) (Assessment, error) {
	params, _, _, _ := e.policy()
	now, err := e.now()
	if err != nil {
		return Assessment{}, err
	}
	sc, err := e.lockScope([]string{owner}, nil)
	if err != nil {
		return Assessment{}, err
	}
	defer sc.release()

	account := sc.accounts[owner]
	if len(account.HeldAssets()) == 0 {
		return Assessment{CollateralUSD: big.NewInt(0), DebtUSD: big.NewInt(0)}, nil
	}
	prices, err := e.snapshot(sc, now)
	if err != nil {
		return Assessment{}, err
	}
	return EvaluateAccount(account, sc.pools, sc.assets, prices, params.LiquidationThresholdBps)
}

func (e *Engine) hasDebt(account *Account) bool {
	for _, balance := range account.Borrows {
		if !balance.IsZero() {
			return true
		}
	}
	return false
}
