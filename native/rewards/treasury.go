package rewards

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskengine/core/events"
	"riskengine/native/authority"
	"riskengine/state"
)

var (
	// ErrEpochNotClosed is returned when a claim or sweep targets an epoch
	// that is still accumulating.
	ErrEpochNotClosed = errors.New("rewards: epoch not closed")
	// ErrGraceNotElapsed is returned when a sweep arrives before the
	// configured grace period after epoch close.
	ErrGraceNotElapsed = errors.New("rewards: sweep grace period not elapsed")
	// ErrInvalidAmount is returned for non-positive deposit amounts.
	ErrInvalidAmount = errors.New("rewards: amount must be positive")
	// ErrInvalidBps rejects bot-reward shares above 10000.
	ErrInvalidBps = errors.New("rewards: bps must not exceed 10000")

	errCorruptedBalance = errors.New("rewards: corrupted stored balance")
	errAssetRequired    = errors.New("rewards: asset required")
)

const (
	reserveKeyPrefix      = "rewards/reserve/"
	reserveAssetsPrefix   = "rewards/reserveAssets/"
	treasuryKeyPrefix     = "rewards/treasuryBal/"
	insuranceKeyPrefix    = "rewards/insurance/"
	claimKeyPrefix        = "rewards/claim/"
	basisPointsDenom      = 10_000
	DefaultBotRewardBps   = 1_000
	DefaultSweepGrace     = 14 * 24 * time.Hour
)

func reserveKey(epoch uint64, asset string) string {
	return fmt.Sprintf("%s%d/%s", reserveKeyPrefix, epoch, asset)
}

func reserveAssetsKey(epoch uint64) string {
	return fmt.Sprintf("%s%d", reserveAssetsPrefix, epoch)
}

func claimKey(epoch uint64, actor string) string {
	return fmt.Sprintf("%s%d/%s", claimKeyPrefix, epoch, actor)
}

type storedBalance struct {
	Amount string `json:"amount"`
}

type storedClaim struct {
	ID        string            `json:"id"`
	Actor     string            `json:"actor"`
	Epoch     uint64            `json:"epoch"`
	Points    uint64            `json:"points"`
	Payouts   map[string]string `json:"payouts"`
	ClaimedAt int64             `json:"claimedAt"`
}

// Claim is the result of one rewards claim. Payouts lists the amount paid
// per reserve asset; a repeat claim carries an empty map.
type Claim struct {
	ID      string
	Actor   string
	Epoch   uint64
	Payouts map[string]*big.Int
}

// Treasury holds the general fee balance, the insurance fund and the
// per-epoch bot-rewards reserves. Every fee intake splits a configured
// basis-point share into the reserve of the epoch the intake falls in; the
// two halves always sum exactly to the deposited amount.
//
// All balances persist through the shared state manager as decimal strings.
// Mutations are serialized by entity lock: deposits and balance moves under
// the treasury key, claims under the key of the epoch they drain.
type Treasury struct {
	m       *state.Manager
	admin   authority.Capability
	emitter events.Emitter
	points  *PointsRegistry
	epochs  EpochConfig

	mu     sync.RWMutex
	botBps uint64
	grace  time.Duration
}

// NewTreasury wires the treasury to the state manager and the points
// registry that drives claim shares.
func NewTreasury(m *state.Manager, admin authority.Capability, points *PointsRegistry, epochs EpochConfig) *Treasury {
	return &Treasury{
		m:       m,
		admin:   admin,
		emitter: events.NoopEmitter{},
		points:  points,
		epochs:  epochs.Normalized(),
		botBps:  DefaultBotRewardBps,
		grace:   DefaultSweepGrace,
	}
}

// SetEmitter replaces the event emitter.
func (t *Treasury) SetEmitter(emitter events.Emitter) {
	if t == nil || emitter == nil {
		return
	}
	t.emitter = emitter
}

// SetBotRewardBps configures the share of each fee intake routed to the
// bot-rewards reserve.
func (t *Treasury) SetBotRewardBps(cap authority.Capability, bps uint64) error {
	if cap != t.admin || !cap.Valid() {
		return ErrUnauthorized
	}
	if bps > basisPointsDenom {
		return ErrInvalidBps
	}
	t.mu.Lock()
	t.botBps = bps
	t.mu.Unlock()
	return nil
}

// SetSweepGrace configures how long after epoch close reserve dust stays
// claimable before it may be swept.
func (t *Treasury) SetSweepGrace(cap authority.Capability, grace time.Duration) error {
	if cap != t.admin || !cap.Valid() {
		return ErrUnauthorized
	}
	t.mu.Lock()
	t.grace = grace
	t.mu.Unlock()
	return nil
}

// BotRewardBps returns the configured reserve share.
func (t *Treasury) BotRewardBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.botBps
}

// LockKey names the entity lock serializing fee routings into the treasury.
func (t *Treasury) LockKey() string { return treasuryLockName }

// loadBalance reads a stored balance, consulting the transaction's staged
// writes first so repeated routings within one commit accumulate.
func (t *Treasury) loadBalance(tx *state.Tx, key string) (*big.Int, error) {
	var stored storedBalance
	var err error
	if tx != nil {
		_, err = tx.GetJSON(key, &stored)
	} else {
		_, err = t.m.GetJSON(key, &stored)
	}
	if err != nil {
		return nil, err
	}
	if stored.Amount == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(stored.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errCorruptedBalance, stored.Amount)
	}
	return out, nil
}

func stageBalance(tx *state.Tx, key string, amount *big.Int) {
	tx.PutJSON(key, storedBalance{Amount: amount.String()})
}

// StageDeposit splits a fee intake and stages both halves into the supplied
// transaction. The caller must hold the treasury entity lock and commits the
// transaction itself, so the routing lands atomically with whatever ledger
// mutation produced the fee.
func (t *Treasury) StageDeposit(tx *state.Tx, asset string, amount *big.Int, now time.Time) (*big.Int, *big.Int, error) {
	if t == nil || t.m == nil {
		return nil, nil, errNilManager
	}
	if asset == "" {
		return nil, nil, errAssetRequired
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	epoch := t.epochs.EpochAt(now)
	bps := t.BotRewardBps()

	botShare := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	botShare.Quo(botShare, big.NewInt(basisPointsDenom))
	retained := new(big.Int).Sub(amount, botShare)

	if botShare.Sign() > 0 {
		reserve, err := t.loadBalance(tx, reserveKey(epoch, asset))
		if err != nil {
			return nil, nil, err
		}
		stageBalance(tx, reserveKey(epoch, asset), reserve.Add(reserve, botShare))
		if err := t.stageAssetIndex(tx, reserveAssetsKey(epoch), asset); err != nil {
			return nil, nil, err
		}
	}
	if retained.Sign() > 0 {
		balance, err := t.loadBalance(tx, treasuryKeyPrefix+asset)
		if err != nil {
			return nil, nil, err
		}
		stageBalance(tx, treasuryKeyPrefix+asset, balance.Add(balance, retained))
	}
	return botShare, retained, nil
}

func (t *Treasury) stageAssetIndex(tx *state.Tx, key, asset string) error {
	var assets []string
	if _, err := tx.GetJSON(key, &assets); err != nil {
		return err
	}
	for _, existing := range assets {
		if existing == asset {
			return nil
		}
	}
	tx.PutJSON(key, append(assets, asset))
	return nil
}

// Deposit routes a standalone fee intake and commits it immediately.
func (t *Treasury) Deposit(asset string, amount *big.Int, now time.Time) (*big.Int, *big.Int, error) {
	if t == nil || t.m == nil {
		return nil, nil, errNilManager
	}
	release := t.m.Lock(t.LockKey())
	defer release()

	tx := t.m.NewTx()
	botShare, retained, err := t.StageDeposit(tx, asset, amount, now)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	t.emitter.Emit(events.TreasuryDeposit{
		Asset:    asset,
		Amount:   amount,
		BotShare: botShare,
		Retained: retained,
		Epoch:    t.epochs.EpochAt(now),
	}.Event())
	return botShare, retained, nil
}

// StageInsurance credits the insurance fund inside the caller's transaction.
// The caller must hold the treasury entity lock.
func (t *Treasury) StageInsurance(tx *state.Tx, asset string, amount *big.Int) error {
	if t == nil || t.m == nil {
		return errNilManager
	}
	if asset == "" {
		return errAssetRequired
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := t.loadBalance(tx, insuranceKeyPrefix+asset)
	if err != nil {
		return err
	}
	stageBalance(tx, insuranceKeyPrefix+asset, balance.Add(balance, amount))
	return nil
}

// Balance returns the general treasury balance for an asset.
func (t *Treasury) Balance(asset string) (*big.Int, error) {
	if t == nil || t.m == nil {
		return nil, errNilManager
	}
	return t.loadBalance(nil, treasuryKeyPrefix+asset)
}

// InsuranceBalance returns the insurance fund balance for an asset.
func (t *Treasury) InsuranceBalance(asset string) (*big.Int, error) {
	if t == nil || t.m == nil {
		return nil, errNilManager
	}
	return t.loadBalance(nil, insuranceKeyPrefix+asset)
}

// Reserve returns the remaining bot-rewards reserve for an epoch and asset.
func (t *Treasury) Reserve(epoch uint64, asset string) (*big.Int, error) {
	if t == nil || t.m == nil {
		return nil, errNilManager
	}
	return t.loadBalance(nil, reserveKey(epoch, asset))
}

// ClaimRewards pays the actor their pro-rata share of every reserve asset of
// a closed epoch. The share is the remaining reserve times the actor's
// points over the remaining unclaimed points; paying zeroes the actor's
// points, so a repeat claim finds no points and pays nothing. Racing claims
// for the same actor serialize on the epoch lock and resolve to exactly one
// payout.
func (t *Treasury) ClaimRewards(actor string, epoch uint64, now time.Time) (*Claim, error) {
	if t == nil || t.m == nil {
		return nil, errNilManager
	}
	if actor == "" {
		return nil, errActorRequired
	}
	if !t.epochs.Closed(epoch, now) {
		return nil, ErrEpochNotClosed
	}

	release := t.m.Lock(epochLockKey(epoch))
	defer release()

	claim := &Claim{
		Actor:   actor,
		Epoch:   epoch,
		Payouts: make(map[string]*big.Int),
	}

	var actorPoints storedPoints
	if _, err := t.m.GetJSON(pointsKey(epoch, actor), &actorPoints); err != nil {
		return nil, err
	}
	if actorPoints.Points == 0 {
		return claim, nil
	}
	var total storedPoints
	if _, err := t.m.GetJSON(totalsKey(epoch), &total); err != nil {
		return nil, err
	}
	if total.Points == 0 || actorPoints.Points > total.Points {
		return nil, fmt.Errorf("%w: epoch %d points exceed total", errCorruptedBalance, epoch)
	}

	var assets []string
	if _, err := t.m.GetJSON(reserveAssetsKey(epoch), &assets); err != nil {
		return nil, err
	}

	claim.ID = uuid.NewString()
	tx := t.m.NewTx()
	p := new(big.Int).SetUint64(actorPoints.Points)
	remaining := new(big.Int).SetUint64(total.Points)
	for _, asset := range assets {
		reserve, err := t.loadBalance(tx, reserveKey(epoch, asset))
		if err != nil {
			return nil, err
		}
		if reserve.Sign() == 0 {
			continue
		}
		payout := new(big.Int).Mul(reserve, p)
		payout.Quo(payout, remaining)
		if payout.Sign() == 0 {
			continue
		}
		stageBalance(tx, reserveKey(epoch, asset), new(big.Int).Sub(reserve, payout))
		claim.Payouts[asset] = payout
	}

	tx.PutJSON(pointsKey(epoch, actor), storedPoints{})
	tx.PutJSON(totalsKey(epoch), storedPoints{Points: total.Points - actorPoints.Points})

	record := storedClaim{
		ID:        claim.ID,
		Actor:     actor,
		Epoch:     epoch,
		Points:    actorPoints.Points,
		Payouts:   make(map[string]string, len(claim.Payouts)),
		ClaimedAt: now.Unix(),
	}
	for asset, payout := range claim.Payouts {
		record.Payouts[asset] = payout.String()
	}
	tx.PutJSON(claimKey(epoch, actor), record)

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for asset, payout := range claim.Payouts {
		t.emitter.Emit(events.RewardsClaimed{
			ID:     claim.ID,
			Actor:  actor,
			Epoch:  epoch,
			Asset:  asset,
			Amount: payout,
		}.Event())
	}
	return claim, nil
}

// SweepDust moves whatever remains in a closed epoch's reserves into the
// general treasury balance once the grace period after epoch close has
// elapsed. Requires the admin capability.
func (t *Treasury) SweepDust(cap authority.Capability, epoch uint64, now time.Time) (map[string]*big.Int, error) {
	if t == nil || t.m == nil {
		return nil, errNilManager
	}
	if cap != t.admin || !cap.Valid() {
		return nil, ErrUnauthorized
	}
	if !t.epochs.Closed(epoch, now) {
		return nil, ErrEpochNotClosed
	}
	t.mu.RLock()
	grace := t.grace
	t.mu.RUnlock()
	if now.Before(t.epochs.EndOf(epoch).Add(grace)) {
		return nil, ErrGraceNotElapsed
	}

	release := t.m.Lock(epochLockKey(epoch), t.LockKey())
	defer release()

	var assets []string
	if _, err := t.m.GetJSON(reserveAssetsKey(epoch), &assets); err != nil {
		return nil, err
	}

	swept := make(map[string]*big.Int)
	tx := t.m.NewTx()
	for _, asset := range assets {
		reserve, err := t.loadBalance(tx, reserveKey(epoch, asset))
		if err != nil {
			return nil, err
		}
		if reserve.Sign() == 0 {
			continue
		}
		balance, err := t.loadBalance(tx, treasuryKeyPrefix+asset)
		if err != nil {
			return nil, err
		}
		stageBalance(tx, treasuryKeyPrefix+asset, balance.Add(balance, reserve))
		stageBalance(tx, reserveKey(epoch, asset), big.NewInt(0))
		swept[asset] = reserve
	}
	if len(swept) == 0 {
		return swept, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for asset, amount := range swept {
		t.emitter.Emit(events.ReserveSwept{
			Epoch:  epoch,
			Asset:  asset,
			Amount: amount,
		}.Event())
	}
	return swept, nil
}
