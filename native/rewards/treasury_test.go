package rewards

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"riskengine/core/events"
	"riskengine/native/authority"
	"riskengine/state"
	"riskengine/storage"
)

type rewardsEnv struct {
	manager  *state.Manager
	admin    authority.Capability
	epochs   EpochConfig
	points   *PointsRegistry
	treasury *Treasury
	ring     *events.RingEmitter
}

func newRewardsEnv(t *testing.T) *rewardsEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	admin := authority.Grant()
	epochs := weekEpochs()
	ring := events.NewRingEmitter(32)
	points := NewPointsRegistry(manager, admin, epochs)
	points.SetEmitter(ring)
	treasury := NewTreasury(manager, admin, points, epochs)
	treasury.SetEmitter(ring)
	return &rewardsEnv{
		manager:  manager,
		admin:    admin,
		epochs:   epochs,
		points:   points,
		treasury: treasury,
		ring:     ring,
	}
}

func (e *rewardsEnv) award(t *testing.T, actor, task string, times int, now time.Time) {
	t.Helper()
	for i := 0; i < times; i++ {
		if _, _, err := e.points.Award(actor, task, now); err != nil {
			t.Fatalf("award %s to %s: %v", task, actor, err)
		}
	}
}

func TestDepositSplit(t *testing.T) {
	env := newRewardsEnv(t)

	bot, retained, err := env.treasury.Deposit("USDC", big.NewInt(100_000), epochZero)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Default 10% bot share.
	if bot.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("bot share = %s, want 10000", bot)
	}
	if retained.Cmp(big.NewInt(90_000)) != 0 {
		t.Fatalf("retained = %s, want 90000", retained)
	}
	reserve, err := env.treasury.Reserve(0, "USDC")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("reserve = %s, want 10000", reserve)
	}
	balance, err := env.treasury.Balance("USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(90_000)) != 0 {
		t.Fatalf("balance = %s, want 90000", balance)
	}

	recent := env.ring.Recent()
	if len(recent) != 1 || recent[0].Type != events.TypeTreasuryDeposit {
		t.Fatalf("unexpected event trail: %+v", recent)
	}
	if recent[0].Attributes["botShare"] != "10000" {
		t.Fatalf("botShare attr = %s", recent[0].Attributes["botShare"])
	}
}

func TestDepositSplitConserves(t *testing.T) {
	env := newRewardsEnv(t)
	for _, bps := range []uint64{0, 1, 999, 1_000, 3_333, 10_000} {
		if err := env.treasury.SetBotRewardBps(env.admin, bps); err != nil {
			t.Fatalf("set bps %d: %v", bps, err)
		}
		for _, amount := range []int64{1, 7, 9_999, 100_000, 1_000_003} {
			bot, retained, err := env.treasury.Deposit("USDC", big.NewInt(amount), epochZero)
			if err != nil {
				t.Fatalf("deposit %d at %d bps: %v", amount, bps, err)
			}
			sum := new(big.Int).Add(bot, retained)
			if sum.Cmp(big.NewInt(amount)) != 0 {
				t.Fatalf("%d at %d bps: bot %s + retained %s != amount", amount, bps, bot, retained)
			}
		}
	}
}

func TestStageDepositAccumulatesWithinTx(t *testing.T) {
	env := newRewardsEnv(t)

	// Two routings for the same asset staged into one transaction must both
	// land: the second read sees the first staged write, not committed state.
	release := env.manager.Lock(env.treasury.LockKey())
	tx := env.manager.NewTx()
	for _, amount := range []int64{100, 50} {
		if _, _, err := env.treasury.StageDeposit(tx, "USDC", big.NewInt(amount), epochZero); err != nil {
			t.Fatalf("stage %d: %v", amount, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	release()

	balance, err := env.treasury.Balance("USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(135)) != 0 {
		t.Fatalf("balance = %s, want 135", balance)
	}
	reserve, err := env.treasury.Reserve(0, "USDC")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("reserve = %s, want 15", reserve)
	}
}

func TestDepositValidation(t *testing.T) {
	env := newRewardsEnv(t)

	if _, _, err := env.treasury.Deposit("USDC", big.NewInt(0), epochZero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if _, _, err := env.treasury.Deposit("USDC", big.NewInt(-5), epochZero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount err = %v, want ErrInvalidAmount", err)
	}
	if _, _, err := env.treasury.Deposit("", big.NewInt(10), epochZero); err == nil {
		t.Fatalf("empty asset accepted")
	}
	if err := env.treasury.SetBotRewardBps(env.admin, 10_001); !errors.Is(err, ErrInvalidBps) {
		t.Fatalf("oversized bps err = %v, want ErrInvalidBps", err)
	}
	if err := env.treasury.SetBotRewardBps(authority.Grant(), 500); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign capability err = %v, want ErrUnauthorized", err)
	}
}

func TestAwardRequiresWeight(t *testing.T) {
	env := newRewardsEnv(t)

	// No weight configured: the award is a silent no-op.
	granted, epoch, err := env.points.Award("alice", "accrue", epochZero)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if granted != 0 || epoch != 0 {
		t.Fatalf("disabled task granted %d in epoch %d", granted, epoch)
	}
	if got, err := env.points.TotalPoints(0); err != nil || got != 0 {
		t.Fatalf("total = %d (%v), want 0", got, err)
	}

	if err := env.points.SetWeight(authority.Grant(), "accrue", 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign weight change err = %v, want ErrUnauthorized", err)
	}
	if err := env.points.SetWeight(env.admin, "accrue", 10); err != nil {
		t.Fatalf("set weight: %v", err)
	}

	granted, epoch, err = env.points.Award("alice", "accrue", epochZero)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if granted != 10 || epoch != 0 {
		t.Fatalf("granted %d in epoch %d, want 10 in 0", granted, epoch)
	}
	if got, _ := env.points.Points(0, "alice"); got != 10 {
		t.Fatalf("alice points = %d, want 10", got)
	}
}

func TestAwardAccumulatesPerEpoch(t *testing.T) {
	env := newRewardsEnv(t)
	if err := env.points.SetWeight(env.admin, "accrue", 3); err != nil {
		t.Fatalf("set weight: %v", err)
	}

	env.award(t, "alice", "accrue", 2, epochZero)
	nextEpoch := epochZero.Add(env.epochs.Duration)
	env.award(t, "alice", "accrue", 1, nextEpoch)

	if got, _ := env.points.Points(0, "alice"); got != 6 {
		t.Fatalf("epoch 0 points = %d, want 6", got)
	}
	if got, _ := env.points.Points(1, "alice"); got != 3 {
		t.Fatalf("epoch 1 points = %d, want 3", got)
	}
	if got, _ := env.points.TotalPoints(0); got != 6 {
		t.Fatalf("epoch 0 total = %d, want 6", got)
	}
}

func TestClaimProRataConserves(t *testing.T) {
	env := newRewardsEnv(t)
	if err := env.points.SetWeight(env.admin, "accrue", 1); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	env.award(t, "alice", "accrue", 1, epochZero)
	env.award(t, "bob", "accrue", 2, epochZero)
	env.award(t, "carol", "accrue", 4, epochZero)

	if _, _, err := env.treasury.Deposit("USDC", big.NewInt(100_000), epochZero); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	later := epochZero.Add(env.epochs.Duration + time.Hour)
	total := new(big.Int)
	for _, actor := range []string{"alice", "bob", "carol"} {
		claim, err := env.treasury.ClaimRewards(actor, 0, later)
		if err != nil {
			t.Fatalf("claim %s: %v", actor, err)
		}
		payout, ok := claim.Payouts["USDC"]
		if !ok {
			t.Fatalf("%s received no payout", actor)
		}
		total.Add(total, payout)
	}

	// Every point holder claimed, so the reserve drains to the last unit.
	if total.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("claims sum to %s, want 10000", total)
	}
	reserve, err := env.treasury.Reserve(0, "USDC")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.Sign() != 0 {
		t.Fatalf("reserve left %s after full claim round", reserve)
	}
}

func TestClaimOpenEpochRefused(t *testing.T) {
	env := newRewardsEnv(t)
	if _, err := env.treasury.ClaimRewards("alice", 0, epochZero.Add(time.Hour)); !errors.Is(err, ErrEpochNotClosed) {
		t.Fatalf("open epoch claim err = %v, want ErrEpochNotClosed", err)
	}
	if _, err := env.treasury.ClaimRewards("alice", 7, epochZero.Add(time.Hour)); !errors.Is(err, ErrEpochNotClosed) {
		t.Fatalf("future epoch claim err = %v, want ErrEpochNotClosed", err)
	}
}

func TestClaimIsIdempotent(t *testing.T) {
	env := newRewardsEnv(t)
	if err := env.points.SetWeight(env.admin, "accrue", 1); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	env.award(t, "alice", "accrue", 1, epochZero)
	if _, _, err := env.treasury.Deposit("USDC", big.NewInt(10_000), epochZero); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	later := epochZero.Add(env.epochs.Duration + time.Hour)
	first, err := env.treasury.ClaimRewards("alice", 0, later)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Payouts["USDC"].Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("first payout = %s, want 1000", first.Payouts["USDC"])
	}

	second, err := env.treasury.ClaimRewards("alice", 0, later)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second.Payouts) != 0 {
		t.Fatalf("repeat claim paid again: %+v", second.Payouts)
	}
	reserve, _ := env.treasury.Reserve(0, "USDC")
	if reserve.Sign() != 0 {
		t.Fatalf("reserve moved on repeat claim: %s", reserve)
	}
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	env := newRewardsEnv(t)
	if err := env.points.SetWeight(env.admin, "accrue", 10); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	env.award(t, "alice", "accrue", 1, epochZero)
	if _, _, err := env.treasury.Deposit("USDC", big.NewInt(10_000), epochZero); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	later := epochZero.Add(env.epochs.Duration + time.Hour)
	claims := make([]*Claim, 4)
	var wg sync.WaitGroup
	for i := range claims {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claim, err := env.treasury.ClaimRewards("alice", 0, later)
			if err != nil {
				t.Errorf("claim %d: %v", i, err)
				return
			}
			claims[i] = claim
		}(i)
	}
	wg.Wait()

	paid := 0
	total := new(big.Int)
	for _, claim := range claims {
		if claim == nil {
			t.Fatalf("missing claim result")
		}
		if payout, ok := claim.Payouts["USDC"]; ok {
			paid++
			total.Add(total, payout)
		}
	}
	if paid != 1 {
		t.Fatalf("%d racing claims paid, want exactly 1", paid)
	}
	if total.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("paid total = %s, want 1000", total)
	}
}

func TestSweepDust(t *testing.T) {
	env := newRewardsEnv(t)
	if err := env.points.SetWeight(env.admin, "accrue", 1); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	env.award(t, "alice", "accrue", 1, epochZero)
	env.award(t, "bob", "accrue", 1, epochZero)
	if _, _, err := env.treasury.Deposit("USDC", big.NewInt(10_000), epochZero); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Only alice claims her half; bob's 500 stays behind as dust.
	afterClose := epochZero.Add(env.epochs.Duration + time.Hour)
	if _, err := env.treasury.ClaimRewards("alice", 0, afterClose); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := env.treasury.SweepDust(env.admin, 0, epochZero.Add(time.Hour)); !errors.Is(err, ErrEpochNotClosed) {
		t.Fatalf("open epoch sweep err = %v, want ErrEpochNotClosed", err)
	}
	if _, err := env.treasury.SweepDust(env.admin, 0, afterClose); !errors.Is(err, ErrGraceNotElapsed) {
		t.Fatalf("early sweep err = %v, want ErrGraceNotElapsed", err)
	}
	afterGrace := env.epochs.EndOf(0).Add(DefaultSweepGrace + time.Hour)
	if _, err := env.treasury.SweepDust(authority.Grant(), 0, afterGrace); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign sweep err = %v, want ErrUnauthorized", err)
	}

	swept, err := env.treasury.SweepDust(env.admin, 0, afterGrace)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept["USDC"] == nil || swept["USDC"].Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("swept = %v, want 500 USDC", swept)
	}
	reserve, _ := env.treasury.Reserve(0, "USDC")
	if reserve.Sign() != 0 {
		t.Fatalf("reserve left after sweep: %s", reserve)
	}
	// 9000 retained at deposit plus the 500 of dust.
	balance, _ := env.treasury.Balance("USDC")
	if balance.Cmp(big.NewInt(9_500)) != 0 {
		t.Fatalf("treasury balance = %s, want 9500", balance)
	}
}

func TestInsuranceStaging(t *testing.T) {
	env := newRewardsEnv(t)

	tx := env.treasury.m.NewTx()
	if err := env.treasury.StageInsurance(tx, "USDC", big.NewInt(250)); err != nil {
		t.Fatalf("stage insurance: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	balance, err := env.treasury.InsuranceBalance("USDC")
	if err != nil {
		t.Fatalf("insurance balance: %v", err)
	}
	if balance.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("insurance = %s, want 250", balance)
	}
	if err := env.treasury.StageInsurance(env.treasury.m.NewTx(), "USDC", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero insurance err = %v, want ErrInvalidAmount", err)
	}
}
