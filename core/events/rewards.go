package events

import (
	"math/big"
	"strconv"
)

const (
	// TypeTreasuryDeposit is emitted for every fee intake.
	TypeTreasuryDeposit = "rewards.treasuryDeposit"
	// TypePointsAwarded is emitted when a maintenance actor earns points.
	TypePointsAwarded = "rewards.pointsAwarded"
	// TypeRewardsClaimed is emitted when an actor claims a closed epoch.
	TypeRewardsClaimed = "rewards.claimed"
	// TypeReserveSwept is emitted when rounding dust is reclaimed from an
	// epoch reserve after the grace period.
	TypeReserveSwept = "rewards.reserveSwept"
)

// TreasuryDeposit records a fee intake and its bot-rewards split.
type TreasuryDeposit struct {
	Asset    string
	Amount   *big.Int
	BotShare *big.Int
	Retained *big.Int
	Epoch    uint64
}

// Event converts the deposit into the generic event representation.
func (d TreasuryDeposit) Event() Event {
	return Event{
		Type: TypeTreasuryDeposit,
		Attributes: map[string]string{
			"asset":    d.Asset,
			"amount":   bigString(d.Amount),
			"botShare": bigString(d.BotShare),
			"retained": bigString(d.Retained),
			"epoch":    strconv.FormatUint(d.Epoch, 10),
		},
	}
}

// PointsAwarded records weighted credit for a maintenance task.
type PointsAwarded struct {
	Actor  string
	Task   string
	Points uint64
	Epoch  uint64
}

// Event converts the award into the generic event representation.
func (p PointsAwarded) Event() Event {
	return Event{
		Type: TypePointsAwarded,
		Attributes: map[string]string{
			"actor":  p.Actor,
			"task":   p.Task,
			"points": strconv.FormatUint(p.Points, 10),
			"epoch":  strconv.FormatUint(p.Epoch, 10),
		},
	}
}

// RewardsClaimed records a pro-rata payout for one actor and epoch.
type RewardsClaimed struct {
	ID     string
	Actor  string
	Epoch  uint64
	Asset  string
	Amount *big.Int
}

// Event converts the claim into the generic event representation.
func (c RewardsClaimed) Event() Event {
	return Event{
		Type: TypeRewardsClaimed,
		Attributes: map[string]string{
			"id":     c.ID,
			"actor":  c.Actor,
			"epoch":  strconv.FormatUint(c.Epoch, 10),
			"asset":  c.Asset,
			"amount": bigString(c.Amount),
		},
	}
}

// ReserveSwept records an authorized dust sweep.
type ReserveSwept struct {
	Epoch  uint64
	Asset  string
	Amount *big.Int
}

// Event converts the sweep into the generic event representation.
func (s ReserveSwept) Event() Event {
	return Event{
		Type: TypeReserveSwept,
		Attributes: map[string]string{
			"epoch":  strconv.FormatUint(s.Epoch, 10),
			"asset":  s.Asset,
			"amount": bigString(s.Amount),
		},
	}
}
