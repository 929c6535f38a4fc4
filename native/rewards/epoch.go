// Package rewards implements the fee treasury, the bot-rewards reserve and
// the per-epoch maintenance points ledger. Fee intakes split off a configured
// share into the reserve of the epoch they arrive in; once an epoch closes,
// actors holding points claim the reserve pro rata.
package rewards

import "time"

// Clock abstracts time so tests can drive epochs deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// EpochConfig derives epoch numbers from time. Epochs are never stored; they
// are always computed from the current time against a fixed origin.
type EpochConfig struct {
	// Zero is the instant epoch 0 begins.
	Zero time.Time
	// Duration is the fixed length of every epoch.
	Duration time.Duration
}

// DefaultEpochDuration is one week.
const DefaultEpochDuration = 7 * 24 * time.Hour

// Normalized fills unset fields with defaults.
func (c EpochConfig) Normalized() EpochConfig {
	out := c
	if out.Duration <= 0 {
		out.Duration = DefaultEpochDuration
	}
	return out
}

// EpochAt returns the epoch containing now. Times before the origin collapse
// into epoch 0.
func (c EpochConfig) EpochAt(now time.Time) uint64 {
	cfg := c.Normalized()
	if !now.After(cfg.Zero) {
		return 0
	}
	return uint64(now.Sub(cfg.Zero) / cfg.Duration)
}

// Closed reports whether the epoch has ended as of now. Only closed epochs
// are claimable.
func (c EpochConfig) Closed(epoch uint64, now time.Time) bool {
	return epoch < c.EpochAt(now)
}

// EndOf returns the instant the epoch ends.
func (c EpochConfig) EndOf(epoch uint64) time.Time {
	cfg := c.Normalized()
	return cfg.Zero.Add(time.Duration(epoch+1) * cfg.Duration)
}
