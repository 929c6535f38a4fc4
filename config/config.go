package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration decodes TOML duration strings like "24h" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler so configs round-trip.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// RateModelConfig parameterizes the kinked interest curve. All values are
// annual fractions, e.g. 0.02 for 2%.
type RateModelConfig struct {
	BaseRate  float64 `toml:"BaseRate"`
	Slope     float64 `toml:"Slope"`
	JumpSlope float64 `toml:"JumpSlope"`
	Kink      float64 `toml:"Kink"`
}

// RiskConfig groups the liquidation safety parameters.
type RiskConfig struct {
	LiquidationThresholdBps uint64   `toml:"LiquidationThresholdBps"`
	CloseFactorBps          uint64   `toml:"CloseFactorBps"`
	LiquidationPenaltyBps   uint64   `toml:"LiquidationPenaltyBps"`
	MaxAccrualDt            Duration `toml:"MaxAccrualDt"`
}

// SplitConfig fixes the three-way routing of seized collateral.
type SplitConfig struct {
	LiquidatorBps uint64 `toml:"LiquidatorBps"`
	InsuranceBps  uint64 `toml:"InsuranceBps"`
	TreasuryBps   uint64 `toml:"TreasuryBps"`
}

// RewardsConfig drives the fee treasury and epoch claims.
type RewardsConfig struct {
	BotRewardBps  uint64            `toml:"BotRewardBps"`
	EpochZero     int64             `toml:"EpochZero"`
	EpochDuration Duration          `toml:"EpochDuration"`
	SweepGrace    Duration          `toml:"SweepGrace"`
	PointWeights  map[string]uint64 `toml:"PointWeights"`
}

// FeedConfig binds an asset symbol to its authorized oracle feed.
type FeedConfig struct {
	FeedID string   `toml:"FeedID"`
	MaxAge Duration `toml:"MaxAge"`
}

// AssetConfig lists one asset and its pool limits. Unit amounts are decimal
// strings so large values survive without floating point.
type AssetConfig struct {
	Symbol              string     `toml:"Symbol"`
	Decimals            uint8      `toml:"Decimals"`
	CollateralWeightBps uint64     `toml:"CollateralWeightBps"`
	ReserveFactorBps    uint64     `toml:"ReserveFactorBps"`
	MaxTxUnits          string     `toml:"MaxTxUnits"`
	MaxSupplyUnits      string     `toml:"MaxSupplyUnits"`
	MaxBorrowUnits      string     `toml:"MaxBorrowUnits"`
	Feed                FeedConfig `toml:"Feed"`
}

// Config is the engine-wide configuration document.
type Config struct {
	DataDir   string          `toml:"DataDir"`
	RateModel RateModelConfig `toml:"RateModel"`
	Risk      RiskConfig      `toml:"Risk"`
	Split     SplitConfig     `toml:"Split"`
	Rewards   RewardsConfig   `toml:"Rewards"`
	Assets    []AssetConfig   `toml:"Assets"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		DataDir: "./risk-data",
		RateModel: RateModelConfig{
			BaseRate:  0.02,
			Slope:     0.15,
			JumpSlope: 0.60,
			Kink:      0.80,
		},
		Risk: RiskConfig{
			LiquidationThresholdBps: 11_000,
			CloseFactorBps:          5_000,
			LiquidationPenaltyBps:   500,
			MaxAccrualDt:            Duration{24 * time.Hour},
		},
		Split: SplitConfig{
			LiquidatorBps: 7_000,
			InsuranceBps:  2_000,
			TreasuryBps:   1_000,
		},
		Rewards: RewardsConfig{
			BotRewardBps:  1_000,
			EpochDuration: Duration{7 * 24 * time.Hour},
			SweepGrace:    Duration{14 * 24 * time.Hour},
			PointWeights:  map[string]uint64{},
		},
	}
}

// Load reads the configuration from path, filling unset fields with
// defaults. A missing file yields the defaults outright.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaults.DataDir
	}
	if c.Risk.LiquidationThresholdBps == 0 {
		c.Risk.LiquidationThresholdBps = defaults.Risk.LiquidationThresholdBps
	}
	if c.Risk.CloseFactorBps == 0 {
		c.Risk.CloseFactorBps = defaults.Risk.CloseFactorBps
	}
	if c.Risk.MaxAccrualDt.Duration <= 0 {
		c.Risk.MaxAccrualDt = defaults.Risk.MaxAccrualDt
	}
	if c.Split == (SplitConfig{}) {
		c.Split = defaults.Split
	}
	if c.Rewards.EpochDuration.Duration <= 0 {
		c.Rewards.EpochDuration = defaults.Rewards.EpochDuration
	}
	if c.Rewards.SweepGrace.Duration <= 0 {
		c.Rewards.SweepGrace = defaults.Rewards.SweepGrace
	}
	if c.Rewards.PointWeights == nil {
		c.Rewards.PointWeights = map[string]uint64{}
	}
}

// Validate rejects configurations the engine would refuse at runtime.
func (c *Config) Validate() error {
	if c.Risk.CloseFactorBps > 10_000 {
		return fmt.Errorf("config: CloseFactorBps %d exceeds 10000", c.Risk.CloseFactorBps)
	}
	if sum := c.Split.LiquidatorBps + c.Split.InsuranceBps + c.Split.TreasuryBps; sum != 10_000 {
		return fmt.Errorf("config: liquidation split sums to %d, want 10000", sum)
	}
	if c.Rewards.BotRewardBps > 10_000 {
		return fmt.Errorf("config: BotRewardBps %d exceeds 10000", c.Rewards.BotRewardBps)
	}
	if c.RateModel.Kink <= 0 || c.RateModel.Kink > 1 {
		return fmt.Errorf("config: RateModel.Kink %v outside (0, 1]", c.RateModel.Kink)
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: asset with empty symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		seen[symbol] = struct{}{}
		if asset.CollateralWeightBps > 10_000 {
			return fmt.Errorf("config: asset %s collateral weight %d exceeds 10000", symbol, asset.CollateralWeightBps)
		}
		if asset.ReserveFactorBps > 10_000 {
			return fmt.Errorf("config: asset %s reserve factor %d exceeds 10000", symbol, asset.ReserveFactorBps)
		}
		if asset.Feed.FeedID == "" {
			return fmt.Errorf("config: asset %s missing feed binding", symbol)
		}
	}
	return nil
}
