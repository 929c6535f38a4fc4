package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"riskengine/config"
	"riskengine/core/events"
	"riskengine/native/authority"
	"riskengine/native/lending"
	"riskengine/native/oracle"
	"riskengine/native/rewards"
	"riskengine/observability/logging"
	riskdconfig "riskengine/services/riskd/config"
	"riskengine/services/riskd/server"
	"riskengine/state"
	"riskengine/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/riskd/config.yaml", "path to riskd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RISK_ENV"))
	logger := logging.Setup("riskd", env)

	cfg, err := riskdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	engineCfg, err := config.Load(cfg.EnginePath)
	if err != nil {
		log.Fatalf("load engine config: %v", err)
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = engineCfg.DataDir
	}

	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		log.Fatalf("open database at %s: %v", dataDir, err)
	}
	defer db.Close()

	admin := authority.Grant()
	maint := authority.Grant()
	ring := events.NewRingEmitter(cfg.EventBuffer)

	manager := state.NewManager(db)
	store := lending.NewStore(manager)
	registry := oracle.NewRegistry(admin, ring)
	source := oracle.NewManualSource()
	epochs := rewards.EpochConfig{
		Zero:     time.Unix(engineCfg.Rewards.EpochZero, 0),
		Duration: engineCfg.Rewards.EpochDuration.Duration,
	}
	points := rewards.NewPointsRegistry(manager, admin, epochs)
	points.SetEmitter(ring)
	treasury := rewards.NewTreasury(manager, admin, points, epochs)
	treasury.SetEmitter(ring)

	engine := lending.NewEngine(store, registry, source, lending.SystemClock{}, admin)
	engine.SetEmitter(ring)
	engine.SetRewardSink(treasury)
	if err := applyPolicies(engine, treasury, points, admin, maint, engineCfg); err != nil {
		log.Fatalf("apply policies: %v", err)
	}
	if err := listAssets(engine, registry, admin, engineCfg); err != nil {
		log.Fatalf("list assets: %v", err)
	}

	srv := server.New(server.Config{
		Log:      logger,
		Engine:   engine,
		Store:    store,
		Treasury: treasury,
		Points:   points,
		Epochs:   epochs,
		Source:   source,
		Maint:    maint,
		Events:   ring,
		Clock:    rewards.SystemClock{},
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("riskd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forced shutdown", "error", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func applyPolicies(engine *lending.Engine, treasury *rewards.Treasury, points *rewards.PointsRegistry, admin, maint authority.Capability, cfg *config.Config) error {
	if err := engine.AllowMaintenance(admin, maint); err != nil {
		return err
	}
	model := lending.NewInterestModel(
		cfg.RateModel.BaseRate,
		cfg.RateModel.Slope,
		cfg.RateModel.JumpSlope,
		cfg.RateModel.Kink,
	)
	if err := engine.SetRateModel(admin, model); err != nil {
		return err
	}
	params := lending.RiskParameters{
		LiquidationThresholdBps: cfg.Risk.LiquidationThresholdBps,
		CloseFactorBps:          cfg.Risk.CloseFactorBps,
		LiquidationPenaltyBps:   cfg.Risk.LiquidationPenaltyBps,
		MaxAccrualDt:            cfg.Risk.MaxAccrualDt.Duration,
	}
	split := lending.LiquidationSplit{
		LiquidatorBps: cfg.Split.LiquidatorBps,
		InsuranceBps:  cfg.Split.InsuranceBps,
		TreasuryBps:   cfg.Split.TreasuryBps,
	}
	if err := engine.SetLiquidationPolicy(admin, params, split); err != nil {
		return err
	}
	if err := treasury.SetBotRewardBps(admin, cfg.Rewards.BotRewardBps); err != nil {
		return err
	}
	if cfg.Rewards.SweepGrace.Duration > 0 {
		if err := treasury.SetSweepGrace(admin, cfg.Rewards.SweepGrace.Duration); err != nil {
			return err
		}
	}
	for task, weight := range cfg.Rewards.PointWeights {
		if err := points.SetWeight(admin, task, weight); err != nil {
			return err
		}
	}
	return nil
}

func listAssets(engine *lending.Engine, registry *oracle.Registry, admin authority.Capability, cfg *config.Config) error {
	for _, asset := range cfg.Assets {
		if err := registry.SetFeed(admin, asset.Symbol, asset.Feed.FeedID, asset.Feed.MaxAge.Duration); err != nil {
			return err
		}
		pool := lending.Pool{
			Symbol:           strings.ToUpper(strings.TrimSpace(asset.Symbol)),
			ReserveFactorBps: asset.ReserveFactorBps,
			MaxTxUnits:       parseCap(asset.MaxTxUnits),
			MaxSupplyUnits:   parseCap(asset.MaxSupplyUnits),
			MaxBorrowUnits:   parseCap(asset.MaxBorrowUnits),
		}
		err := engine.ListAsset(admin, lending.Asset{
			Symbol:              pool.Symbol,
			Decimals:            asset.Decimals,
			CollateralWeightBps: asset.CollateralWeightBps,
		}, pool)
		if err != nil && !errors.Is(err, lending.ErrAlreadyListed) {
			return err
		}
	}
	return nil
}

func parseCap(raw string) lending.Units {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return lending.Units{}
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return lending.Units{}
	}
	return lending.NewUnits(value)
}
