// Package server exposes the risk engine over HTTP for maintenance bots:
// accrual ticks, liquidations, reward claims, oracle observations and health
// queries. Ledger operations are included so integration environments can
// drive the full flow through one daemon.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskengine/core/events"
	"riskengine/native/authority"
	"riskengine/native/lending"
	"riskengine/native/oracle"
	"riskengine/native/rewards"
	"riskengine/observability/metrics"
)

const (
	taskAccrue          = "accrue"
	taskFeedMaintenance = "feed-maintenance"
)

// Config wires the server to the engine components it fronts.
type Config struct {
	Log      *slog.Logger
	Engine   *lending.Engine
	Store    *lending.Store
	Treasury *rewards.Treasury
	Points   *rewards.PointsRegistry
	Epochs   rewards.EpochConfig
	Source   *oracle.ManualSource
	Maint    authority.Capability
	Events   *events.RingEmitter
	Clock    rewards.Clock
}

// Server is the HTTP front of the risk engine.
type Server struct {
	log      *slog.Logger
	engine   *lending.Engine
	store    *lending.Store
	treasury *rewards.Treasury
	points   *rewards.PointsRegistry
	epochs   rewards.EpochConfig
	source   *oracle.ManualSource
	maint    authority.Capability
	events   *events.RingEmitter
	clock    rewards.Clock
	metrics  *metrics.EngineMetrics
	router   http.Handler
}

// New constructs the configured HTTP router.
func New(cfg Config) *Server {
	srv := &Server{
		log:      cfg.Log,
		engine:   cfg.Engine,
		store:    cfg.Store,
		treasury: cfg.Treasury,
		points:   cfg.Points,
		epochs:   cfg.Epochs.Normalized(),
		source:   cfg.Source,
		maint:    cfg.Maint,
		events:   cfg.Events,
		clock:    cfg.Clock,
		metrics:  metrics.Engine(),
	}
	if srv.log == nil {
		srv.log = slog.Default()
	}
	if srv.clock == nil {
		srv.clock = rewards.SystemClock{}
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(api chi.Router) {
		api.Post("/pools/{symbol}/accrue", s.AccruePool)
		api.Post("/ledger/deposit", s.Deposit)
		api.Post("/ledger/withdraw", s.Withdraw)
		api.Post("/ledger/borrow", s.Borrow)
		api.Post("/ledger/repay", s.Repay)
		api.Post("/liquidations", s.Liquidate)
		api.Post("/claims", s.ClaimRewards)
		api.Post("/oracle/observations", s.RecordObservation)
		api.Get("/accounts/{owner}/health", s.AccountHealth)
		api.Get("/epochs/current", s.CurrentEpoch)
		api.Get("/events", s.RecentEvents)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lending.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, lending.ErrUnauthorized),
		errors.Is(err, oracle.ErrUnauthorized),
		errors.Is(err, rewards.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, lending.ErrAssetNotListed),
		errors.Is(err, lending.ErrPoolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrFeedNotBound),
		errors.Is(err, oracle.ErrFeedMismatch),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrInvalidPrice):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrPoolPaused),
		errors.Is(err, lending.ErrCapExceeded),
		errors.Is(err, lending.ErrInsufficientFunds),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrHealthCheckFailed),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, rewards.ErrEpochNotClosed),
		errors.Is(err, rewards.ErrGraceNotElapsed):
		status = http.StatusConflict
	}
	if errors.Is(err, oracle.ErrStalePrice) {
		s.metrics.ObservePriceRejection("stale")
	}
	if errors.Is(err, oracle.ErrFeedMismatch) {
		s.metrics.ObservePriceRejection("feed_mismatch")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func parseUnits(raw string) (lending.Units, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return lending.Units{}, lending.ErrInvalidAmount
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return lending.Units{}, lending.ErrInvalidAmount
	}
	return lending.NewUnits(value), nil
}

// AccruePool advances one pool's interest indexes and credits the calling
// bot with maintenance points.
func (s *Server) AccruePool(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	var req struct {
		Actor string `json:"actor"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	clamped, err := s.engine.Accrue(s.maint, symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveAccrual(symbol, clamped)

	var granted, epoch uint64
	if req.Actor != "" {
		var err error
		granted, epoch, err = s.points.Award(req.Actor, taskAccrue, s.clock.Now())
		if err != nil {
			s.log.Warn("award accrual points", "actor", req.Actor, "error", err)
		} else if granted > 0 {
			s.metrics.ObservePointsAwarded(taskAccrue, granted)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool":   symbol,
		"points": granted,
		"epoch":  epoch,
	})
}

type ledgerRequest struct {
	Owner  string `json:"owner"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

func (s *Server) ledgerOp(w http.ResponseWriter, r *http.Request, op func(owner, symbol string, amount lending.Units) error) {
	var req ledgerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	amount, err := parseUnits(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := op(req.Owner, req.Symbol, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":  req.Owner,
		"symbol": req.Symbol,
		"amount": amount.String(),
	})
}

// Deposit supplies units into a pool.
func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	s.ledgerOp(w, r, s.engine.Deposit)
}

// Withdraw removes supplied units from a pool.
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.ledgerOp(w, r, s.engine.Withdraw)
}

// Borrow draws liquidity against posted collateral.
func (s *Server) Borrow(w http.ResponseWriter, r *http.Request) {
	s.ledgerOp(w, r, s.engine.Borrow)
}

// Repay pays borrowed units back. The response carries the amount actually
// applied, which may be below the request when the debt was smaller.
func (s *Server) Repay(w http.ResponseWriter, r *http.Request) {
	var req ledgerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	amount, err := parseUnits(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	repaid, err := s.engine.Repay(req.Owner, req.Symbol, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":  req.Owner,
		"symbol": req.Symbol,
		"repaid": repaid.String(),
	})
}

// Liquidate executes a liquidation against an unhealthy account.
func (s *Server) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Liquidator      string `json:"liquidator"`
		Account         string `json:"account"`
		DebtAsset       string `json:"debtAsset"`
		CollateralAsset string `json:"collateralAsset"`
		Repay           string `json:"repay"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	repay, err := parseUnits(req.Repay)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.engine.Liquidate(req.Liquidator, req.Account, req.DebtAsset, req.CollateralAsset, repay)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveLiquidation(string(result.Outcome))
	s.log.Info("liquidation executed",
		"id", result.ID,
		"account", req.Account,
		"liquidator", req.Liquidator,
		"repaid", result.Repaid.String(),
		"seized", result.Seized.String(),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":              result.ID,
		"debtAsset":       result.DebtAsset,
		"collateralAsset": result.CollateralAsset,
		"repaid":          result.Repaid.String(),
		"seized":          result.Seized.String(),
		"liquidatorShare": result.LiquidatorShare.String(),
		"insuranceShare":  result.InsuranceShare.String(),
		"treasuryShare":   result.TreasuryShare.String(),
		"outcome":         string(result.Outcome),
	})
}

// ClaimRewards pays an actor's pro-rata share of a closed epoch.
func (s *Server) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
		Epoch uint64 `json:"epoch"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	claim, err := s.treasury.ClaimRewards(req.Actor, req.Epoch, s.clock.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(claim.Payouts) > 0 {
		s.metrics.ObserveClaim(req.Epoch)
	}
	payouts := make(map[string]string, len(claim.Payouts))
	for asset, amount := range claim.Payouts {
		payouts[asset] = amount.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      claim.ID,
		"actor":   claim.Actor,
		"epoch":   claim.Epoch,
		"payouts": payouts,
	})
}

// RecordObservation feeds a fresh price observation into the manual source
// and credits feed-maintenance points.
func (s *Server) RecordObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol      string `json:"symbol"`
		FeedID      string `json:"feedId"`
		Price       string `json:"price"`
		TimestampMs int64  `json:"timestampMs"`
		Actor       string `json:"actor"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(req.Price), 10)
	if !ok || price.Sign() <= 0 {
		s.writeError(w, oracle.ErrInvalidPrice)
		return
	}
	s.source.Record(oracle.Observation{
		Symbol:    req.Symbol,
		FeedID:    req.FeedID,
		Price:     price,
		Timestamp: time.UnixMilli(req.TimestampMs),
	})

	var granted uint64
	if req.Actor != "" {
		var err error
		granted, _, err = s.points.Award(req.Actor, taskFeedMaintenance, s.clock.Now())
		if err != nil {
			s.log.Warn("award feed points", "actor", req.Actor, "error", err)
		} else if granted > 0 {
			s.metrics.ObservePointsAwarded(taskFeedMaintenance, granted)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": req.Symbol,
		"points": granted,
	})
}

// AccountHealth evaluates an account without mutating state.
func (s *Server) AccountHealth(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	assessment, err := s.engine.Health(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := map[string]any{
		"owner":         owner,
		"collateralUsd": assessment.CollateralUSD.String(),
		"debtUsd":       assessment.DebtUSD.String(),
		"liquidatable":  assessment.Liquidatable,
	}
	if assessment.HealthRatio != nil {
		payload["healthRatio"] = assessment.HealthRatio.FloatString(6)
	}
	writeJSON(w, http.StatusOK, payload)
}

// CurrentEpoch reports the epoch containing the present instant.
func (s *Server) CurrentEpoch(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch": s.epochs.EpochAt(now),
		"now":   now.Unix(),
	})
}

// RecentEvents returns the retained engine events in emission order.
func (s *Server) RecentEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.events.Recent())
}
