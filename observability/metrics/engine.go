package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EngineMetrics struct {
	accruals       *prometheus.CounterVec
	accrualClamps  *prometheus.CounterVec
	liquidations   *prometheus.CounterVec
	staleRejects   *prometheus.CounterVec
	pointsAwarded  *prometheus.CounterVec
	claimsPaid     *prometheus.CounterVec
	epochReserve   *prometheus.GaugeVec
	insuranceFunds *prometheus.GaugeVec
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "risk_accruals_total",
				Help: "Count of successful pool accruals by asset.",
			}, []string{"asset"}),
			accrualClamps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "risk_accrual_clamps_total",
				Help: "Count of accruals whose elapsed time was clamped, by asset.",
			}, []string{"asset"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "risk_liquidations_total",
				Help: "Count of executed liquidations by outcome.",
			}, []string{"outcome"}),
			staleRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "risk_price_rejections_total",
				Help: "Count of rejected price reads by reason.",
			}, []string{"reason"}),
			pointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "risk_points_awarded_total",
				Help: "Maintenance points granted by task.",
			}, []string{"task"}),
			claimsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "risk_reward_claims_total",
				Help: "Count of reward claims paid by epoch.",
			}, []string{"epoch"}),
			epochReserve: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "risk_epoch_reserve",
				Help: "Remaining bot-rewards reserve per epoch and asset.",
			}, []string{"epoch", "asset"}),
			insuranceFunds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "risk_insurance_balance",
				Help: "Insurance fund balance per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			engineRegistry.accruals,
			engineRegistry.accrualClamps,
			engineRegistry.liquidations,
			engineRegistry.staleRejects,
			engineRegistry.pointsAwarded,
			engineRegistry.claimsPaid,
			engineRegistry.epochReserve,
			engineRegistry.insuranceFunds,
		)
	})
	return engineRegistry
}

func (m *EngineMetrics) ObserveAccrual(asset string, clamped bool) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.accruals.WithLabelValues(asset).Inc()
	if clamped {
		m.accrualClamps.WithLabelValues(asset).Inc()
	}
}

func (m *EngineMetrics) ObserveLiquidation(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.liquidations.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObservePriceRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.staleRejects.WithLabelValues(reason).Inc()
}

func (m *EngineMetrics) ObservePointsAwarded(task string, points uint64) {
	if m == nil {
		return
	}
	if task == "" {
		task = "unknown"
	}
	m.pointsAwarded.WithLabelValues(task).Add(float64(points))
}

func (m *EngineMetrics) ObserveClaim(epoch uint64) {
	if m == nil {
		return
	}
	m.claimsPaid.WithLabelValues(fmt.Sprintf("%d", epoch)).Inc()
}

func (m *EngineMetrics) SetEpochReserve(epoch uint64, asset string, amount float64) {
	if m == nil {
		return
	}
	m.epochReserve.WithLabelValues(fmt.Sprintf("%d", epoch), asset).Set(amount)
}

func (m *EngineMetrics) SetInsuranceBalance(asset string, amount float64) {
	if m == nil {
		return
	}
	m.insuranceFunds.WithLabelValues(asset).Set(amount)
}
