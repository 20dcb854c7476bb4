/*

This file contains the Prometheus collectors of the optimiser. Every collector is registered
on a private registry so tests and multiple optimisers in one process do not collide.

*/

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

const namespace = "lpo"

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleFailures *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	fractions     *prometheus.GaugeVec
	rates         *prometheus.GaugeVec
	sigmas        *prometheus.GaugeVec
	observations  *prometheus.CounterVec
	instructions  *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Completed policy cycles by decision.",
		}, []string{"instance", "decision"}),
		cycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycle_failures_total",
			Help: "Aborted policy cycles; transient failures are retried on the next cycle.",
		}, []string{"instance", "kind"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of a full cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"instance"}),
		fractions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "allocation_fraction",
			Help: "Committed capital fraction per sub-vault (1 = 100%).",
		}, []string{"instance", "sub_vault"}),
		rates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "estimated_rate_percent",
			Help: "Mean fixed rate over the lookback window.",
		}, []string{"sub_vault"}),
		sigmas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "estimated_sigma_percent",
			Help: "Observed rate volatility over the lookback window.",
		}, []string{"sub_vault"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "observations_total",
			Help: "Margin engine reads by result.",
		}, []string{"sub_vault", "result"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "instructions_total",
			Help: "Rebalance instructions by type and outcome.",
		}, []string{"instance", "type", "outcome"}),
	}
	m.registry.MustRegister(
		m.cycles, m.cycleFailures, m.cycleDuration, m.fractions,
		m.rates, m.sigmas, m.observations, m.instructions,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CycleCompleted records a finished cycle. Fractions are only exported once committed.
func (m *Metrics) CycleCompleted(result *types.AllocationResult, elapsed time.Duration) {
	instance := string(result.StrategyID)
	m.cycles.WithLabelValues(instance, string(result.Decision)).Inc()
	m.cycleDuration.WithLabelValues(instance).Observe(elapsed.Seconds())
	if result.Decision != types.DecisionRebalanceRequired {
		return
	}
	for id, f := range result.Targets {
		if v, err := fixedpoint.ToFloat64(f); err == nil {
			m.fractions.WithLabelValues(instance, subVault(id)).Set(v)
		}
	}
}

// CycleFailed records an aborted cycle.
func (m *Metrics) CycleFailed(instance types.StrategyID, err error, elapsed time.Duration) {
	kind := "fatal"
	switch {
	case errors.Is(err, types.ErrCycleInProgress):
		kind = "skipped"
	case types.IsTransient(err):
		kind = "transient"
	}
	m.cycleFailures.WithLabelValues(string(instance), kind).Inc()
	m.cycleDuration.WithLabelValues(string(instance)).Observe(elapsed.Seconds())
}

// Observed records one margin engine read.
func (m *Metrics) Observed(id types.SubVaultID, appended bool, err error) {
	result := "appended"
	switch {
	case err != nil:
		result = "error"
	case !appended:
		result = "stale"
	}
	m.observations.WithLabelValues(subVault(id), result).Inc()
}

// Estimates exports the latest rate and sigma of each sub-vault.
func (m *Metrics) Estimates(estimates []types.Estimate) {
	for _, est := range estimates {
		if v, err := fixedpoint.ToFloat64(est.Rate); err == nil {
			m.rates.WithLabelValues(subVault(est.SubVaultID)).Set(v)
		}
		if v, err := fixedpoint.ToFloat64(est.Sigma); err == nil {
			m.sigmas.WithLabelValues(subVault(est.SubVaultID)).Set(v)
		}
	}
}

// Dispatched records the receipts of a dispatched plan.
func (m *Metrics) Dispatched(instance types.StrategyID, receipts []types.InstructionReceipt) {
	for _, r := range receipts {
		outcome := "ok"
		if !r.Success {
			outcome = "failed"
		}
		m.instructions.WithLabelValues(string(instance), string(r.Instruction.Type), outcome).Inc()
	}
}

func subVault(id types.SubVaultID) string {
	return strconv.FormatUint(uint64(id), 10)
}
