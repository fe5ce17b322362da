package generation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the generation pipeline collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	jobOutcomes     *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	sweepBatchSize  prometheus.Histogram
	orphansRequeued prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_attempts_total",
			Help: "Generation attempts by provider, status and classification.",
		}, []string{"provider", "status", "classification"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "generation_attempt_duration_seconds",
			Help:    "Duration of generation attempts including parsing and persistence.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"provider", "status"}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_job_outcomes_total",
			Help: "Outcomes of generation cycles by outcome and reason.",
		}, []string{"outcome", "reason"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_dispatch_total",
			Help: "Initial attempts submitted to the dispatcher by result.",
		}, []string{"result"}),
		sweepBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "generation_sweep_batch_jobs",
			Help:    "Due jobs claimed per sweep.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		orphansRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generation_orphans_requeued_total",
			Help: "Pending blueprints without a live job that were requeued.",
		}),
	}
	if registry != nil {
		registry.MustRegister(
			m.attemptsTotal,
			m.attemptDuration,
			m.jobOutcomes,
			m.dispatchTotal,
			m.sweepBatchSize,
			m.orphansRequeued,
		)
	}
	return m
}

func (m *Metrics) observeAttempt(result AttemptResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	provider := result.Provider
	if provider == "" {
		provider = "unknown"
	}
	m.attemptsTotal.WithLabelValues(provider, string(result.Status), string(result.Classification)).Inc()
	m.attemptDuration.WithLabelValues(provider, string(result.Status)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeOutcome(outcome Outcome, reason string) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(string(outcome), reason).Inc()
}

func (m *Metrics) observeDispatch(result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeSweep(claimed int) {
	if m == nil {
		return
	}
	m.sweepBatchSize.Observe(float64(claimed))
}

func (m *Metrics) observeOrphans(n int) {
	if m == nil || n == 0 {
		return
	}
	m.orphansRequeued.Add(float64(n))
}
