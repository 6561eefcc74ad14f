// Package metrics implements ports.Metrics with Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Recorder implements ports.Metrics using Prometheus.
type Recorder struct {
	reg             *prometheus.Registry
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	skippedSubjects prometheus.Counter
	signals         *prometheus.CounterVec
	duplicates      prometheus.Counter
	violations      *prometheus.CounterVec
	orders          *prometheus.CounterVec
	capital         *prometheus.GaugeVec
}

// New creates a Recorder on its own registry, with the Go and process
// collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newRecorder(reg)
}

// NewWithRegistry creates a Recorder on reg without the runtime collectors.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	return newRecorder(reg)
}

func newRecorder(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "wxbot_cycles_total",
			Help: "Total number of completed cycles",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wxbot_cycle_duration_seconds",
			Help:    "Wall time of a cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}),
		skippedSubjects: f.NewCounter(prometheus.CounterOpts{
			Name: "wxbot_skipped_subjects_total",
			Help: "Subjects left unevaluated because the cycle budget ran out",
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wxbot_signals_total",
			Help: "Signals by outcome and reason",
		}, []string{"outcome", "reason"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "wxbot_duplicate_signals_total",
			Help: "Signals suppressed by the per-cycle deduplicator",
		}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wxbot_sanity_violations_total",
			Help: "Trades blocked by the sanity gate",
		}, []string{"check"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wxbot_orders_total",
			Help: "Order submissions by action and result",
		}, []string{"action", "result"}),
		capital: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wxbot_capital_cents",
			Help: "Capital state in cents",
		}, []string{"component"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) CycleCompleted(d time.Duration, skipped int) {
	r.cycles.Inc()
	r.cycleDuration.Observe(d.Seconds())
	r.skippedSubjects.Add(float64(skipped))
}

func (r *Recorder) SignalOutcome(outcome domain.Outcome, reason string) {
	r.signals.WithLabelValues(string(outcome), reason).Inc()
}

func (r *Recorder) DuplicateSignal() {
	r.duplicates.Inc()
}

func (r *Recorder) SanityViolation(check string) {
	r.violations.WithLabelValues(check).Inc()
}

func (r *Recorder) Capital(st domain.CapitalState) {
	r.capital.WithLabelValues("balance").Set(float64(st.Balance))
	r.capital.WithLabelValues("exposure").Set(float64(st.OpenExposure))
	r.capital.WithLabelValues("reserved").Set(float64(st.Reserved))
}

func (r *Recorder) OrderSubmitted(action domain.Action, accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	r.orders.WithLabelValues(action.String(), result).Inc()
}
