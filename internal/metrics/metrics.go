// Package metrics exports ingestion loop counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/ingest"
)

const namespace = "tickrl"

// Metrics implements ingest.Recorder on its own registry so several
// instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	ticks     prometheus.Counter
	books     prometheus.Counter
	skipped   prometheus.Counter
	actions   *prometheus.CounterVec
	rewards   prometheus.Histogram
	flushes   prometheus.Counter
	flushSize prometheus.Histogram
	epsilon   prometheus.Gauge
	lastLoss  prometheus.Gauge
}

// New registers every collector, plus Go runtime and process collectors, for
// one market.
func New(market string) *Metrics {
	labels := prometheus.Labels{"market": market}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total", Help: "Trade ticks received.", ConstLabels: labels,
		}),
		books: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "books_total", Help: "Order book snapshots received.", ConstLabels: labels,
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "steps_skipped_total", Help: "Ticks that produced no experience.", ConstLabels: labels,
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "actions_total", Help: "Actions taken by the policy.", ConstLabels: labels,
		}, []string{"action"}),
		rewards: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "step_reward", Help: "Reward per step.", ConstLabels: labels,
			Buckets: []float64{-0.05, -0.01, -0.001, 0, 0.001, 0.01, 0.05},
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_flushed_total", Help: "Experience batches persisted.", ConstLabels: labels,
		}),
		flushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_size", Help: "Samples per flushed batch.", ConstLabels: labels,
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		epsilon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "epsilon", Help: "Current exploration rate.", ConstLabels: labels,
		}),
		lastLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "train_loss", Help: "Loss of the latest training pass.", ConstLabels: labels,
		}),
	}
	m.reg.MustRegister(
		m.ticks, m.books, m.skipped, m.actions, m.rewards,
		m.flushes, m.flushSize, m.epsilon, m.lastLoss,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for a := domain.ActionBuy; a <= domain.ActionHold; a++ {
		m.actions.WithLabelValues(a.String())
	}
	return m
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) TickReceived() { m.ticks.Inc() }
func (m *Metrics) BookReceived() { m.books.Inc() }
func (m *Metrics) StepSkipped()  { m.skipped.Inc() }

func (m *Metrics) StepTaken(action domain.Action, reward float32) {
	m.actions.WithLabelValues(action.String()).Inc()
	m.rewards.Observe(float64(reward))
}

func (m *Metrics) BatchFlushed(size int) {
	m.flushes.Inc()
	m.flushSize.Observe(float64(size))
}

func (m *Metrics) EpsilonChanged(eps float32) { m.epsilon.Set(float64(eps)) }
func (m *Metrics) LossObserved(loss float32)  { m.lastLoss.Set(float64(loss)) }

var _ ingest.Recorder = (*Metrics)(nil)
