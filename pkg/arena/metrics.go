package arena

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "arena"

// Metrics are the Prometheus collectors updated after every tick.
type Metrics struct {
	ticks              prometheus.Counter
	generations        prometheus.Counter
	instructions       prometheus.Counter
	instructionErrors  *prometheus.CounterVec
	grants             prometheus.Counter
	availableResources prometheus.Gauge
	utilization        prometheus.Gauge
	agents             prometheus.Gauge
}

// NewMetrics creates the arena collectors and registers them with
// registerer. A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "Number of completed ticks",
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "generations_total",
			Help:      "Number of generation boundaries crossed",
		}),
		instructions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instructions_total",
			Help:      "Number of VM instructions executed",
		}),
		instructionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instruction_errors_total",
			Help:      "Number of VM instruction failures by kind",
		}, []string{"kind"}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "territory_grants_total",
			Help:      "Number of allocator territories granted to agents",
		}),
		availableResources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "available_resources",
			Help:      "VM resource budget left in the current generation",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "territory_utilization",
			Help:      "Fraction of allocator territories in use",
		}),
		agents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "agents",
			Help:      "Number of agents in the arena",
		}),
	}
	if registerer == nil {
		return m, nil
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		m.ticks,
		m.generations,
		m.instructions,
		m.instructionErrors,
		m.grants,
		m.availableResources,
		m.utilization,
		m.agents,
	} {
		errs = append(errs, registerer.Register(c))
	}
	return m, errors.Join(errs...)
}

// observe records a completed tick. Instruction errors are counted where
// they occur, including those that abort the tick.
func (m *Metrics) observe(stats *TickStats) {
	m.ticks.Inc()
	m.instructions.Add(float64(stats.Instructions))
	m.grants.Add(float64(stats.Grants))
	m.availableResources.Set(float64(stats.AvailableResources))
	m.utilization.Set(float64(stats.Utilization))
	m.agents.Set(float64(stats.Agents))
}
