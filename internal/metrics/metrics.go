package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters.
type Metrics struct {
	batchesApplied   prometheus.Counter
	blocksRolledBack prometheus.Counter
	eventsRouted     prometheus.Counter
	pollCycles       prometheus.Counter
	retries          prometheus.Counter
	handlerErrors    prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			batchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stackfeed_batches_applied_total",
				Help: "Total number of push batches processed",
			}),
			blocksRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stackfeed_blocks_rolled_back_total",
				Help: "Total number of blocks undone by reorganizations",
			}),
			eventsRouted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stackfeed_events_routed_total",
				Help: "Total number of domain events handled",
			}),
			pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stackfeed_poll_cycles_total",
				Help: "Total number of completed poll cycles",
			}),
			retries: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stackfeed_upstream_retries_total",
				Help: "Total number of retried upstream calls",
			}),
			handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stackfeed_handler_errors_total",
				Help: "Total number of handler invocation failures",
			}),
		}
		prometheus.MustRegister(
			metrics.batchesApplied,
			metrics.blocksRolledBack,
			metrics.eventsRouted,
			metrics.pollCycles,
			metrics.retries,
			metrics.handlerErrors,
		)
	})
	return metrics
}

// BatchesApplied increments the push batch counter.
func (m *Metrics) BatchesApplied() {
	if m != nil {
		m.batchesApplied.Inc()
	}
}

// BlocksRolledBack increments the rollback counter.
func (m *Metrics) BlocksRolledBack() {
	if m != nil {
		m.blocksRolledBack.Inc()
	}
}

// EventsRouted increments the routed event counter.
func (m *Metrics) EventsRouted() {
	if m != nil {
		m.eventsRouted.Inc()
	}
}

// PollCycles increments the poll cycle counter.
func (m *Metrics) PollCycles() {
	if m != nil {
		m.pollCycles.Inc()
	}
}

// Retries increments the upstream retry counter.
func (m *Metrics) Retries() {
	if m != nil {
		m.retries.Inc()
	}
}

// HandlerErrors increments the handler failure counter.
func (m *Metrics) HandlerErrors() {
	if m != nil {
		m.handlerErrors.Inc()
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
