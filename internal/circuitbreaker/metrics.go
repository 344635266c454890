package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatcore_circuit_breaker_state",
			Help: "Current position of a circuit breaker (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_circuit_breaker_requests_total",
			Help: "Calls made through a circuit breaker, including ones it rejected, labeled by breaker state and outcome.",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_circuit_breaker_state_changes_total",
			Help: "Transitions a circuit breaker has made.",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatcore_circuit_breaker_open_since_seconds",
			Help: "Unix timestamp a circuit breaker tripped open, or 0 while not open.",
		},
		[]string{"name", "service"},
	)
)

// breakerRegistry identifies a dependency by name and owning service, e.g.
// ("llm-azure", "llm-client") or ("postgresql", "chatrepo-postgres").
type breakerRegistry struct {
	name, service string
}

// MetricsCollector exports Prometheus series for every CircuitBreaker that
// registers with it. There's one process-wide instance (GlobalMetricsCollector)
// since the three wrapper types (HTTP, database, redis) each construct their
// own breaker independently and have no other place to share a registry.
type MetricsCollector struct {
	mu       sync.Mutex
	breakers map[breakerRegistry]*CircuitBreaker
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[breakerRegistry]*CircuitBreaker)}
}

// RegisterCircuitBreaker chains cb's OnStateChange (preserving any callback
// already configured) to also emit the state/transition/open-since series,
// and remembers cb so RecordRequest can resolve it back to its labels.
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.breakers[breakerRegistry{name, service}] = cb

	prior := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if prior != nil {
			prior(cbName, from, to)
		}
		breakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))

		switch {
		case to == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).SetToCurrentTime()
		case from == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).Set(0)
		}
	}
}

// RecordRequest tallies one completed (or rejected) call against name/service.
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// GlobalMetricsCollector is shared by every wrapper constructor in this
// package; there is exactly one Prometheus registry per process, so a
// package-level instance avoids threading a collector through every
// NewHTTPWrapper/NewDatabaseWrapper/NewRedisWrapper call.
var GlobalMetricsCollector = NewMetricsCollector()
