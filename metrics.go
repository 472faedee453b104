package bugdrill

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the authenticating transport's activity. Register one with
// WithMetrics to observe request volume, authorization retries, and token
// refresh outcomes.
type Metrics struct {
	requestTotal *prometheus.CounterVec
	authRetries  prometheus.Counter
	refreshTotal *prometheus.CounterVec
}

// NewMetrics creates the client collectors and registers them with reg.
// Passing nil registers against the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bugdrill",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Count of API requests by method and status",
		}, []string{"method", "status"}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bugdrill",
			Subsystem: "client",
			Name:      "auth_retries_total",
			Help:      "Requests replayed after a token refresh",
		}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bugdrill",
			Subsystem: "client",
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.requestTotal, m.authRetries, m.refreshTotal)
	return m
}

func (m *Metrics) observeRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) observeAuthRetry() {
	if m == nil {
		return
	}
	m.authRetries.Inc()
}

func (m *Metrics) observeRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}
