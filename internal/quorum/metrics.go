package quorum

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"Certifier/internal/messages"
)

// Metrics tracks quorum rounds, authority failures and syncs.
type Metrics struct {
	rounds          *prometheus.CounterVec   // rounds counts rounds by operation and outcome
	roundDuration   *prometheus.HistogramVec // roundDuration observes round latency by operation
	authorityErrors *prometheus.CounterVec   // authorityErrors counts failed authority calls by error code
	syncs           *prometheus.CounterVec   // syncs counts source-to-destination syncs by outcome
	downloads       *prometheus.CounterVec   // downloads counts certificate fetches by outcome
}

// NewMetrics registers the aggregator metrics. A nil registerer uses a
// private registry so that several aggregators can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	return &Metrics{
		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certifier_quorum_rounds_total",
			Help: "Quorum rounds by operation and outcome.",
		}, []string{"op", "outcome"}),
		roundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certifier_quorum_round_duration_seconds",
			Help:    "Quorum round latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"op"}),
		authorityErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certifier_authority_errors_total",
			Help: "Failed authority calls by error code.",
		}, []string{"code"}),
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certifier_sync_attempts_total",
			Help: "Source-to-destination sync attempts by outcome.",
		}, []string{"outcome"}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certifier_certificate_downloads_total",
			Help: "Certificate downloads by outcome.",
		}, []string{"outcome"}),
	}
}

// authorityError records one failed authority call.
func (m *Metrics) authorityError(err error) {
	m.authorityErrors.WithLabelValues(messages.CodeOf(err).String()).Inc()
}

// outcome maps an error to a metric label.
func outcome(err error) string {
	if err != nil {
		return "failure"
	}

	return "success"
}
