package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	DispatchBroadcastsTotal prometheus.Counter
	CandidatesPerBroadcast  prometheus.Histogram
	AcceptWinsTotal         prometheus.Counter
	AcceptConflictsTotal    prometheus.Counter
	OffersExpiredTotal      prometheus.Counter
	ConsultationsTotal      *prometheus.CounterVec

	NotifyPublishFailures prometheus.Counter
	PaymentIntentFailures prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method", "path", "status"}),

		DispatchBroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "dispatch",
			Name:      "broadcasts_total",
			Help:      "Dispatch offers broadcast to candidate doctors.",
		}),

		CandidatesPerBroadcast: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "dispatch",
			Name:      "candidates_per_broadcast",
			Help:      "Number of candidate doctors notified per broadcast.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),

		AcceptWinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "dispatch",
			Name:      "accept_wins_total",
			Help:      "Accept calls that won the offer.",
		}),

		AcceptConflictsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "dispatch",
			Name:      "accept_conflicts_total",
			Help:      "Accept calls that lost the race to another doctor or the timer.",
		}),

		OffersExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "dispatch",
			Name:      "offers_expired_total",
			Help:      "Dispatch offers resolved by timeout or full decline.",
		}),

		ConsultationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "lifecycle",
			Name:      "consultations_total",
			Help:      "Consultations reaching a terminal status.",
		}, []string{"status"}),

		NotifyPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notify",
			Name:      "publish_failures_total",
			Help:      "Realtime notifications that could not be published.",
		}),

		PaymentIntentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "billing",
			Name:      "payment_intent_failures_total",
			Help:      "Payment intent creations that failed and were flagged for follow-up.",
		}),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
