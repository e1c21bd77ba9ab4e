package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the worker's Prometheus counters.
type Metrics struct {
	JobsProcessed    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	JobsDeferred     prometheus.Counter
	RecordsPublished prometheus.Counter
	PublishErrors    prometheus.Counter
}

// NewMetrics registers the worker counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "importworker_jobs_processed_total",
			Help: "Job messages whose handler completed, by method and outcome.",
		}, []string{"method", "outcome"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "importworker_jobs_failed_total",
			Help: "Job messages left unacknowledged for redelivery, by reason.",
		}, []string{"reason"}),
		JobsDeferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "importworker_jobs_deferred_total",
			Help: "Job messages deferred to redelivery during reconfiguration.",
		}),
		RecordsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "importworker_records_published_total",
			Help: "Transformed records published to the output subject.",
		}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "importworker_record_publish_errors_total",
			Help: "Record publishes that failed; failures are soft and counted only.",
		}),
	}
}
