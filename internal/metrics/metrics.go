package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the pipeline collectors on a registry of its own, so tests can
// build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	JobsClaimed      prometheus.Counter
	JobsApplied      *prometheus.CounterVec
	JobsReplayed     *prometheus.CounterVec
	JobsRetried      *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	IntakeMessages   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		JobsClaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_jobs_claimed_total",
				Help: "Total number of jobs moved from pending to processing",
			},
		),
		JobsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_jobs_applied_total",
				Help: "Total number of jobs whose ledger change was committed",
			},
			[]string{"type"},
		),
		JobsReplayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_jobs_replayed_total",
				Help: "Total number of jobs found already applied",
			},
			[]string{"type"},
		),
		JobsRetried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_jobs_retried_total",
				Help: "Total number of jobs requeued after a transient failure",
			},
			[]string{"type"},
		),
		JobsDeadLettered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_jobs_dead_lettered_total",
				Help: "Total number of jobs moved to the dead-letter queue",
			},
			[]string{"type", "cause"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_handler_duration_seconds",
				Help:    "Duration of one ledger handler run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		IntakeMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_intake_messages_total",
				Help: "Total number of Kafka messages handled by the intake bridge",
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobsClaimed,
		m.JobsApplied,
		m.JobsReplayed,
		m.JobsRetried,
		m.JobsDeadLettered,
		m.HandlerDuration,
		m.IntakeMessages,
	)
	return m
}
