package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_circle_payout_jobs_scheduled_total",
		Help: "Payout jobs queued or rescheduled",
	})

	// jobsFinishedTotal counts dispatched jobs by result: ok, rejected, exhausted, skipped
	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_circle_payout_jobs_finished_total",
		Help: "Dispatched payout jobs by result",
	}, []string{"result"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "savings_circle_payout_job_duration_seconds",
		Help:    "Payout job duration in seconds, including retries",
		Buckets: prometheus.DefBuckets,
	})

	pollRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_circle_poll_runs_total",
		Help: "Cron poller runs by job and result",
	}, []string{"job", "result"})
)
