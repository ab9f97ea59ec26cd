package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// unitOfWorkTotal counts coordinator executions by operation and result
	unitOfWorkTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_circle_unit_of_work_total",
		Help: "Units of work executed by operation and result",
	}, []string{"operation", "result"})

	// conflictRetriesTotal counts optimistic-lock retries
	conflictRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_circle_conflict_retries_total",
		Help: "Version conflicts that caused a unit of work to be retried",
	}, []string{"operation"})

	unitOfWorkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "savings_circle_unit_of_work_duration_seconds",
		Help:    "Unit of work duration in seconds, including retries",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})

	payoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_circle_payouts_total",
		Help: "Distributed turns by outcome",
	}, []string{"outcome"})

	penaltiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_circle_penalties_total",
		Help: "Penalties applied to members who missed a turn",
	})

	cyclesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_circle_cycles_started_total",
		Help: "Cycles opened across all communities",
	})
)
