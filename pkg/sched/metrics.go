package sched

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics, exposed via /metrics on the API server.
var (
	jobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "millrun_jobs_started_total",
		Help: "Number of jobs dispatched to the machine.",
	})

	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "millrun_jobs_completed_total",
		Help: "Number of jobs that ran to completion.",
	})

	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "millrun_jobs_failed_total",
		Help: "Number of jobs that failed to dispatch or stream.",
	})

	linesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "millrun_lines_completed_total",
		Help: "Number of program lines confirmed by the machine.",
	})

	faults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "millrun_job_faults_total",
		Help: "Number of fault events reported by the streamer.",
	})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "millrun_active_jobs",
		Help: "Number of jobs currently dispatched to the machine (0 or 1).",
	})
)
