package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QueueItemsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_queue_items_scheduled_total", Help: "Queue items inserted"},
		[]string{"source"},
	)
	ClaimOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_claim_outcomes_total", Help: "ClaimNext results by outcome"},
		[]string{"outcome"},
	)
	ToleranceWidened = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_tolerance_widened_total", Help: "Claims evaluated with recovery tolerance"},
	)
	CooldownsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_cooldowns_applied_total", Help: "Chain steps that used the periodic cooldown"},
	)
	PublishedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_published_jobs_total", Help: "Jobs published to queue"},
	)
	ClaimsReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_claims_released_total", Help: "Claims returned to pending"},
		[]string{"reason"},
	)
	JanitorDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_janitor_deleted_total", Help: "Terminal queue items removed"},
	)
	DispatchTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_tick_duration_seconds",
			Help:    "Time spent on one dispatcher poll",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerJobsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_consumed_total", Help: "Jobs consumed"},
	)
	WorkerJobsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_sent_total", Help: "Jobs sent successfully"},
	)
	WorkerJobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_failed_total", Help: "Jobs failed"},
	)
	WorkerDuplicatesHealed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_duplicates_healed_total", Help: "Jobs skipped because the ledger already had a send"},
	)
	WorkerProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_job_process_duration_seconds",
			Help:    "Time spent processing a job",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		QueueItemsScheduled, ClaimOutcomes, ToleranceWidened, CooldownsApplied,
		PublishedJobsTotal, ClaimsReleased, JanitorDeleted, DispatchTickDuration,
		WorkerJobsConsumed, WorkerJobsSent, WorkerJobsFailed, WorkerDuplicatesHealed, WorkerProcessDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
