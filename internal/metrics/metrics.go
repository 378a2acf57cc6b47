// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "design2code"

	jobsClaimedTotal      = "jobs_claimed_total"
	jobOutcomesTotal      = "job_outcomes_total"
	fetchAttemptsTotal    = "fetch_attempts_total"
	generateRequestsTotal = "generate_requests_total"

	// Labels
	triggerLabel = "trigger"
	statusLabel  = "status"
	labelLabel   = "label"
	resultLabel  = "result"
	modeLabel    = "mode"
)

// Fetch attempt results
const (
	FetchResultOK          = "ok"
	FetchResultRateLimited = "rate_limited"
	FetchResultError       = "error"
)

var jobsClaimedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobsClaimedTotal,
		Help:      "number of generation jobs claimed, by trigger",
	},
	[]string{triggerLabel},
)

var jobOutcomesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobOutcomesTotal,
		Help:      "number of processed generation jobs, by resulting status",
	},
	[]string{statusLabel},
)

var fetchAttemptsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      fetchAttemptsTotal,
		Help:      "number of upstream design API attempts, by call label and result",
	},
	[]string{labelLabel, resultLabel},
)

var generateRequestsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      generateRequestsTotal,
		Help:      "number of create-generation requests, by how the immediate result was produced",
	},
	[]string{modeLabel},
)

func IncreaseJobsClaimed(trigger string, n int) {
	if n <= 0 {
		return
	}
	jobsClaimedMetric.With(prometheus.Labels{triggerLabel: trigger}).Add(float64(n))
}

func IncreaseJobOutcome(status string) {
	jobOutcomesMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseFetchAttempt(label, result string) {
	fetchAttemptsMetric.With(prometheus.Labels{labelLabel: label, resultLabel: result}).Inc()
}

func IncreaseGenerateRequest(mode string) {
	generateRequestsMetric.With(prometheus.Labels{modeLabel: mode}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsClaimedMetric)
	prometheus.MustRegister(jobOutcomesMetric)
	prometheus.MustRegister(fetchAttemptsMetric)
	prometheus.MustRegister(generateRequestsMetric)
}
