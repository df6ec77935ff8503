package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using client_golang counter and
// histogram vectors, one metric family per concern in §8.
type PrometheusRecorder struct {
	enqueuedTotal     *prometheus.CounterVec
	processedTotal    *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	backpressureTotal *prometheus.CounterVec
	queueWait         *prometheus.HistogramVec

	tokenLimitHits  *prometheus.CounterVec
	concurrencyHits *prometheus.CounterVec

	breakerTransitions *prometheus.CounterVec

	retryAttempts *prometheus.CounterVec
}

// NewPrometheusRecorder registers and returns a fresh PrometheusRecorder
// against the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		enqueuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_queue_enqueued_total", Help: "Items successfully enqueued, by queue."},
			[]string{"queue"},
		),
		processedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_queue_processed_total", Help: "Items processed without error, by queue."},
			[]string{"queue"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_queue_errors_total", Help: "Items whose handler returned an error, by queue."},
			[]string{"queue"},
		),
		backpressureTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_queue_backpressure_total", Help: "Enqueue attempts that timed out, by queue."},
			[]string{"queue"},
		),
		queueWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "apicore_queue_wait_seconds", Help: "Time spent waiting to enqueue or acquire tokens.", Buckets: prometheus.DefBuckets},
			[]string{"queue"},
		),
		tokenLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_token_limit_hits_total", Help: "Acquisitions that had to wait for tokens, by limiter key."},
			[]string{"limiter"},
		),
		concurrencyHits: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_concurrency_hits_total", Help: "Submissions that had to wait on the concurrency ceiling, by executor."},
			[]string{"executor"},
		),
		breakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_breaker_transitions_total", Help: "Circuit breaker state transitions."},
			[]string{"breaker", "from", "to"},
		),
		retryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "apicore_retry_attempts_total", Help: "Retry attempts beyond the first, by policy."},
			[]string{"policy"},
		),
	}
}

func (p *PrometheusRecorder) IncEnqueued(queue string)     { p.enqueuedTotal.WithLabelValues(queue).Inc() }
func (p *PrometheusRecorder) IncProcessed(queue string)    { p.processedTotal.WithLabelValues(queue).Inc() }
func (p *PrometheusRecorder) IncErrors(queue string)       { p.errorsTotal.WithLabelValues(queue).Inc() }
func (p *PrometheusRecorder) IncBackpressure(queue string) { p.backpressureTotal.WithLabelValues(queue).Inc() }

func (p *PrometheusRecorder) ObserveQueueWait(queue string, d time.Duration) {
	p.queueWait.WithLabelValues(queue).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTokenLimitHit(limiterKey string) {
	p.tokenLimitHits.WithLabelValues(limiterKey).Inc()
}

func (p *PrometheusRecorder) IncConcurrencyHit(executorName string) {
	p.concurrencyHits.WithLabelValues(executorName).Inc()
}

func (p *PrometheusRecorder) ObserveBreakerTransition(breakerName, fromState, toState string) {
	p.breakerTransitions.WithLabelValues(breakerName, fromState, toState).Inc()
}

func (p *PrometheusRecorder) IncRetryAttempt(policyName string) {
	p.retryAttempts.WithLabelValues(policyName).Inc()
}
