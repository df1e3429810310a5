package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	statusTransitionCounter   *prometheus.CounterVec
	reservationFailureCounter prometheus.Counter
	reservationDriftCounter   prometheus.Counter
	idempotencyCounter        *prometheus.CounterVec
	workerRunCounter          *prometheus.CounterVec
	expiredRechargeCounter    prometheus.Counter
	manualReviewQueueGauge    prometheus.Gauge
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		statusTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_status_transitions_total",
			Help: "Transaction status transitions by kind and new status",
		}, []string{"kind", "status"})

		reservationFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reservation_failures_total",
			Help: "Reservations refused for insufficient available balance",
		})

		reservationDriftCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reservation_drift_total",
			Help: "Users whose reserved balance diverged from open reservations",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		expiredRechargeCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recharges_expired_total",
			Help: "Recharges expired by the sweep worker",
		})

		manualReviewQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recharge_manual_review_queue_size",
			Help: "Current number of recharges waiting in manual review",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			statusTransitionCounter,
			reservationFailureCounter,
			reservationDriftCounter,
			idempotencyCounter,
			workerRunCounter,
			expiredRechargeCounter,
			manualReviewQueueGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementStatusTransition(kind, status string) {
	if statusTransitionCounter == nil {
		return
	}
	statusTransitionCounter.WithLabelValues(kind, status).Inc()
}

func IncrementReservationFailure() {
	if reservationFailureCounter == nil {
		return
	}
	reservationFailureCounter.Inc()
}

func IncrementReservationDrift() {
	if reservationDriftCounter == nil {
		return
	}
	reservationDriftCounter.Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func AddExpiredRecharges(n int) {
	if expiredRechargeCounter == nil {
		return
	}
	expiredRechargeCounter.Add(float64(n))
}

func SetManualReviewQueueSize(size int64) {
	if manualReviewQueueGauge == nil {
		return
	}
	manualReviewQueueGauge.Set(float64(size))
}
