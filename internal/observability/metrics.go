package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	idempotencyCounter    *prometheus.CounterVec
	allocationCounter     *prometheus.CounterVec
	transitionCounter     *prometheus.CounterVec
	notificationCounter   *prometheus.CounterVec
	callbackCounter       *prometheus.CounterVec
	callbackQueueGauge    prometheus.Gauge
	workerRunCounter      *prometheus.CounterVec
	frozenImbalanceCount  prometheus.Counter
	panicCounter          prometheus.Counter
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		allocationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requisite_allocations_total",
			Help: "Requisite allocation attempts by outcome",
		}, []string{"result"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_transitions_total",
			Help: "Committed transaction status transitions",
		}, []string{"from", "to"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_processed_total",
			Help: "Bank notifications processed by the matcher, by reason",
		}, []string{"reason"})

		callbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "merchant_callbacks_total",
			Help: "Merchant callback delivery attempts",
		}, []string{"result"})

		callbackQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "merchant_callback_queue_size",
			Help: "Callbacks waiting for a dispatcher worker",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		frozenImbalanceCount = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_frozen_imbalance_total",
			Help: "Traders whose frozen balance disagreed with open reservations",
		})

		panicCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panics_recovered_total",
			Help: "Handler panics converted into 500 responses",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			allocationCounter,
			transitionCounter,
			notificationCounter,
			callbackCounter,
			callbackQueueGauge,
			workerRunCounter,
			frozenImbalanceCount,
			panicCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementAllocation(result string) {
	if allocationCounter == nil {
		return
	}
	allocationCounter.WithLabelValues(result).Inc()
}

func IncrementTransition(from, to string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(from, to).Inc()
}

func IncrementNotification(reason string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(reason).Inc()
}

func IncrementCallback(result string) {
	if callbackCounter == nil {
		return
	}
	callbackCounter.WithLabelValues(result).Inc()
}

func SetCallbackQueueSize(size int) {
	if callbackQueueGauge == nil {
		return
	}
	callbackQueueGauge.Set(float64(size))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementFrozenImbalance() {
	if frozenImbalanceCount == nil {
		return
	}
	frozenImbalanceCount.Inc()
}

func IncrementPanic() {
	if panicCounter == nil {
		return
	}
	panicCounter.Inc()
}
