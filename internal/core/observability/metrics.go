// Package observability holds the service metrics and their recording helpers.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"method", "route", "status"},
	)

	badgeCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "badge_cache_results_total",
			Help: "Badge cache lookups by outcome and partition.",
		},
		[]string{"outcome", "partition"},
	)

	badgeGenerationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "badge_generation_duration_seconds",
			Help:    "Render plus post-process duration for a badge.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"template", "result"},
	)

	badgeCacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "badge_cache_entries",
			Help: "Number of cached badges per partition.",
		},
		[]string{"partition"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Measure store operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"op"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Measure update consumer errors by kind.",
		},
		[]string{"kind"},
	)

	measureUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "measure_updates_total",
			Help: "Measure update events by result.",
		},
		[]string{"result"},
	)

	badgeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "badge_events_total",
			Help: "Badge served events by publish result.",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		badgeCacheResults, badgeGenerationSeconds, badgeCacheEntries,
		cacheOpTotal, redisOpSeconds,
		kafkaConsumerErrors, measureUpdates, badgeEvents,
	}
}

// Init registers the service metrics on reg. Metrics are always recorded,
// they are just not exposed when disabled.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func partitionLabel(blink bool) string {
	if blink {
		return "blinking"
	}
	return "plain"
}

func IncBadgeHit(blink bool) {
	badgeCacheResults.WithLabelValues("hit", partitionLabel(blink)).Inc()
}

func IncBadgeMiss(blink bool) {
	badgeCacheResults.WithLabelValues("miss", partitionLabel(blink)).Inc()
}

func ObserveGeneration(template string, err error, durationSeconds float64) {
	badgeGenerationSeconds.WithLabelValues(template, resultLabel(err)).Observe(durationSeconds)
}

func SetBadgeEntries(blink bool, n int) {
	badgeCacheEntries.WithLabelValues(partitionLabel(blink)).Set(float64(n))
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpTotal.WithLabelValues(op, resultLabel(err)).Inc()
	redisOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

// result is one of applied, stale, invalid, error
func IncMeasureUpdate(result string) {
	measureUpdates.WithLabelValues(result).Inc()
}

// result is one of queued, dropped, failed
func IncBadgeEvent(result string) {
	badgeEvents.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
