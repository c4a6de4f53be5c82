package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "raffle_layer"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"route", "method", "code"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"route", "method"},
	)

	raffleEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Total number of accepted raffle entries.",
		},
	)

	raffleRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "rejections_total",
			Help:      "Rejected raffle operations by operation and reason.",
		},
		[]string{"operation", "reason"},
	)

	raffleDraws = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "draws_requested_total",
			Help:      "Total number of draws that requested randomness.",
		},
	)

	raffleWinners = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "winners_total",
			Help:      "Total number of rounds paid out.",
		},
	)

	rafflePayoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "payout_failures_total",
			Help:      "Total number of failed payout transfers.",
		},
	)

	raffleDrawLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "draw_latency_seconds",
			Help:      "Time between requesting randomness and paying the winner.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	rafflePot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "pot",
			Help:      "Current pot in whole units.",
		},
	)

	raffleEntrants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "entrants",
			Help:      "Current number of entries in the open round.",
		},
	)

	raffleState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "state",
			Help:      "Raffle state: 0 open, 1 calculating.",
		},
	)

	keeperUpkeeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "upkeeps_total",
			Help:      "Keeper ticks by outcome.",
		},
		[]string{"outcome"},
	)

	keeperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "upkeep_duration_seconds",
			Help:      "Duration of keeper ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	vrfRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "requests_total",
			Help:      "Total number of randomness requests accepted by the coordinator.",
		},
	)

	vrfFulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "fulfillments_total",
			Help:      "Randomness fulfilments by consumer callback result.",
		},
		[]string{"success"},
	)

	vrfPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "pending_requests",
			Help:      "Randomness requests awaiting fulfilment.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		raffleEntries,
		raffleRejections,
		raffleDraws,
		raffleWinners,
		rafflePayoutFailures,
		raffleDrawLatency,
		rafflePot,
		raffleEntrants,
		raffleState,
		keeperUpkeeps,
		keeperDuration,
		vrfRequests,
		vrfFulfillments,
		vrfPending,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with promhttp's in-flight, counter and
// duration middleware, labelling each request by its route template.
// Scrapes of /metrics are not counted.
func InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(httpInFlight, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		route := prometheus.Labels{"route": routeLabel(r.URL.Path)}
		promhttp.InstrumentHandlerDuration(httpDuration.MustCurryWith(route),
			promhttp.InstrumentHandlerCounter(httpRequests.MustCurryWith(route), next),
		).ServeHTTP(w, r)
	}))
}

// RecordEntry counts an accepted entry.
func RecordEntry() {
	raffleEntries.Inc()
}

// RecordRejection counts a rejected engine operation.
func RecordRejection(operation, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	raffleRejections.WithLabelValues(operation, reason).Inc()
}

// RecordDrawRequested counts a draw that moved the raffle to calculating.
func RecordDrawRequested() {
	raffleDraws.Inc()
}

// RecordWinner records a completed payout and the time the draw took.
func RecordWinner(latency time.Duration) {
	if latency <= 0 {
		latency = time.Millisecond
	}
	raffleWinners.Inc()
	raffleDrawLatency.Observe(latency.Seconds())
}

// RecordPayoutFailure counts a payout transfer that did not go through.
func RecordPayoutFailure() {
	rafflePayoutFailures.Inc()
}

// SetRound publishes the round gauges.
func SetRound(state int, entrants int, pot float64) {
	raffleState.Set(float64(state))
	raffleEntrants.Set(float64(entrants))
	rafflePot.Set(pot)
}

// RecordUpkeep records the outcome and duration of a keeper tick.
func RecordUpkeep(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	keeperUpkeeps.WithLabelValues(outcome).Inc()
	keeperDuration.Observe(duration.Seconds())
}

// RecordRandomnessRequest counts a request accepted by the coordinator.
func RecordRandomnessRequest() {
	vrfRequests.Inc()
}

// RecordFulfillment records a coordinator fulfilment and its callback result.
func RecordFulfillment(success bool) {
	vrfFulfillments.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// SetPendingRequests publishes the coordinator queue depth.
func SetPendingRequests(n int) {
	vrfPending.Set(float64(n))
}

// routeLabel maps a request path onto the operator API route it hits.
// Anything else collapses to its first segment.
func routeLabel(path string) string {
	seg := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case seg[0] == "":
		return "/"
	case len(seg) < 3 || seg[0] != "v1" || seg[1] != "raffle":
		return "/" + seg[0]
	}
	route := "/v1/raffle/" + seg[2]
	if len(seg) > 3 {
		switch seg[2] {
		case "entrants":
			route += "/{index}"
		case "rounds":
			route += "/{id}"
		}
	}
	return route
}
