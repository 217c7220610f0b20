// Package observability provides Prometheus metrics and logging for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	NotificationsReceived prometheus.Counter
	DuplicateSignatures   prometheus.Counter
	SeenSignatures        prometheus.Gauge
	StreamState           prometheus.Gauge
	Reconnects            *prometheus.CounterVec

	// Classification metrics
	Classifications      *prometheus.CounterVec
	ClassificationsInFly prometheus.Gauge
	BuysEmitted          *prometheus.CounterVec

	// Market data metrics
	MarketRefreshes *prometheus.CounterVec
	PairChanges     prometheus.Counter
	MarketCap       prometheus.Gauge
	PriceNative     prometheus.Gauge

	// Hub metrics
	Subscribers     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	DroppedMessages prometheus.Counter
	SinkErrors      *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency        *prometheus.HistogramVec
	ClassificationLatency prometheus.Histogram
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "buywatch"
	}
	f := promauto.With(reg)

	return &Metrics{
		NotificationsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "notifications_received_total",
			Help:      "Total number of logsNotification messages received",
		}),
		DuplicateSignatures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "duplicate_signatures_total",
			Help:      "Total number of notifications suppressed by the dedup filter",
		}),
		SeenSignatures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "seen_signatures",
			Help:      "Current number of signatures retained by the dedup filter",
		}),
		StreamState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "state",
			Help:      "Log stream state (0=disconnected 1=connecting 2=subscribed 3=closed 4=errored)",
		}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connects_total",
			Help:      "Total number of connection attempts by trigger",
		}, []string{"trigger"}),

		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Total number of classified signatures by outcome",
		}, []string{"outcome"}),
		ClassificationsInFly: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "in_flight",
			Help:      "Number of classifications currently running",
		}),
		BuysEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "buys_emitted_total",
			Help:      "Total number of buy events emitted by level and source",
		}, []string{"level", "source"}),

		MarketRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "refreshes_total",
			Help:      "Total number of market data refreshes by status",
		}, []string{"status"}),
		PairChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "pair_changes_total",
			Help:      "Total number of selected pair changes",
		}),
		MarketCap: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "market_cap",
			Help:      "Last observed market cap",
		}),
		PriceNative: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "price_native",
			Help:      "Last observed price of the token in quote units",
		}),

		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Number of connected subscribers",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_published_total",
			Help:      "Total number of events published by type",
		}, []string{"type"}),
		DroppedMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_messages_total",
			Help:      "Total number of messages dropped for slow subscribers",
		}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "sink_errors_total",
			Help:      "Total number of failed sink deliveries by sink",
		}, []string{"sink"}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ClassificationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "latency_seconds",
			Help:      "End-to-end classification latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordNotification increments the notifications counter.
func RecordNotification() {
	DefaultMetrics.NotificationsReceived.Inc()
}

// RecordDuplicate increments the duplicate signatures counter.
func RecordDuplicate() {
	DefaultMetrics.DuplicateSignatures.Inc()
}

// SetSeenSignatures updates the dedup set size gauge.
func SetSeenSignatures(n int) {
	DefaultMetrics.SeenSignatures.Set(float64(n))
}

// SetStreamState updates the stream state gauge.
func SetStreamState(state int) {
	DefaultMetrics.StreamState.Set(float64(state))
}

// RecordConnect records a connection attempt.
func RecordConnect(trigger string) {
	DefaultMetrics.Reconnects.WithLabelValues(trigger).Inc()
}

// RecordClassification records a classification outcome and its latency.
func RecordClassification(outcome string, seconds float64) {
	DefaultMetrics.Classifications.WithLabelValues(outcome).Inc()
	DefaultMetrics.ClassificationLatency.Observe(seconds)
}

// AddClassificationsInFlight adjusts the in-flight gauge by delta.
func AddClassificationsInFlight(delta float64) {
	DefaultMetrics.ClassificationsInFly.Add(delta)
}

// RecordBuy records an emitted buy event.
func RecordBuy(level int, source string) {
	DefaultMetrics.BuysEmitted.WithLabelValues(strconv.Itoa(level), source).Inc()
}

// RecordMarketRefresh records a market data refresh.
func RecordMarketRefresh(status string) {
	DefaultMetrics.MarketRefreshes.WithLabelValues(status).Inc()
}

// RecordPairChange increments the pair change counter.
func RecordPairChange() {
	DefaultMetrics.PairChanges.Inc()
}

// SetMarket updates the market cap and price gauges.
func SetMarket(marketCap, priceNative float64) {
	DefaultMetrics.MarketCap.Set(marketCap)
	DefaultMetrics.PriceNative.Set(priceNative)
}

// SetSubscribers updates the subscribers gauge.
func SetSubscribers(n int) {
	DefaultMetrics.Subscribers.Set(float64(n))
}

// RecordPublish records a published event.
func RecordPublish(eventType string) {
	DefaultMetrics.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordDropped increments the dropped messages counter.
func RecordDropped() {
	DefaultMetrics.DroppedMessages.Inc()
}

// RecordSinkError records a failed sink delivery.
func RecordSinkError(sink string) {
	DefaultMetrics.SinkErrors.WithLabelValues(sink).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}
