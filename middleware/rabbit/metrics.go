package rabbit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evbus_published_total",
		Help: "Total number of integration events published, by event and result",
	}, []string{"event", "result"})

	unroutableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evbus_unroutable_total",
		Help: "Total number of published integration events returned by the broker as unroutable",
	}, []string{"event"})

	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evbus_delivered_total",
		Help: "Total number of integration events delivered to the consumer, by event and outcome",
	}, []string{"event", "outcome"})

	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evbus_handler_duration_seconds",
		Help:    "Time spent in integration event handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"event", "handler"})

	reconnectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evbus_reconnect_total",
		Help: "Total number of successful reconnects to the broker",
	})

	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evbus_connected",
		Help: "Whether the broker connection is established (1) or not (0)",
	})
)

const (
	outcomeAcked     = "acked"
	outcomeFailed    = "failed"
	outcomeNoHandler = "no_handler"

	resultOk     = "ok"
	resultFailed = "failed"
)
