package chatbot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_chat_requests_total",
			Help: "Chat API requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concierge_chat_request_duration_seconds",
			Help:    "Chat API request latency; for streams, time until the stream closed",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	streamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_chat_stream_frames_total",
			Help: "Decoded chat stream frames by type",
		},
		[]string{"type"},
	)

	historyCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_history_cache_lookups_total",
			Help: "History cache lookups by result",
		},
		[]string{"result"},
	)
)

func result(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := err.(*Error); ok {
		return e.Kind.String()
	}
	return "error"
}
