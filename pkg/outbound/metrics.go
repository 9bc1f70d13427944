package outbound

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	enqueueTotal  *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	terminalTotal *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbound",
			Name:      "enqueue_total",
			Help:      "Total number of outbound requests enqueued.",
		}, []string{"integration", "method"}),
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbound",
			Name:      "requests_total",
			Help:      "Total number of outbound calls performed, by status class.",
		}, []string{"integration", "method", "status_class"}),
		terminalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbound",
			Name:      "terminal_failures_total",
			Help:      "Total number of outbound requests that will not be retried.",
		}, []string{"integration", "reason"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
