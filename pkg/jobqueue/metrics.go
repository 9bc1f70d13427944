package jobqueue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	addTotal  *prometheus.CounterVec
	jobsTotal *prometheus.CounterVec
	deadTotal *prometheus.CounterVec

	processLatency *prometheus.HistogramVec

	depth *prometheus.GaugeVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		addTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "add_total",
			Help:      "Total number of jobs added to a queue.",
		}, []string{"queue"}),
		jobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_total",
			Help:      "Total number of processed job attempts by result.",
		}, []string{"queue", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "dead_total",
			Help:      "Total number of jobs that reached the terminal failed state.",
		}, []string{"queue", "reason"}),
		processLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobqueue",
			Name:      "process_latency_seconds",
			Help:      "Latency distribution for job processing.",
			Buckets: []float64{
				0.005, 0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10, 30,
			},
		}, []string{"queue", "result"}),
		depth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobqueue",
			Name:      "depth",
			Help:      "Current number of jobs per queue and state.",
		}, []string{"queue", "state"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// ObserveCounts publishes c as depth gauges for queue.
func ObserveCounts(queue string, c Counts) {
	m := getMetrics()
	m.depth.WithLabelValues(queue, string(StateWaiting)).Set(float64(c.Waiting))
	m.depth.WithLabelValues(queue, string(StateDelayed)).Set(float64(c.Delayed))
	m.depth.WithLabelValues(queue, string(StateActive)).Set(float64(c.Active))
	m.depth.WithLabelValues(queue, string(StateCompleted)).Set(float64(c.Completed))
	m.depth.WithLabelValues(queue, string(StateFailed)).Set(float64(c.Failed))
	m.depth.WithLabelValues(queue, "dead").Set(float64(c.Dead))
}
