package metrics

import (
	"net/http"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics. A nil *Collector is valid
// and records nothing, so components can run without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted  prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobsDeleted    prometheus.Counter
	jobsReconciled prometheus.Counter
	jobDuration    *prometheus.HistogramVec

	queueDepth  prometheus.Gauge
	busyWorkers prometheus.Gauge
	poolSize    prometheus.Gauge
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetch_jobs_submitted_total",
			Help: "Total number of fetch jobs accepted",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_jobs_finished_total",
			Help: "Total number of fetch jobs that reached a terminal state",
		}, []string{"status", "error_kind"}),
		jobsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetch_jobs_deleted_total",
			Help: "Total number of fetch jobs deleted",
		}),
		jobsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetch_jobs_reconciled_total",
			Help: "Total number of interrupted jobs failed during startup reconciliation",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetch_job_duration_seconds",
			Help:    "Time spent in the extraction backend per job",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetch_pool_queue_depth",
			Help: "Number of submitted jobs waiting for a worker",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetch_pool_busy_workers",
			Help: "Number of workers currently executing a job",
		}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetch_pool_size",
			Help: "Configured number of workers",
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsFinished,
		c.jobsDeleted,
		c.jobsReconciled,
		c.jobDuration,
		c.queueDepth,
		c.busyWorkers,
		c.poolSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Handler exposes the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// JobFinished records a terminal transition and the time spent executing
func (c *Collector) JobFinished(status domain.Status, kind domain.ErrorKind, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(string(status), string(kind)).Inc()
	c.jobDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (c *Collector) JobDeleted() {
	if c == nil {
		return
	}
	c.jobsDeleted.Inc()
}

func (c *Collector) JobsReconciled(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.jobsReconciled.Add(float64(n))
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Collector) SetBusyWorkers(n int) {
	if c == nil {
		return
	}
	c.busyWorkers.Set(float64(n))
}

func (c *Collector) SetPoolSize(n int) {
	if c == nil {
		return
	}
	c.poolSize.Set(float64(n))
}
