package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry              *prometheus.Registry
	jobsTotal             *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	activeJobs            prometheus.Gauge
	imagesTranscodedTotal prometheus.Counter
	sourceBytesTotal      prometheus.Counter
	outputBytesTotal      prometheus.Counter
	webhookFailuresTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetflow_worker_jobs_total",
			Help: "Total worker jobs by source kind and final status.",
		}, []string{"source_kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_kind", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetflow_worker_active_jobs",
			Help: "Current number of jobs holding a processing slot.",
		}),
		imagesTranscodedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetflow_worker_images_transcoded_total",
			Help: "Total image assets re-encoded by the worker.",
		}),
		sourceBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetflow_worker_source_bytes_total",
			Help: "Total bytes read from job sources.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetflow_worker_output_bytes_total",
			Help: "Total bytes written to object storage.",
		}),
		webhookFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetflow_worker_webhook_failures_total",
			Help: "Total webhook deliveries that failed after all attempts.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.imagesTranscodedTotal,
		m.sourceBytesTotal,
		m.outputBytesTotal,
		m.webhookFailuresTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
