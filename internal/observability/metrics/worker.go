package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	stageFailures   *prometheus.CounterVec
	classifierTotal *prometheus.CounterVec
}

// NewWorkerMetrics registers on registry, or on a fresh one when registry is nil.
func NewWorkerMetrics(service string, registry *prometheus.Registry) *WorkerMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdocs",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdocs",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sdocs",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdocs",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdocs",
			Subsystem: "worker",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage.",
		},
		[]string{"service", "stage"},
	)
	classifierTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdocs",
			Subsystem: "worker",
			Name:      "classifications_total",
			Help:      "Classification results by producing classifier.",
		},
		[]string{"service", "source"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueLag, stageFailures, classifierTotal)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		stageFailures:   stageFailures,
		classifierTotal: classifierTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveStageFailure(stage string) {
	m.stageFailures.WithLabelValues(m.service, stage).Inc()
}

func (m *WorkerMetrics) ObserveClassifierSource(source domain.ClassificationSource) {
	if source == "" {
		source = "unknown"
	}
	m.classifierTotal.WithLabelValues(m.service, string(source)).Inc()
}
