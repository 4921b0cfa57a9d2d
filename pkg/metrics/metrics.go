package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Path      string `json:"path" yaml:"path" mapstructure:"path"`
}

// Collector manages all metrics for the engine
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Assessment metrics
	AssessmentsTotal   *prometheus.CounterVec
	AssessmentDuration *prometheus.HistogramVec
	PostureScore       *prometheus.GaugeVec
	RiskScore          *prometheus.GaugeVec

	// Drift metrics
	DriftFindings    *prometheus.CounterVec
	DetectorFailures *prometheus.CounterVec

	// Cache metrics
	CacheRequests *prometheus.CounterVec

	// Scheduler metrics
	SchedulerRuns             *prometheus.CounterVec
	SchedulerSystemsProcessed *prometheus.CounterVec

	// Messaging
	EventsPublished *prometheus.CounterVec

	StartTime prometheus.Gauge
}

// NewCollector creates a new metrics collector on a private registry
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "risk_posture"
	}

	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	c.initializeMetrics()
	c.registerMetrics()

	return c
}

func (c *Collector) initializeMetrics() {
	c.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	c.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	c.AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "assessments_total",
			Help:      "Total number of drift, posture and risk assessments",
		},
		[]string{"kind", "status"},
	)

	c.AssessmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Assessment duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	c.PostureScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "posture_score",
			Help:      "Latest overall posture score per system",
		},
		[]string{"system"},
	)

	c.RiskScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "risk_score",
			Help:      "Latest risk score per system and model",
		},
		[]string{"system", "model"},
	)

	c.DriftFindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "drift_findings_total",
			Help:      "Total number of configuration drift findings",
		},
		[]string{"type", "severity"},
	)

	c.DetectorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "detector_failures_total",
			Help:      "Drift detectors that returned an error or panicked",
		},
		[]string{"type"},
	)

	c.CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "cache_requests_total",
			Help:      "Result cache lookups",
		},
		[]string{"cache", "result"},
	)

	c.SchedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "scheduler_runs_total",
			Help:      "Periodic task runs",
		},
		[]string{"task", "status"},
	)

	c.SchedulerSystemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "scheduler_systems_processed_total",
			Help:      "Systems processed by periodic tasks",
		},
		[]string{"task", "status"},
	)

	c.EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the message broker",
		},
		[]string{"topic", "status"},
	)

	c.StartTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "start_time_seconds",
			Help:      "Service start time in Unix seconds",
		},
	)
}

func (c *Collector) registerMetrics() {
	c.registry.MustRegister(
		c.RequestsTotal,
		c.RequestDuration,
		c.AssessmentsTotal,
		c.AssessmentDuration,
		c.PostureScore,
		c.RiskScore,
		c.DriftFindings,
		c.DetectorFailures,
		c.CacheRequests,
		c.SchedulerRuns,
		c.SchedulerSystemsProcessed,
		c.EventsPublished,
		c.StartTime,
	)

	c.StartTime.SetToCurrentTime()
}

// RecordHTTPRequest records HTTP request metrics
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAssessment records one drift/posture/risk run
func (c *Collector) RecordAssessment(kind string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.AssessmentsTotal.WithLabelValues(kind, status).Inc()
	c.AssessmentDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordPostureScore sets the posture gauge for a system
func (c *Collector) RecordPostureScore(systemID string, score float64) {
	c.PostureScore.WithLabelValues(systemID).Set(score)
}

// RecordRiskScore sets the risk gauge for a system and model
func (c *Collector) RecordRiskScore(systemID, model string, score float64) {
	c.RiskScore.WithLabelValues(systemID, model).Set(score)
}

// RecordDriftFinding counts a drift finding
func (c *Collector) RecordDriftFinding(driftType, severity string) {
	c.DriftFindings.WithLabelValues(driftType, severity).Inc()
}

// RecordDetectorFailure counts a failed detector run
func (c *Collector) RecordDetectorFailure(driftType string) {
	c.DetectorFailures.WithLabelValues(driftType).Inc()
}

// RecordCacheRequest records a cache hit or miss
func (c *Collector) RecordCacheRequest(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordSchedulerRun records a periodic task run
func (c *Collector) RecordSchedulerRun(task string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.SchedulerRuns.WithLabelValues(task, status).Inc()
}

// RecordSystemProcessed records one system handled by a periodic task
func (c *Collector) RecordSystemProcessed(task string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.SchedulerSystemsProcessed.WithLabelValues(task, status).Inc()
}

// RecordEventPublished records an outbound event
func (c *Collector) RecordEventPublished(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.EventsPublished.WithLabelValues(topic, status).Inc()
}

// GetRegistry returns the metrics registry
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// CreateHandler creates an HTTP handler for metrics
func (c *Collector) CreateHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Timer helps measure operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
