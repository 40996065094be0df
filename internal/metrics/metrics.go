package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exstem_cbt"

// Metrics holds the Prometheus collectors for the attempt engine and its HTTP surface.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AttemptsStarted     prometheus.Counter
	AttemptsFinished    *prometheus.CounterVec
	AnswersRecorded     prometheus.Counter
	AttemptErrors       *prometheus.CounterVec
	NotificationsFailed prometheus.Counter

	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	DBConnPoolStats  *prometheus.GaugeVec
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AttemptsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_started_total",
			Help:      "Total number of attempts started",
		}),
		AttemptsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_finished_total",
			Help:      "Total number of attempts that reached a terminal state",
		}, []string{"status"}),
		AnswersRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_recorded_total",
			Help:      "Total number of answer upserts",
		}),
		AttemptErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_errors_total",
			Help:      "Attempt operations rejected with a domain error",
		}, []string{"kind"}),
		NotificationsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Result notifications that could not be handed off",
		}),
		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),
		DBConnPoolStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool",
			Help:      "Database connection pool statistics",
		}, []string{"stat"}),
	}
}

func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.AttemptsStarted.Inc()
}

func (m *Metrics) AttemptFinished(status string) {
	if m == nil {
		return
	}
	m.AttemptsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) AnswerRecorded() {
	if m == nil {
		return
	}
	m.AnswersRecorded.Inc()
}

func (m *Metrics) AttemptError(kind string) {
	if m == nil {
		return
	}
	m.AttemptErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationsFailed.Inc()
}

// GinMiddleware records request count, latency and in-flight requests.
// Routes are labelled by their registered pattern to keep cardinality bounded.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// RecordDBPoolStats copies pgxpool statistics into the pool gauge.
func (m *Metrics) RecordDBPoolStats(stat *pgxpool.Stat) {
	if m == nil || stat == nil {
		return
	}
	m.DBConnPoolStats.WithLabelValues("total").Set(float64(stat.TotalConns()))
	m.DBConnPoolStats.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
	m.DBConnPoolStats.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	m.DBConnPoolStats.WithLabelValues("max").Set(float64(stat.MaxConns()))
	m.DBConnPoolStats.WithLabelValues("empty_acquire_count").Set(float64(stat.EmptyAcquireCount()))
	m.DBConnPoolStats.WithLabelValues("acquire_duration_ms").Set(float64(stat.AcquireDuration().Milliseconds()))
}
