package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hemotrack"

// Metrics holds the Prometheus collectors for one process. Each instance owns
// its registry so tests can create as many as they like.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	remindersScheduled *prometheus.CounterVec
	remindersFired     *prometheus.CounterVec
	responsesAnswered  *prometheus.CounterVec
	notifications      *prometheus.CounterVec

	syncRuns     *prometheus.CounterVec
	syncRows     *prometheus.CounterVec
	syncDuration prometheus.Histogram
	unsentRows   *prometheus.GaugeVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	deviceSamples *prometheus.CounterVec
	wsClients     prometheus.Gauge

	// plain counters for the status snapshot
	firedTotal    atomic.Int64
	answeredTotal atomic.Int64
	syncFailures  atomic.Int64
	requestsTotal atomic.Int64
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide instance
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates a Metrics with a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		remindersScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_scheduled_total",
			Help:      "Prophylaxis alarms registered, by mode",
		}, []string{"mode"}),
		remindersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Prophylaxis alarms that fired, by mode",
		}, []string{"mode"}),
		responsesAnswered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_answered_total",
			Help:      "Prophylaxis responses answered, by answer",
		}, []string{"answer"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications delivered, by channel and result",
		}, []string{"channel", "result"}),

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs, by result",
		}, []string{"result"}),
		syncRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rows_total",
			Help:      "Rows pushed to the remote datastore, by table and result",
		}, []string{"table", "result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync runs",
			Buckets:   prometheus.DefBuckets,
		}),
		unsentRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unsent_rows",
			Help:      "Rows waiting for replication, by table",
		}, []string{"table"}),

		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs, by job and result",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),

		deviceSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_samples_total",
			Help:      "Vital samples received from paired devices, by kind",
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected notification stream clients",
		}),
	}

	reg.MustRegister(
		m.remindersScheduled, m.remindersFired, m.responsesAnswered, m.notifications,
		m.syncRuns, m.syncRows, m.syncDuration, m.unsentRows,
		m.jobRuns, m.jobDuration,
		m.httpRequests, m.httpDuration,
		m.deviceSamples, m.wsClients,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordReminderScheduled(mode string) {
	m.remindersScheduled.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordReminderFired(mode string) {
	m.remindersFired.WithLabelValues(mode).Inc()
	m.firedTotal.Add(1)
}

func (m *Metrics) RecordResponse(answer string) {
	m.responsesAnswered.WithLabelValues(answer).Inc()
	m.answeredTotal.Add(1)
}

func (m *Metrics) RecordNotification(channel string, err error) {
	m.notifications.WithLabelValues(channel, result(err)).Inc()
}

// RecordSync records one sync run
func (m *Metrics) RecordSync(d time.Duration, err error) {
	m.syncRuns.WithLabelValues(result(err)).Inc()
	m.syncDuration.Observe(d.Seconds())
	if err != nil {
		m.syncFailures.Add(1)
	}
}

func (m *Metrics) RecordSyncRows(table string, sent, failed int) {
	if sent > 0 {
		m.syncRows.WithLabelValues(table, "success").Add(float64(sent))
	}
	if failed > 0 {
		m.syncRows.WithLabelValues(table, "error").Add(float64(failed))
	}
}

func (m *Metrics) SetUnsent(table string, n int64) {
	m.unsentRows.WithLabelValues(table).Set(float64(n))
}

func (m *Metrics) RecordJob(job string, d time.Duration, err error) {
	m.jobRuns.WithLabelValues(job, result(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) RecordHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
	m.requestsTotal.Add(1)
}

func (m *Metrics) RecordDeviceSample(kind string) {
	m.deviceSamples.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementWSClients() { m.wsClients.Inc() }
func (m *Metrics) DecrementWSClients() { m.wsClients.Dec() }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type Snapshot struct {
	Uptime            time.Duration `json:"uptime"`
	RemindersFired    int64         `json:"reminders_fired"`
	ResponsesAnswered int64         `json:"responses_answered"`
	SyncFailures      int64         `json:"sync_failures"`
	RequestsTotal     int64         `json:"requests_total"`
}

func (m *Metrics) Snapshot() *Snapshot {
	return &Snapshot{
		Uptime:            time.Since(m.startTime),
		RemindersFired:    m.firedTotal.Load(),
		ResponsesAnswered: m.answeredTotal.Load(),
		SyncFailures:      m.syncFailures.Load(),
		RequestsTotal:     m.requestsTotal.Load(),
	}
}
