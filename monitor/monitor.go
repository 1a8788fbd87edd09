// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/econgames/logger"
)

type Metrics struct {
	OnlinePlayers      prometheus.Gauge
	ActiveSessions     prometheus.Gauge
	SessionsCreated    *prometheus.CounterVec
	GamesStarted       *prometheus.CounterVec
	RoundsEvaluated    *prometheus.CounterVec
	EvaluationsAborted *prometheus.CounterVec
	VersionConflicts   prometheus.Counter
	MessagesReceived   prometheus.Counter
	MutationLatency    *prometheus.HistogramVec
	MessageLatency     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected websocket players",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions in the store",
		}),
		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created per game",
		}, []string{"game"}),
		GamesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_started_total",
			Help:      "Games started or reset per game",
		}, []string{"game"}),
		RoundsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_evaluated_total",
			Help:      "Rounds evaluated per game",
		}, []string{"game"}),
		EvaluationsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_aborted_total",
			Help:      "Round evaluations aborted for missing decisions",
		}, []string{"game"}),
		VersionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Session writes retried after a concurrent update",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of websocket messages received",
		}),
		MutationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_mutation_seconds",
			Help:      "Session mutation latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"op"}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveSessions,
		m.SessionsCreated,
		m.GamesStarted,
		m.RoundsEvaluated,
		m.EvaluationsAborted,
		m.VersionConflicts,
		m.MessagesReceived,
		m.MutationLatency,
		m.MessageLatency,
	)

	return m
}

// Monitor implements session.Metrics and serves /metrics.
type Monitor struct {
	metrics      *Metrics
	gatherer     prometheus.Gatherer
	startTime    time.Time
	requestCount int64
	sessions     atomic.Int64
	server       *http.Server
	mutex        sync.Mutex
}

var publishOnce sync.Once

// NewMonitor registers its collectors on the default registry.
func NewMonitor(namespace string) *Monitor {
	return NewMonitorWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewMonitorWithRegistry(namespace string, reg prometheus.Registerer, g prometheus.Gatherer) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  g,
		startTime: time.Now(),
	}
}

func (m *Monitor) Metrics() *Metrics { return m.metrics }

// Handler serves the prometheus metrics of this monitor.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	// 添加expvar指标
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			return m.requestCount
		}))
	})

	m.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Errorf("Metrics server stopped: %v", err)
		}
	}()
}

func (m *Monitor) Stop() {
	if m.server != nil {
		m.server.Close()
	}
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveSessions(count int) {
	m.sessions.Store(int64(count))
	m.metrics.ActiveSessions.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

func (m *Monitor) SessionCreated(gameID string) {
	m.metrics.SessionsCreated.WithLabelValues(gameID).Inc()
	m.SetActiveSessions(int(m.sessions.Add(1)))
}

func (m *Monitor) SessionDeleted() {
	if n := m.sessions.Add(-1); n >= 0 {
		m.metrics.ActiveSessions.Set(float64(n))
	} else {
		m.SetActiveSessions(0)
	}
}

func (m *Monitor) GameStarted(gameID string) {
	m.metrics.GamesStarted.WithLabelValues(gameID).Inc()
}

func (m *Monitor) RoundEvaluated(gameID string) {
	m.metrics.RoundsEvaluated.WithLabelValues(gameID).Inc()
}

func (m *Monitor) EvaluationAborted(gameID string) {
	m.metrics.EvaluationsAborted.WithLabelValues(gameID).Inc()
}

func (m *Monitor) VersionConflict() {
	m.metrics.VersionConflicts.Inc()
}

func (m *Monitor) ObserveMutation(op string, d time.Duration) {
	m.metrics.MutationLatency.WithLabelValues(op).Observe(d.Seconds())
}
