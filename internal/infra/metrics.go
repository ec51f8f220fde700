package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — сигналы control plane по четырём золотым: трафик, латентность,
// ошибки на уровне HTTP, плюс доменные счётчики жизненного цикла.
type Metrics struct {
	// HTTP-граница
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec

	// Жизненный цикл креденшлов и сессий
	TokensIssued    *prometheus.CounterVec
	SessionsCreated prometheus.Counter

	// Работа свипера: что и сколько прибрано
	SweepReclaimed *prometheus.CounterVec
}

// NewMetrics регистрирует метрики. Null Object Pattern: если регистр не
// передан, используем локальный, который никуда не подключен (для тестов).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opencontrol_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"route", "method", "code"}),

		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opencontrol_requests_total",
			Help: "Total number of processed HTTP requests.",
		}, []string{"route", "method", "code"}),

		TokensIssued: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opencontrol_tokens_issued_total",
			Help: "Credentials minted by kind.",
		}, []string{"kind"}), // kind: access, session

		SessionsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "opencontrol_sessions_created_total",
			Help: "Total number of agent sessions created.",
		}),

		SweepReclaimed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opencontrol_sweep_reclaimed_total",
			Help: "Entities reclaimed or transitioned by the maintenance sweep.",
		}, []string{"kind"}), // kind: access_token, session_token, session_terminated
	}
}

// Хелперы nil-safe: сервисы в юнит-тестах собираются без метрик.

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) SweepObserved(accessTokens, sessionTokens, sessionsTerminated int) {
	if m == nil {
		return
	}
	m.SweepReclaimed.WithLabelValues("access_token").Add(float64(accessTokens))
	m.SweepReclaimed.WithLabelValues("session_token").Add(float64(sessionTokens))
	m.SweepReclaimed.WithLabelValues("session_terminated").Add(float64(sessionsTerminated))
}
