package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики движка.
//
// Все методы безопасны для nil *Metrics: в тестах и в relay-cli
// метрики можно не создавать.
type Metrics struct {
	activeNodes   *prometheus.GaugeVec
	nodesCreated  *prometheus.CounterVec
	closeDuration prometheus.Histogram
	closeFailures *prometheus.CounterVec
	errorsRouted  *prometheus.CounterVec
	statusRouted  *prometheus.CounterVec
	logEvents     *prometheus.CounterVec
	deploys       *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики в reg.
// reg == nil — метрики создаются без регистрации.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_flow_active_nodes",
			Help: "Number of active node instances per flow",
		}, []string{"flow"}),
		nodesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nodes_created_total",
			Help: "Node construction attempts by type and result",
		}, []string{"type", "result"}),
		closeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_node_close_duration_seconds",
			Help:    "Time spent closing a node instance",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
		closeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_node_close_failures_total",
			Help: "Node close calls that failed or timed out",
		}, []string{"reason"}),
		errorsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_errors_routed_total",
			Help: "Runtime errors by routing outcome",
		}, []string{"result"}),
		statusRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_status_routed_total",
			Help: "Status updates by routing outcome",
		}, []string{"result"}),
		logEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_log_events_total",
			Help: "Engine log events by level",
		}, []string{"level"}),
		deploys: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deploys_total",
			Help: "Flow deployments by result",
		}, []string{"result"}),
	}
}

// SetActiveNodes выставляет число активных узлов flow.
func (m *Metrics) SetActiveNodes(flowID string, n int) {
	if m == nil {
		return
	}
	m.activeNodes.WithLabelValues(flowID).Set(float64(n))
}

// NodeCreated учитывает попытку создания узла.
func (m *Metrics) NodeCreated(nodeType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.nodesCreated.WithLabelValues(nodeType, result).Inc()
}

// NodeClosed учитывает закрытие узла. timeout — закрытие не уложилось в таймаут.
func (m *Metrics) NodeClosed(d time.Duration, err error, timeout bool) {
	if m == nil {
		return
	}
	m.closeDuration.Observe(d.Seconds())
	switch {
	case timeout:
		m.closeFailures.WithLabelValues("timeout").Inc()
	case err != nil:
		m.closeFailures.WithLabelValues("error").Inc()
	}
}

// ErrorRouted учитывает маршрутизацию ошибки: handled, unhandled или loop.
func (m *Metrics) ErrorRouted(result string) {
	if m == nil {
		return
	}
	m.errorsRouted.WithLabelValues(result).Inc()
}

// StatusRouted учитывает маршрутизацию статуса.
func (m *Metrics) StatusRouted(handled bool) {
	if m == nil {
		return
	}
	result := "handled"
	if !handled {
		result = "dropped"
	}
	m.statusRouted.WithLabelValues(result).Inc()
}

// DeployApplied учитывает применение развёртывания.
func (m *Metrics) DeployApplied(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.deploys.WithLabelValues(result).Inc()
}

// MetricsHandler — Handler журнала, считающий события по уровням.
type MetricsHandler struct {
	metrics *Metrics
}

// NewMetricsHandler создаёт обработчик поверх m.
func NewMetricsHandler(m *Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m}
}

// Handle реализует Handler.
func (h *MetricsHandler) Handle(e Event) {
	if h.metrics == nil {
		return
	}
	h.metrics.logEvents.WithLabelValues(e.Level.String()).Inc()
}
