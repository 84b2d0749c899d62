// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/delivery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/messaging"
	"github.com/BaSui01/a2abridge/types"
)

var (
	_ delivery.Observer  = (*Collector)(nil)
	_ lifecycle.Observer = (*Collector)(nil)
	_ messaging.Recorder = (*Collector)(nil)
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 报文指标
	messagesTotal *prometheus.CounterVec

	// 投递指标
	deliveryAttempts  *prometheus.CounterVec
	deliveryRetryWait *prometheus.HistogramVec
	deliveriesTotal   *prometheus.CounterVec
	deliveryTries     *prometheus.HistogramVec

	// 任务指标
	taskTransitions *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器, 指标注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 创建指标收集器并注册到 reg
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// 报文指标
	c.messagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of A2A messages sent and received",
		},
		[]string{"direction", "message_type", "outcome"},
	)

	// 投递指标
	c.deliveryAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total number of delivery attempts",
		},
		[]string{"message_type", "code"},
	)

	c.deliveryRetryWait = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_retry_wait_seconds",
			Help:      "Backoff wait before a delivery retry in seconds",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15},
		},
		[]string{"message_type"},
	)

	c.deliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of finished deliveries",
		},
		[]string{"message_type", "result"},
	)

	c.deliveryTries = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_per_delivery",
			Help:      "Attempts used by a finished delivery",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"message_type"},
	)

	// 任务指标
	c.taskTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task lifecycle transition requests",
		},
		[]string{"event", "from_state", "to_state", "outcome"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if requestSize > 0 {
		c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// ✉️ 报文与投递指标记录
// =============================================================================

// ObserveMessage implements messaging.Recorder.
func (c *Collector) ObserveMessage(direction, messageType, outcome string) {
	if messageType == "" {
		messageType = "unknown"
	}
	c.messagesTotal.WithLabelValues(direction, messageType, outcome).Inc()
}

// ObserveAttempt implements delivery.Observer.
func (c *Collector) ObserveAttempt(messageType string, code string) {
	if code == "" {
		code = "ok"
	}
	c.deliveryAttempts.WithLabelValues(messageType, code).Inc()
}

// ObserveRetryWait implements delivery.Observer.
func (c *Collector) ObserveRetryWait(messageType string, wait time.Duration) {
	c.deliveryRetryWait.WithLabelValues(messageType).Observe(wait.Seconds())
}

// ObserveDelivery implements delivery.Observer.
func (c *Collector) ObserveDelivery(messageType string, result string, attempts int) {
	c.deliveriesTotal.WithLabelValues(messageType, result).Inc()
	c.deliveryTries.WithLabelValues(messageType).Observe(float64(attempts))
}

// ObserveTransition implements lifecycle.Observer.
func (c *Collector) ObserveTransition(event lifecycle.EventType, from, to types.TaskState, outcome lifecycle.Outcome) {
	c.taskTransitions.WithLabelValues(string(event), stateLabel(from), stateLabel(to), string(outcome)).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code == 429:
		return strconv.Itoa(code)
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// stateLabel 新建任务没有前置状态
func stateLabel(s types.TaskState) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
