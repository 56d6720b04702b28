// Package metrics 提供 Prometheus helper，覆盖中继与会话的核心指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/fixit/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// 出站方向放行的帧数
	FramesOutTotal prometheus.Counter
	// 入站方向放行的帧数
	FramesInTotal prometheus.Counter
	// 进入拦截队列的帧数
	FramesInterceptedTotal prometheus.Counter
	// 被操作者丢弃的帧数
	FramesDroppedTotal prometheus.Counter
	// 解析出的畸形字段数
	MalformedFieldsTotal prometheus.Counter
	// 检测到的入站序列缺口数
	SequenceGapsTotal prometheus.Counter
	// 自动应答（心跳回显等）数
	AutoResponsesTotal prometheus.Counter
	// 拦截队列当前深度
	QueueDepth prometheus.Gauge
	// 会话状态：0=断开 1=登录中 2=已登录 3=登出中
	SessionState prometheus.Gauge

	// 控制面 HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// 数据库写入计数
	DBWritesTotal prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		FramesOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "frames_out_total",
			Help:      "Total frames released toward the gateway",
		}),
		FramesInTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "frames_in_total",
			Help:      "Total frames released toward the local initiator",
		}),
		FramesInterceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "frames_intercepted_total",
			Help:      "Total frames parked in the intercept queue",
		}),
		FramesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped by the operator or at shutdown",
		}),
		MalformedFieldsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "malformed_fields_total",
			Help:      "Total malformed field segments retained opaque",
		}),
		SequenceGapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "sequence_gaps_total",
			Help:      "Total inbound sequence gaps reported",
		}),
		AutoResponsesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "auto_responses_total",
			Help:      "Total administrative auto-responses emitted",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "queue_depth",
			Help:      "Current intercept queue depth",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "session_state",
			Help:      "Session state (0=disconnected 1=logging_on 2=logged_on 3=logging_out)",
		}),
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total control plane HTTP requests",
		}),
		DBWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fixit",
			Subsystem: serviceName,
			Name:      "db_writes_total",
			Help:      "Total frame/session rows written",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.FramesOutTotal,
		m.FramesInTotal,
		m.FramesInterceptedTotal,
		m.FramesDroppedTotal,
		m.MalformedFieldsTotal,
		m.SequenceGapsTotal,
		m.AutoResponsesTotal,
		m.QueueDepth,
		m.SessionState,
		m.HTTPRequestsTotal,
		m.DBWritesTotal,
	}

	for _, collector := range collectors {
		if err := prometheus.DefaultRegisterer.Register(collector); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// RecordRelease 记录一次帧放行
func (m *Metrics) RecordRelease(direction string) {
	if m == nil {
		return
	}
	if direction == "OUT" {
		m.FramesOutTotal.Inc()
	} else {
		m.FramesInTotal.Inc()
	}
}

// RecordSessionState 更新会话状态仪表
func (m *Metrics) RecordSessionState(state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "LOGGING_ON":
		v = 1
	case "LOGGED_ON":
		v = 2
	case "LOGGING_OUT":
		v = 3
	}
	m.SessionState.Set(v)
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) error {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error(context.Background(), "Failed to start Prometheus HTTP server", "error", err)
		}
	}()

	return nil
}
