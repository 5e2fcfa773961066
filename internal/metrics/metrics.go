package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	}, []string{"namespace"})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_events_total",
		Help: "Total number of inbound hub events by event name",
	}, []string{"event"})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages persisted",
	})
	WsRateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_rate_limited_total",
		Help: "Total number of inbound events dropped by the rate budget guard",
	}, []string{"event"})
	PrivateWipedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_private_wiped_messages_total",
		Help: "Total number of private messages wiped on session end",
	})
	CallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_calls_total",
		Help: "Total number of finished calls by outcome",
	}, []string{"outcome"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, WsEventsTotal, WsMessagesTotal, WsRateLimitedTotal,
		PrivateWipedTotal, CallsTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
