package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LinkMetrics 链路与解码指标
type LinkMetrics struct {
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	FramesReceived   *prometheus.CounterVec // labels: checksum=valid|invalid|unknown
	FramesSent       *prometheus.CounterVec // labels: cmd
	DroppedBytes     prometheus.Counter
	RejectedRequests prometheus.Counter
	DecodeErrors     prometheus.Counter
	ReplyTimeouts    prometheus.Counter
	ActiveLinks      prometheus.Gauge
}

// NewLinkMetrics 注册并返回链路指标
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	m := &LinkMetrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "badge_link_bytes_received_total",
			Help: "Total raw bytes read from device links.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "badge_link_bytes_sent_total",
			Help: "Total raw bytes written to device links.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "badge_frames_received_total",
			Help: "Decoded frames by checksum result.",
		}, []string{"checksum"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "badge_frames_sent_total",
			Help: "Encoded frames written by command.",
		}, []string{"cmd"}),
		DroppedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "badge_decoder_dropped_bytes_total",
			Help: "Bytes discarded while resynchronizing.",
		}),
		RejectedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "badge_decoder_rejected_requests_total",
			Help: "Request frames dropped for carrying reply-only status bits.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "badge_decoder_errors_total",
			Help: "Assembled buffers that failed to decode.",
		}),
		ReplyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "badge_reply_timeouts_total",
			Help: "Requests that got no slave reply in time.",
		}),
		ActiveLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "badge_links_active",
			Help: "Currently open device links.",
		}),
	}
	reg.MustRegister(m.BytesReceived, m.BytesSent, m.FramesReceived, m.FramesSent,
		m.DroppedBytes, m.RejectedRequests, m.DecodeErrors, m.ReplyTimeouts, m.ActiveLinks)
	return m
}
