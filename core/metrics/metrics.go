// Package metrics 以 Prometheus 指标记录凭证续期协调器的运行情况。
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/dnslin/pingspot-client/core/refresh"
)

const (
	namespace = "pingspot"
	subsystem = "refresh"
)

// 结果标签取值。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultExpired = "expired"
	ResultError   = "error"
)

// RefreshMetrics 实现 refresh.Observer，把续期事件写入 Prometheus 指标。
type RefreshMetrics struct {
	registry *prometheus.Registry

	renewals   *prometheus.CounterVec
	duration   prometheus.Histogram
	released   *prometheus.CounterVec
	replays    *prometheus.CounterVec
	inProgress prometheus.Gauge
}

// New 创建并注册指标。registry 为 nil 时使用独立的新 Registry。
func New(registry *prometheus.Registry) (*RefreshMetrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &RefreshMetrics{
		registry: registry,
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "renewals_total",
			Help:      "Number of credential renewal cycles by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "renewal_duration_seconds",
			Help:      "Duration of credential renewal calls.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8},
		}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "waiters_released_total",
			Help:      "Number of queued requests released by a renewal cycle, by result.",
		}, []string{"result"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replays_total",
			Help:      "Number of requests replayed after renewal, by result.",
		}, []string{"result"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "in_progress",
			Help:      "1 while a renewal call is in flight.",
		}),
	}
	for _, c := range []prometheus.Collector{m.renewals, m.duration, m.released, m.replays, m.inProgress} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: 注册指标失败: %w", err)
		}
	}
	return m, nil
}

// MustNew 与 New 相同，注册失败时 panic。
func MustNew(registry *prometheus.Registry) *RefreshMetrics {
	m, err := New(registry)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *RefreshMetrics) RenewalStarted() {
	m.inProgress.Set(1)
}

func (m *RefreshMetrics) RenewalFinished(elapsed time.Duration, err error, _ int) {
	m.inProgress.Set(0)
	m.duration.Observe(elapsed.Seconds())
	m.renewals.WithLabelValues(outcome(err)).Inc()
}

func (m *RefreshMetrics) WaiterReleased(_ uint64, err error) {
	m.released.WithLabelValues(outcome(err)).Inc()
}

func (m *RefreshMetrics) Replayed(resp *http.Response, err error) {
	switch {
	case err != nil:
		m.replays.WithLabelValues(ResultError).Inc()
	case resp != nil && resp.StatusCode == http.StatusUnauthorized:
		m.replays.WithLabelValues(ResultExpired).Inc()
	default:
		m.replays.WithLabelValues(ResultSuccess).Inc()
	}
}

// Registry 返回指标所在的 Registry。
func (m *RefreshMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回暴露指标的 /metrics 处理器。
func (m *RefreshMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteSummary 以 "名称{标签} 值" 的形式逐行输出当前指标，直方图输出 count 与 sum。
func (m *RefreshMetrics) WriteSummary(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName() + labels(metric.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				_, err = fmt.Fprintf(w, "%s %g\n", name, metric.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				_, err = fmt.Fprintf(w, "%s %g\n", name, metric.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				_, err = fmt.Fprintf(w, "%s count=%d sum=%.3fs\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func labels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

func outcome(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

var _ refresh.Observer = (*RefreshMetrics)(nil)
