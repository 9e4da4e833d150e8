package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dnslin/pingspot-client/core/metrics"
)

// metricsServer 在命令执行期间以 /metrics 暴露续期指标与进程指标。
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

func startMetricsServer(addr string, m *metrics.RefreshMetrics) (*metricsServer, error) {
	reg := m.Registry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	s := &metricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	// Shutdown 后 Serve 返回 http.ErrServerClosed。
	go s.srv.Serve(ln)
	return s, nil
}

// URL 返回指标地址，监听 :0 时包含实际端口。
func (s *metricsServer) URL() string {
	return "http://" + s.ln.Addr().String() + "/metrics"
}

func (s *metricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
