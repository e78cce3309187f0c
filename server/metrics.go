package server

import (
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the server collectors.
type Metrics struct {
	Clients   prometheus.Gauge
	Sessions  prometheus.Gauge
	Jobs      prometheus.Gauge
	Commands  *prometheus.CounterVec
	Discarded prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evmux",
			Subsystem: "server",
			Name:      "clients",
			Help:      "Connected control clients.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evmux",
			Subsystem: "server",
			Name:      "sessions",
			Help:      "Live sessions.",
		}),
		Jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evmux",
			Subsystem: "server",
			Name:      "jobs",
			Help:      "run-shell jobs still running.",
		}),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evmux",
				Subsystem: "server",
				Name:      "commands_total",
				Help:      "Commands executed, by command and result.",
			},
			[]string{"command", "result"},
		),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evmux",
			Subsystem: "server",
			Name:      "discarded_output_bytes_total",
			Help:      "Pane output dropped for clients above the write high watermark.",
		}),
	}
	reg.MustRegister(m.Clients, m.Sessions, m.Jobs, m.Commands, m.Discarded)
	return m
}

// serveMetrics exposes the registry on addr until the server shuts down.
func (s *Server) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics endpoint stopped", zap.Error(err))
		}
	}()
	s.log.Info("serving metrics", zap.Stringer("addr", ln.Addr()))
	return nil
}
