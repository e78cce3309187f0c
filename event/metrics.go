package event

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts loop activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Dispatched   *prometheus.CounterVec
	Stale        prometheus.Counter
	Events       prometheus.Gauge
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
	Panics       prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evmux",
				Subsystem: "event",
				Name:      "callbacks_total",
				Help:      "Event callbacks run, by firing condition.",
			},
			[]string{"kind"},
		),
		Stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evmux",
			Subsystem: "event",
			Name:      "stale_activations_total",
			Help:      "Queued activations dropped because the event was deleted first.",
		}),
		Events: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evmux",
			Subsystem: "event",
			Name:      "added",
			Help:      "Events currently added to the base.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evmux",
			Subsystem: "bufferevent",
			Name:      "read_bytes_total",
			Help:      "Bytes moved from transports into input buffers.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evmux",
			Subsystem: "bufferevent",
			Name:      "written_bytes_total",
			Help:      "Bytes moved from output buffers into transports.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evmux",
			Subsystem: "event",
			Name:      "callback_panics_total",
			Help:      "Callbacks that panicked and were recovered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Dispatched, m.Stale, m.Events, m.BytesRead, m.BytesWritten, m.Panics)
	}
	return m
}

func (m *Metrics) dispatched(res What) {
	if m == nil {
		return
	}
	kind := "active"
	switch {
	case res&EvTimeout != 0:
		kind = "timeout"
	case res&EvSignal != 0:
		kind = "signal"
	case res&EvRead != 0:
		kind = "read"
	case res&EvWrite != 0:
		kind = "write"
	}
	m.Dispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) stale() {
	if m != nil {
		m.Stale.Inc()
	}
}

func (m *Metrics) setEvents(n int) {
	if m != nil {
		m.Events.Set(float64(n))
	}
}

func (m *Metrics) read(n int) {
	if m != nil && n > 0 {
		m.BytesRead.Add(float64(n))
	}
}

func (m *Metrics) written(n int) {
	if m != nil && n > 0 {
		m.BytesWritten.Add(float64(n))
	}
}

func (m *Metrics) panicked() {
	if m != nil {
		m.Panics.Inc()
	}
}
