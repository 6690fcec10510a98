package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	dirToDevice = "to_device"
	dirToClient = "to_client"
)

type Metrics struct {
	Registry *prometheus.Registry

	Sessions  *prometheus.CounterVec
	Active    prometheus.Gauge
	Bytes     *prometheus.CounterVec
	Discarded prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csrbridge",
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Client sessions served, by listener.",
		}, []string{"listener"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "csrbridge",
			Subsystem: "relay",
			Name:      "session_active",
			Help:      "1 while a client owns the device.",
		}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csrbridge",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Bytes relayed, by direction.",
		}, []string{"direction"}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csrbridge",
			Subsystem: "relay",
			Name:      "discarded_bytes_total",
			Help:      "Device bytes left over from abandoned sessions.",
		}),
	}
	m.Registry.MustRegister(m.Sessions, m.Active, m.Bytes, m.Discarded)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
