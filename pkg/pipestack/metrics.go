package pipestack

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Channels     prometheus.Gauge
	Waiters      prometheus.Gauge
	Opens        *prometheus.CounterVec
	BytesWritten prometheus.Counter
	BytesRead    prometheus.Counter
	DroppedBytes prometheus.Counter
	RootDenied   *prometheus.CounterVec
	Interrupted  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shmipe",
			Name:      "channels",
			Help:      "Channels currently in the table, including those kept only by unread data",
		}),
		Waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shmipe",
			Name:      "waiters",
			Help:      "Readers and writers blocked on a channel",
		}),
		Opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmipe",
			Name:      "opens_total",
			Help:      "Opens by outcome (created, existing, root)",
		}, []string{"kind"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmipe",
			Name:      "bytes_written_total",
			Help:      "Bytes accepted by channel writes",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmipe",
			Name:      "bytes_read_total",
			Help:      "Bytes delivered by channel reads",
		}),
		DroppedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmipe",
			Name:      "dropped_bytes_total",
			Help:      "Bytes read for a peer that hung up before the response was sent",
		}),
		RootDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmipe",
			Name:      "root_denied_total",
			Help:      "Operations attempted by the privileged identity",
		}, []string{"op"}),
		Interrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmipe",
			Name:      "interrupted_total",
			Help:      "Blocking operations cancelled before their condition held",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Channels,
		m.Waiters,
		m.Opens,
		m.BytesWritten,
		m.BytesRead,
		m.DroppedBytes,
		m.RootDenied,
		m.Interrupted,
	}
}
