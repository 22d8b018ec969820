package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the router's exported Prometheus instruments. One set is
// created per Router instance and registered against a caller-supplied
// registry, the same wiring shape the teacher daemon uses for its own
// reconciler metrics.
type metrics struct {
	updatesReceived   prometheus.Counter
	updatesRejected   *prometheus.CounterVec
	routesSelected    prometheus.Gauge
	peersActive       prometheus.Gauge
	seqnoRequestsSent prometheus.Counter
	dataPacketsRouted prometheus.Counter
	dataPacketsDropped *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		updatesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "meshrouter",
			Name:      "updates_received_total",
			Help:      "Babel Update control packets received from peers.",
		}),
		updatesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrouter",
			Name:      "updates_rejected_total",
			Help:      "Update packets rejected, labeled by reason.",
		}, []string{"reason"}),
		routesSelected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshrouter",
			Name:      "routes_selected",
			Help:      "Number of subnets with a currently selected route.",
		}),
		peersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshrouter",
			Name:      "peers_active",
			Help:      "Number of peers currently registered with the router.",
		}),
		seqnoRequestsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "meshrouter",
			Name:      "seqno_requests_sent_total",
			Help:      "SeqNoRequest control packets sent or forwarded.",
		}),
		dataPacketsRouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "meshrouter",
			Name:      "data_packets_routed_total",
			Help:      "Overlay data packets forwarded to a next hop.",
		}),
		dataPacketsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrouter",
			Name:      "data_packets_dropped_total",
			Help:      "Overlay data packets dropped, labeled by reason.",
		}, []string{"reason"}),
	}
}
