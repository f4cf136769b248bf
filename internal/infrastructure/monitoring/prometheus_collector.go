package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	roomsActive       prometheus.Gauge

	envelopesRelayed *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
	joinsTotal       prometheus.Counter
	peerLeftTotal    prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return NewPrometheusCollectorWith(prometheus.DefaultRegisterer)
}

// NewPrometheusCollectorWith registers the metrics against the given
// registerer. Tests pass a fresh registry to avoid duplicate registration.
func NewPrometheusCollectorWith(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_connections_active",
			Help: "Number of live websocket connections",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		envelopesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_envelopes_relayed_total",
			Help: "Signal envelopes forwarded to a target connection, by kind",
		}, []string{"kind"}),

		envelopesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_envelopes_dropped_total",
			Help: "Signal envelopes dropped because the target connection was gone, by kind",
		}, []string{"kind"}),

		joinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "duocall_room_joins_total",
			Help: "Total room join operations",
		}),

		peerLeftTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "duocall_peer_left_notifications_total",
			Help: "Total peer-left notifications sent to remaining room members",
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened()        { p.connectionsActive.Inc() }
func (p *PrometheusCollector) ConnectionClosed()        { p.connectionsActive.Dec() }
func (p *PrometheusCollector) SetActiveRooms(n int)     { p.roomsActive.Set(float64(n)) }
func (p *PrometheusCollector) EnvelopeRelayed(k string) { p.envelopesRelayed.WithLabelValues(k).Inc() }
func (p *PrometheusCollector) EnvelopeDropped(k string) { p.envelopesDropped.WithLabelValues(k).Inc() }
func (p *PrometheusCollector) RoomJoined()              { p.joinsTotal.Inc() }
func (p *PrometheusCollector) PeerLeftNotified()        { p.peerLeftTotal.Inc() }
