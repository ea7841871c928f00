package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics counts order lifecycle outcomes and realtime connections.
type OrderMetrics struct {
	placed      prometheus.Counter
	delivered   prometheus.Counter
	cancelled   *prometheus.CounterVec
	wsConnected prometheus.Gauge
}

// NewOrderMetrics registers the order lifecycle metrics on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	placed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders successfully created.",
	})
	delivered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_delivered_total",
		Help: "Orders marked delivered.",
	})
	cancelled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Orders cancelled, by actor.",
	}, []string{"cancelled_by"})
	wsConnected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Active websocket connections.",
	})
	reg.MustRegister(placed, delivered, cancelled, wsConnected)
	return &OrderMetrics{
		placed:      placed,
		delivered:   delivered,
		cancelled:   cancelled,
		wsConnected: wsConnected,
	}
}

// IncPlaced increments the placed counter.
func (o *OrderMetrics) IncPlaced() {
	if o == nil || o.placed == nil {
		return
	}
	o.placed.Inc()
}

// IncDelivered increments the delivered counter.
func (o *OrderMetrics) IncDelivered() {
	if o == nil || o.delivered == nil {
		return
	}
	o.delivered.Inc()
}

// IncCancelled increments the cancelled counter for the given actor.
func (o *OrderMetrics) IncCancelled(cancelledBy string) {
	if o == nil || o.cancelled == nil {
		return
	}
	o.cancelled.WithLabelValues(normalizeLabel(cancelledBy)).Inc()
}

// SetConnections records the current websocket connection count.
func (o *OrderMetrics) SetConnections(n int) {
	if o == nil || o.wsConnected == nil {
		return
	}
	o.wsConnected.Set(float64(n))
}
