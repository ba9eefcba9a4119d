package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flows.
type BookingMetrics struct {
	createdTotal     *prometheus.CounterVec
	conflictsTotal   prometheus.Counter
	transitionsTotal *prometheus.CounterVec
	signaturesTotal  *prometheus.CounterVec
	refundsTotal     *prometheus.CounterVec
	createLatency    prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainslot",
			Subsystem: "bookings",
			Name:      "created_total",
			Help:      "Total booking creation attempts",
		}, []string{"status"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainslot",
			Subsystem: "bookings",
			Name:      "slot_conflicts_total",
			Help:      "Creations rejected because the slot overlapped an active booking",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainslot",
			Subsystem: "bookings",
			Name:      "status_transitions_total",
			Help:      "Booking status transitions applied",
		}, []string{"from", "to"}),
		signaturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainslot",
			Subsystem: "escrow",
			Name:      "signatures_total",
			Help:      "Payment and refund authorizations issued",
		}, []string{"type", "status"}),
		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainslot",
			Subsystem: "cancellation",
			Name:      "refunds_total",
			Help:      "Policy-governed cancellations by policy",
		}, []string{"policy"}),
		createLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chainslot",
			Subsystem: "bookings",
			Name:      "create_latency_seconds",
			Help:      "Latency of booking creation including the slot guard",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createdTotal, m.conflictsTotal, m.transitionsTotal, m.signaturesTotal, m.refundsTotal, m.createLatency)
	return m
}

func (m *BookingMetrics) ObserveCreated(status string) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveSignature(sigType, status string) {
	if m == nil {
		return
	}
	m.signaturesTotal.WithLabelValues(sigType, status).Inc()
}

func (m *BookingMetrics) ObserveRefund(policy string) {
	if m == nil {
		return
	}
	m.refundsTotal.WithLabelValues(policy).Inc()
}

func (m *BookingMetrics) ObserveCreateLatency(seconds float64) {
	if m == nil {
		return
	}
	m.createLatency.Observe(seconds)
}
