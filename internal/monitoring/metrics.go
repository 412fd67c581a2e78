package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"event_id", "outcome"},
	)

	activations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_activations_total",
			Help: "Payment activations by outcome",
		},
		[]string{"outcome"},
	)

	scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_scans_total",
			Help: "Entry scans by result",
		},
		[]string{"event_id", "result"},
	)

	reaperReclaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_reaper_reclaims_total",
			Help: "Expired reservation holds released back to inventory",
		},
	)

	activeListings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_active_listings",
			Help: "Currently active resale listings",
		},
	)
)

func RecordReservation(eventID, outcome string) {
	reservations.WithLabelValues(eventID, outcome).Inc()
}

func RecordActivation(outcome string) {
	activations.WithLabelValues(outcome).Inc()
}

func RecordScan(eventID, result string) {
	scans.WithLabelValues(eventID, result).Inc()
}

func RecordReaperReclaim(n int) {
	reaperReclaims.Add(float64(n))
}

func ListingOpened() {
	activeListings.Inc()
}

func ListingClosed() {
	activeListings.Dec()
}
