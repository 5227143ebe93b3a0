// Package metrics holds the Prometheus collectors for the booking engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rentmarket"

// Metrics groups the application collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	BookingsCreated        prometheus.Counter
	BookingTransitions     *prometheus.CounterVec // by target status
	ListingSyncFailures    prometheus.Counter
	SweepBookingsCompleted prometheus.Counter
	SweepListingsFreed     prometheus.Counter
	ReviewsCreated         prometheus.Counter
	HTTPRequestDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry, so tests can
// build as many instances as they like.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		BookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Total number of bookings created.",
		}),
		BookingTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Total number of booking status transitions by target status.",
		}, []string{"to"}),
		ListingSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_sync_failures_total",
			Help:      "Listing availability updates that failed after a booking status change.",
		}),
		SweepBookingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_bookings_completed_total",
			Help:      "Bookings auto-completed by the expiry sweep.",
		}),
		SweepListingsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_listings_freed_total",
			Help:      "Listings returned to available by the expiry sweep.",
		}),
		ReviewsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_created_total",
			Help:      "Total number of reviews created.",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of REST requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	m.Registry.MustRegister(
		m.BookingsCreated,
		m.BookingTransitions,
		m.ListingSyncFailures,
		m.SweepBookingsCompleted,
		m.SweepListingsFreed,
		m.ReviewsCreated,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
