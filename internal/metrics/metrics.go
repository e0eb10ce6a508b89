package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vetclinic"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created by service type.",
		},
		[]string{"service_type"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Reservations rejected because the slot overlaps an existing booking.",
		},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status and outcome.",
		},
		[]string{"status", "result"},
	)

	reminders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Reminder jobs by channel and outcome.",
		},
		[]string{"channel", "result"},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_lock_wait_seconds",
			Help:      "Time spent waiting for the per-employee reservation lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingsCreated, slotConflicts, transitions, reminders, lockWait)
	})
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncBookingCreated(serviceType string) {
	bookingsCreated.WithLabelValues(serviceType).Inc()
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

// IncTransition records a status change attempt; result is "ok" or an error class.
func IncTransition(status, result string) {
	transitions.WithLabelValues(status, result).Inc()
}

// IncReminder records a reminder outcome: scheduled, sent, retry, failed, cancelled.
func IncReminder(channel, result string) {
	reminders.WithLabelValues(channel, result).Inc()
}

func ObserveLockWait(seconds float64) {
	lockWait.Observe(seconds)
}
