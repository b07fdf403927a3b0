package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BookingsCreated   prometheus.Counter
	BookingsCancelled prometheus.Counter
	BookingsExpired   prometheus.Counter
	SeatConflicts     prometheus.Counter
	ShowtimeConflicts prometheus.Counter
	Payments          *prometheus.CounterVec
	TxRetries         prometheus.Counter
	HTTPDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		BookingsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "cinego_bookings_created_total",
			Help: "Total number of bookings created",
		}),

		BookingsCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "cinego_bookings_cancelled_total",
			Help: "Total number of bookings cancelled or released by a failed payment",
		}),

		BookingsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "cinego_bookings_expired_total",
			Help: "Total number of unpaid holds expired by the sweeper",
		}),

		SeatConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "cinego_seat_conflicts_total",
			Help: "Total number of booking attempts rejected because a seat was taken",
		}),

		ShowtimeConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "cinego_showtime_conflicts_total",
			Help: "Total number of schedule attempts rejected by an overlapping showtime",
		}),

		Payments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cinego_payment_confirmations_total",
			Help: "Payment confirmations by outcome",
		}, []string{"outcome"}),

		TxRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "cinego_tx_retries_total",
			Help: "Transactions retried after a serialization failure or deadlock",
		}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cinego_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) BookingCreated() {
	if m != nil {
		m.BookingsCreated.Inc()
	}
}

func (m *Metrics) BookingCancelled() {
	if m != nil {
		m.BookingsCancelled.Inc()
	}
}

func (m *Metrics) BookingsExpiredAdd(n int) {
	if m != nil && n > 0 {
		m.BookingsExpired.Add(float64(n))
	}
}

func (m *Metrics) SeatConflict() {
	if m != nil {
		m.SeatConflicts.Inc()
	}
}

func (m *Metrics) ShowtimeConflict() {
	if m != nil {
		m.ShowtimeConflicts.Inc()
	}
}

func (m *Metrics) Payment(outcome string) {
	if m != nil {
		m.Payments.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TxRetry(int, error) {
	if m != nil {
		m.TxRetries.Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}
