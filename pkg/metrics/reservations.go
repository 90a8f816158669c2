package metrics

import "github.com/prometheus/client_golang/prometheus"

// Admission outcomes recorded by ReservationMetrics.
const (
	OutcomeHoldPlaced      = "hold_placed"
	OutcomeHoldRefreshed   = "hold_refreshed"
	OutcomeUnavailable     = "unavailable"
	OutcomeAlreadyReserved = "already_reserved"
	OutcomeCommitted       = "committed"
	OutcomeHoldExpired     = "hold_expired"
	OutcomeError           = "error"
)

// ReservationMetrics counts admission decisions and hold evictions.
type ReservationMetrics struct {
	admissions *prometheus.CounterVec
	commits    *prometheus.CounterVec
	swept      prometheus.Counter
	overdue    prometheus.Counter
}

// NewReservationMetrics registers the reservation metrics on the provided registerer.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_hold_attempts_total",
		Help:      "Hold placement attempts by outcome.",
	}, []string{"outcome"})
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_commits_total",
		Help:      "Reservation commit attempts by outcome.",
	}, []string{"outcome"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_holds_swept_total",
		Help:      "Expired holds physically removed by the sweep job.",
	})
	overdue := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_marked_overdue_total",
		Help:      "Reservations transitioned to overdue.",
	})
	reg.MustRegister(admissions, commits, swept, overdue)
	return &ReservationMetrics{
		admissions: admissions,
		commits:    commits,
		swept:      swept,
		overdue:    overdue,
	}
}

// ObserveHold records the outcome of a hold placement.
func (m *ReservationMetrics) ObserveHold(outcome string) {
	if m == nil || m.admissions == nil {
		return
	}
	m.admissions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveCommit records the outcome of a reservation commit.
func (m *ReservationMetrics) ObserveCommit(outcome string) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddSwept adds n evicted holds.
func (m *ReservationMetrics) AddSwept(n int64) {
	if m == nil || m.swept == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// AddOverdue adds n reservations flipped to overdue.
func (m *ReservationMetrics) AddOverdue(n int64) {
	if m == nil || m.overdue == nil || n <= 0 {
		return
	}
	m.overdue.Add(float64(n))
}
