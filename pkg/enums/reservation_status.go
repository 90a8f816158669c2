package enums

import "fmt"

// ReservationStatus tracks a reservation through its loan lifecycle.
type ReservationStatus string

const (
	ReservationStatusOutstanding ReservationStatus = "outstanding"
	ReservationStatusOverdue     ReservationStatus = "overdue"
	ReservationStatusReturned    ReservationStatus = "returned"
)

var validReservationStatuses = []ReservationStatus{
	ReservationStatusOutstanding,
	ReservationStatusOverdue,
	ReservationStatusReturned,
}

// reservationTransitions lists the allowed next states. Returned is terminal.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusOutstanding: {ReservationStatusOverdue, ReservationStatusReturned},
	ReservationStatusOverdue:     {ReservationStatusReturned},
}

// String implements fmt.Stringer.
func (s ReservationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReservationStatus.
func (s ReservationStatus) IsValid() bool {
	for _, candidate := range validReservationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the reservation still occupies a copy.
func (s ReservationStatus) IsActive() bool {
	return s == ReservationStatusOutstanding || s == ReservationStatusOverdue
}

// CanTransitionTo reports whether moving from s to next is permitted.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, candidate := range reservationTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseReservationStatus converts raw input into a ReservationStatus.
func ParseReservationStatus(value string) (ReservationStatus, error) {
	for _, candidate := range validReservationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation status %q", value)
}
