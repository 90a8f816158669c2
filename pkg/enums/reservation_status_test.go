package enums

import "testing"

func TestReservationStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ReservationStatus
		allowed  bool
	}{
		{ReservationStatusOutstanding, ReservationStatusOverdue, true},
		{ReservationStatusOutstanding, ReservationStatusReturned, true},
		{ReservationStatusOverdue, ReservationStatusReturned, true},
		{ReservationStatusOverdue, ReservationStatusOutstanding, false},
		{ReservationStatusReturned, ReservationStatusOutstanding, false},
		{ReservationStatusReturned, ReservationStatusOverdue, false},
		{ReservationStatusOutstanding, ReservationStatusOutstanding, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestReservationStatusActive(t *testing.T) {
	if !ReservationStatusOutstanding.IsActive() || !ReservationStatusOverdue.IsActive() {
		t.Fatalf("outstanding and overdue occupy a copy")
	}
	if ReservationStatusReturned.IsActive() {
		t.Fatalf("returned must not occupy a copy")
	}
}

func TestParseReservationStatus(t *testing.T) {
	if got, err := ParseReservationStatus("overdue"); err != nil || got != ReservationStatusOverdue {
		t.Fatalf("unexpected parse result %q err=%v", got, err)
	}
	if _, err := ParseReservationStatus("lost"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestParseUserRole(t *testing.T) {
	if got, err := ParseUserRole("admin"); err != nil || got != UserRoleAdmin {
		t.Fatalf("unexpected parse result %q err=%v", got, err)
	}
	if UserRole("owner").IsValid() {
		t.Fatalf("owner is not a library role")
	}
}
