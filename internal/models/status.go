package models

import (
	"fmt"
	"strings"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusAborted   BookingStatus = "aborted"
)

// BookingStatuses returns all statuses in declaration order.
func BookingStatuses() []BookingStatus {
	return []BookingStatus{StatusPending, StatusConfirmed, StatusCancelled, StatusAborted}
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusAborted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusAborted
}

// IsActive reports whether a booking in this status occupies its slot.
func (s BookingStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s BookingStatus) String() string {
	return string(s)
}

// ParseBookingStatus accepts any letter case.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	s := BookingStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown booking status %q", raw)
	}
	return s, nil
}

// ActiveStatuses lists the statuses that occupy a slot.
func ActiveStatuses() []BookingStatus {
	return []BookingStatus{StatusPending, StatusConfirmed}
}
