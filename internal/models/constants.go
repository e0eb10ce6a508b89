package models

import "time"

const (
	// DefaultReminderLead is the default distance between a reminder and its slot start.
	DefaultReminderLead = 24 * time.Hour

	// DefaultMaxBookingDays limits how far ahead a slot may be booked.
	DefaultMaxBookingDays = 180

	// DefaultSlotMinutes is used when neither the catalog nor the employee define a duration.
	DefaultSlotMinutes = 30

	// DateLayout and TimeLayout are the wire formats of booking requests.
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)
