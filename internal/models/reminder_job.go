package models

import "time"

const (
	ReminderPending   = "pending"
	ReminderRetry     = "retry"
	ReminderSent      = "sent"
	ReminderFailed    = "failed"
	ReminderCancelled = "cancelled"
)

// ReminderJob is the persisted state of one booking reminder.
type ReminderJob struct {
	ID          int64       `json:"id"`
	BookingID   int64       `json:"booking_id"`
	ClientID    int64       `json:"client_id"`
	PetID       int64       `json:"pet_id"`
	EmployeeID  int64       `json:"employee_id"`
	ServiceType ServiceType `json:"service_type"`
	Channel     Channel     `json:"channel"`
	StartAt     time.Time   `json:"start_at"`
	FireAt      time.Time   `json:"fire_at"`
	Status      string      `json:"status"`
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsActive reports whether the job may still be dispatched.
func (j *ReminderJob) IsActive() bool {
	return j.Status == ReminderPending || j.Status == ReminderRetry
}
