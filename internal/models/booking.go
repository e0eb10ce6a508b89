package models

import "time"

type Booking struct {
	ID                int64         `json:"id"`
	PetID             int64         `json:"pet_id"`
	EmployeeID        int64         `json:"employee_id"`
	ClientID          int64         `json:"client_id"`
	Type              ServiceType   `json:"type"`
	Status            BookingStatus `json:"status"`
	StartAt           time.Time     `json:"start_at"`
	DurationMinutes   int           `json:"duration_minutes"`
	ReminderRequested bool          `json:"reminder_requested"`
	ReminderChannel   Channel       `json:"reminder_channel"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Version           int64         `json:"version"`
}

// EndAt is the exclusive end of the booked slot.
func (b *Booking) EndAt() time.Time {
	return b.StartAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

func (b *Booking) Interval() Interval {
	return Interval{Start: b.StartAt, End: b.EndAt()}
}

// Date returns the calendar date of the slot in loc.
func (b *Booking) Date(loc *time.Location) string {
	return b.StartAt.In(loc).Format(DateLayout)
}

// TimeOfDay returns the slot start time in loc.
func (b *Booking) TimeOfDay(loc *time.Location) string {
	return b.StartAt.In(loc).Format(TimeLayout)
}

// OccupiesSlot reports whether the booking blocks its employee's interval.
func (b *Booking) OccupiesSlot() bool {
	return b.Status.IsActive()
}
