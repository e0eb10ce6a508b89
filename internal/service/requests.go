package service

import (
	"strings"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"
)

// BookingRequest is the create and reschedule input. Date and Time are read in
// the clinic time zone.
type BookingRequest struct {
	Date              string `json:"date"`
	Time              string `json:"time"`
	Type              string `json:"type"`
	PetID             int64  `json:"pet_id"`
	EmployeeID        int64  `json:"employee_id"`
	ClientID          int64  `json:"client_id,omitempty"`
	ReminderRequested bool   `json:"reminder_requested"`
	ReminderChannel   string `json:"reminder_channel,omitempty"`
}

type StatusChangeRequest struct {
	BookingID int64  `json:"booking_id"`
	Status    string `json:"status"`
}

type parsedRequest struct {
	start   time.Time
	typ     models.ServiceType
	channel models.Channel
}

func parseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, domain.NewValidationError("date", "is required")
	}
	if clock == "" {
		return time.Time{}, domain.NewValidationError("time", "is required")
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return time.Time{}, domain.NewValidationError("date", "must be YYYY-MM-DD")
	}
	if _, err := time.Parse(models.TimeLayout, clock); err != nil {
		return time.Time{}, domain.NewValidationError("time", "must be HH:MM")
	}
	start, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, domain.NewValidationError("date", err.Error())
	}
	return start, nil
}

func (s *BookingService) parseRequest(req BookingRequest) (parsedRequest, error) {
	var p parsedRequest

	if req.PetID <= 0 {
		return p, domain.NewValidationError("pet_id", "is required")
	}
	if req.EmployeeID <= 0 {
		return p, domain.NewValidationError("employee_id", "is required")
	}

	typ, err := models.ParseServiceType(req.Type)
	if err != nil {
		return p, domain.NewValidationError("type", err.Error())
	}
	channel, err := models.ParseChannel(req.ReminderChannel)
	if err != nil {
		return p, domain.NewValidationError("reminder_channel", err.Error())
	}
	start, err := parseSlot(req.Date, req.Time, s.allocator.Location())
	if err != nil {
		return p, err
	}
	if err := s.validateHorizon(start); err != nil {
		return p, err
	}

	p.start = start
	p.typ = typ
	p.channel = channel
	return p, nil
}

// validateHorizon rejects slots in the past and beyond the booking horizon.
func (s *BookingService) validateHorizon(start time.Time) error {
	now := s.clock.Now()
	if !start.After(now) {
		return domain.NewValidationError("date", "slot must be in the future")
	}
	if start.After(now.AddDate(0, 0, s.maxBookingDays)) {
		return domain.NewValidationError("date", "slot is too far ahead")
	}
	return nil
}
