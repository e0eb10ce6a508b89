package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vetclinic/internal/catalog"
	"vetclinic/internal/domain"
	"vetclinic/internal/events"
	"vetclinic/internal/metrics"
	"vetclinic/internal/models"
	"vetclinic/internal/scheduling"
	"vetclinic/internal/stats"
	"vetclinic/internal/worker"

	"github.com/rs/zerolog"
)

// Reminders is the part of the reminder scheduler the booking flow drives.
type Reminders interface {
	Schedule(ctx context.Context, b *models.Booking) *worker.ReminderHandle
	Cancel(ctx context.Context, bookingID int64) bool
}

type BookingService struct {
	repo           domain.BookingRepository
	directory      domain.Directory
	allocator      *scheduling.Allocator
	catalog        *catalog.Catalog
	reminders      Reminders
	eventBus       domain.EventPublisher
	clock          domain.Clock
	maxBookingDays int
	logger         *zerolog.Logger
}

func NewBookingService(
	repo domain.BookingRepository,
	directory domain.Directory,
	allocator *scheduling.Allocator,
	cat *catalog.Catalog,
	reminders Reminders,
	eventBus domain.EventPublisher,
	maxBookingDays int,
	logger *zerolog.Logger,
) *BookingService {
	if maxBookingDays <= 0 {
		maxBookingDays = models.DefaultMaxBookingDays
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		repo:           repo,
		directory:      directory,
		allocator:      allocator,
		catalog:        cat,
		reminders:      reminders,
		eventBus:       eventBus,
		clock:          worker.SystemClock{},
		maxBookingDays: maxBookingDays,
		logger:         logger,
	}
}

// WithClock replaces the time source used for validation and lifecycle windows.
func (s *BookingService) WithClock(c domain.Clock) *BookingService {
	if c != nil {
		s.clock = c
	}
	return s
}

func (s *BookingService) Catalog() *catalog.Catalog {
	return s.catalog
}

// CreateBooking validates the request, checks ownership when a client is
// named, and reserves the slot. The booking row is written inside the
// employee lock; the reminder is scheduled only after the write succeeded.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	parsed, err := s.parseRequest(req)
	if err != nil {
		return nil, err
	}

	pet, err := s.directory.GetPet(ctx, req.PetID)
	if err != nil {
		return nil, err
	}
	if req.ClientID != 0 && !models.BelongsTo(pet, req.ClientID) {
		return nil, fmt.Errorf("pet %d does not belong to client %d: %w", pet.ID, req.ClientID, domain.ErrForbidden)
	}

	employee, err := s.directory.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		PetID:             pet.ID,
		EmployeeID:        employee.ID,
		ClientID:          pet.OwnerID,
		Type:              parsed.typ,
		Status:            scheduling.InitialStatus(s.catalog.AutoConfirms(parsed.typ)),
		StartAt:           parsed.start,
		DurationMinutes:   s.catalog.Duration(parsed.typ, employee),
		ReminderRequested: req.ReminderRequested,
		ReminderChannel:   parsed.channel,
	}

	slot := scheduling.SlotRequest{
		EmployeeID:      booking.EmployeeID,
		Start:           booking.StartAt,
		DurationMinutes: booking.DurationMinutes,
	}
	err = s.allocator.Reserve(ctx, slot, func(ctx context.Context) error {
		return s.repo.CreateBooking(ctx, booking)
	})
	if err != nil {
		s.countConflict(err)
		return nil, err
	}

	metrics.IncBookingCreated(string(booking.Type))
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("employee_id", booking.EmployeeID).
		Int64("pet_id", booking.PetID).
		Str("type", string(booking.Type)).
		Str("status", string(booking.Status)).
		Time("start_at", booking.StartAt).
		Msg("booking created")

	s.publishEvent(events.EventBookingCreated, booking, "")
	if booking.Status == models.StatusConfirmed {
		s.publishEvent(events.EventBookingConfirmed, booking, "")
	}
	s.scheduleReminder(ctx, booking)

	return booking, nil
}

// RescheduleBooking moves a non-terminal booking to a new slot. The old
// interval is released by the same versioned write that claims the new one,
// so a failed reschedule leaves the original booking untouched.
func (s *BookingService) RescheduleBooking(ctx context.Context, bookingID int64, req BookingRequest) (*models.Booking, error) {
	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if req.PetID == 0 {
		req.PetID = current.PetID
	}
	if req.EmployeeID == 0 {
		req.EmployeeID = current.EmployeeID
	}
	if req.Type == "" {
		req.Type = string(current.Type)
	}
	if req.ReminderChannel == "" {
		req.ReminderChannel = string(current.ReminderChannel)
	}
	if req.PetID != current.PetID {
		return nil, domain.NewValidationError("pet_id", "cannot be changed")
	}
	if req.ClientID != 0 && req.ClientID != current.ClientID {
		return nil, fmt.Errorf("booking %d does not belong to client %d: %w", current.ID, req.ClientID, domain.ErrForbidden)
	}

	if err := scheduling.CheckReschedule(current, s.clock.Now()); err != nil {
		return nil, &domain.TransitionError{BookingID: current.ID, From: current.Status, To: current.Status, Err: err}
	}

	parsed, err := s.parseRequest(req)
	if err != nil {
		return nil, err
	}
	employee, err := s.directory.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.EmployeeID = employee.ID
	updated.Type = parsed.typ
	updated.StartAt = parsed.start
	updated.DurationMinutes = s.catalog.Duration(parsed.typ, employee)
	updated.ReminderRequested = req.ReminderRequested
	updated.ReminderChannel = parsed.channel

	slot := scheduling.SlotRequest{
		EmployeeID:       updated.EmployeeID,
		Start:            updated.StartAt,
		DurationMinutes:  updated.DurationMinutes,
		ExcludeBookingID: updated.ID,
	}
	err = s.allocator.Reserve(ctx, slot, func(ctx context.Context) error {
		return s.repo.UpdateBookingSlotWithVersion(ctx, &updated)
	})
	if err != nil {
		s.countConflict(err)
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", updated.ID).
		Int64("employee_id", updated.EmployeeID).
		Time("from", current.StartAt).
		Time("to", updated.StartAt).
		Msg("booking rescheduled")

	s.publishEvent(events.EventBookingRescheduled, &updated, "")
	if updated.ReminderRequested {
		s.scheduleReminder(ctx, &updated)
	} else if current.ReminderRequested {
		s.cancelReminder(ctx, updated.ID)
	}

	return &updated, nil
}

// ChangeStatus applies a lifecycle transition. Entering a terminal state
// cancels the reminder after the status write committed.
func (s *BookingService) ChangeStatus(ctx context.Context, req StatusChangeRequest) (*models.Booking, error) {
	if req.BookingID <= 0 {
		return nil, domain.NewValidationError("booking_id", "is required")
	}
	to, err := models.ParseBookingStatus(req.Status)
	if err != nil {
		return nil, domain.NewValidationError("status", err.Error())
	}

	booking, err := s.repo.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	from := booking.Status
	if err := scheduling.CheckTransition(from, to, booking.StartAt, s.clock.Now()); err != nil {
		metrics.IncTransition(string(to), "rejected")
		return nil, &domain.TransitionError{BookingID: booking.ID, From: from, To: to, Err: err}
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, to); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			metrics.IncTransition(string(to), "conflict")
		}
		return nil, err
	}
	booking.Status = to
	booking.Version++
	metrics.IncTransition(string(to), "ok")

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("booking status changed")

	if to.IsTerminal() {
		s.cancelReminder(ctx, booking.ID)
	}
	s.publishEvent(statusEvent(to), booking, from)

	return booking, nil
}

func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.ChangeStatus(ctx, StatusChangeRequest{BookingID: bookingID, Status: string(models.StatusConfirmed)})
}

func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.ChangeStatus(ctx, StatusChangeRequest{BookingID: bookingID, Status: string(models.StatusCancelled)})
}

// AbortBooking is the administrative override accepted at any time.
func (s *BookingService) AbortBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.ChangeStatus(ctx, StatusChangeRequest{BookingID: bookingID, Status: string(models.StatusAborted)})
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// GetEmployeeSchedule returns the busy intervals of an employee on a calendar date.
func (s *BookingService) GetEmployeeSchedule(ctx context.Context, employeeID int64, date string) ([]models.BookedInterval, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, s.allocator.Location())
	if err != nil {
		return nil, domain.NewValidationError("date", "must be YYYY-MM-DD")
	}
	if _, err := s.directory.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return s.allocator.BookedIntervals(ctx, employeeID, day)
}

// ClientPetBookings lists a pet's bookings when the pet belongs to the client.
func (s *BookingService) ClientPetBookings(ctx context.Context, clientID, petID int64) ([]*models.Booking, error) {
	pet, err := s.directory.GetPet(ctx, petID)
	if err != nil {
		return nil, err
	}
	if !models.BelongsTo(pet, clientID) {
		return nil, fmt.Errorf("pet %d does not belong to client %d: %w", petID, clientID, domain.ErrForbidden)
	}
	return s.repo.GetBookingsByPet(ctx, petID)
}

// DemandStats aggregates every booking starting in [from, to).
func (s *BookingService) DemandStats(ctx context.Context, from, to time.Time) (stats.DemandStats, error) {
	if !from.Before(to) {
		return stats.DemandStats{}, domain.NewValidationError("to", "must be after from")
	}
	bookings, err := s.repo.GetBookingsByDateRange(ctx, from, to)
	if err != nil {
		return stats.DemandStats{}, fmt.Errorf("failed to load bookings: %w", err)
	}
	return stats.AggregateRange(bookings, from, to), nil
}

func (s *BookingService) countConflict(err error) {
	if errors.Is(err, domain.ErrSlotConflict) {
		metrics.IncSlotConflict()
	}
}

func (s *BookingService) scheduleReminder(ctx context.Context, booking *models.Booking) {
	if s.reminders == nil || !booking.ReminderRequested {
		return
	}
	if h := s.reminders.Schedule(ctx, booking); h != nil {
		s.logger.Debug().
			Int64("booking_id", booking.ID).
			Time("fire_at", h.FireAt).
			Bool("immediate", h.Immediate).
			Msg("reminder scheduled")
	}
}

func (s *BookingService) cancelReminder(ctx context.Context, bookingID int64) {
	if s.reminders == nil {
		return
	}
	if s.reminders.Cancel(ctx, bookingID) {
		s.logger.Debug().Int64("booking_id", bookingID).Msg("reminder cancelled")
	}
}

func statusEvent(status models.BookingStatus) string {
	switch status {
	case models.StatusConfirmed:
		return events.EventBookingConfirmed
	case models.StatusCancelled:
		return events.EventBookingCancelled
	case models.StatusAborted:
		return events.EventBookingAborted
	}
	return events.EventBookingCreated
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, previous models.BookingStatus) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:       booking.ID,
		PetID:           booking.PetID,
		EmployeeID:      booking.EmployeeID,
		ClientID:        booking.ClientID,
		ServiceType:     string(booking.Type),
		Status:          string(booking.Status),
		PreviousStatus:  string(previous),
		StartAt:         booking.StartAt,
		DurationMinutes: booking.DurationMinutes,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

// Location is the clinic time zone request dates are read in.
func (s *BookingService) Location() *time.Location {
	return s.allocator.Location()
}
