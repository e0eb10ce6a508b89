package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/metrics"
	"vetclinic/internal/models"

	"github.com/rs/zerolog"
)

// IntervalSource returns the busy intervals of an employee for one calendar day.
type IntervalSource interface {
	FindNonTerminalByEmployeeAndDate(ctx context.Context, employeeID int64, day time.Time) ([]models.BookedInterval, error)
}

// SlotRequest is a candidate reservation. ExcludeBookingID skips the booking
// being rescheduled so it does not conflict with its own current slot.
type SlotRequest struct {
	EmployeeID       int64
	Start            time.Time
	DurationMinutes  int
	ExcludeBookingID int64
}

func (r SlotRequest) Interval() models.Interval {
	return models.Interval{
		Start: r.Start,
		End:   r.Start.Add(time.Duration(r.DurationMinutes) * time.Minute),
	}
}

// Allocator decides whether a slot is free and serializes reservations per employee.
type Allocator struct {
	source      IntervalSource
	locker      Locker
	location    *time.Location
	lockTimeout time.Duration
	logger      *zerolog.Logger
}

func NewAllocator(source IntervalSource, locker Locker, loc *time.Location, lockTimeout time.Duration, logger *zerolog.Logger) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Allocator{
		source:      source,
		locker:      locker,
		location:    loc,
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// Check reports a *domain.SlotConflictError when req overlaps an active booking
// of the same employee. It does not lock; use Reserve to act on the result.
func (a *Allocator) Check(ctx context.Context, req SlotRequest) error {
	if req.EmployeeID <= 0 {
		return domain.NewValidationError("employee_id", "is required")
	}
	if req.DurationMinutes <= 0 {
		return domain.NewValidationError("duration_minutes", "must be positive")
	}
	if req.Start.IsZero() {
		return domain.NewValidationError("start", "is required")
	}

	candidate := req.Interval()
	for _, day := range a.daysTouched(candidate) {
		booked, err := a.source.FindNonTerminalByEmployeeAndDate(ctx, req.EmployeeID, day)
		if err != nil {
			return fmt.Errorf("failed to load employee schedule: %w", err)
		}
		for _, b := range booked {
			if b.BookingID == req.ExcludeBookingID && req.ExcludeBookingID != 0 {
				continue
			}
			if b.Interval.Overlaps(candidate) {
				return &domain.SlotConflictError{
					EmployeeID: req.EmployeeID,
					Requested:  candidate,
					Existing:   b,
				}
			}
		}
	}
	return nil
}

// Reserve runs Check and then commit while holding the employee's lock, so no
// other reservation for the same employee can pass its check in between.
// commit is the caller's persistence step; nothing is written when Check fails.
func (a *Allocator) Reserve(ctx context.Context, req SlotRequest, commit func(ctx context.Context) error) error {
	if req.DurationMinutes <= 0 {
		return domain.NewValidationError("duration_minutes", "must be positive")
	}

	lockCtx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	defer cancel()

	waitStart := time.Now()
	unlock, err := a.locker.Lock(lockCtx, EmployeeLockKey(req.EmployeeID))
	if err != nil {
		return fmt.Errorf("failed to lock employee %d schedule: %w", req.EmployeeID, err)
	}
	defer unlock()
	metrics.ObserveLockWait(time.Since(waitStart).Seconds())

	if err := a.Check(ctx, req); err != nil {
		if a.logger != nil {
			a.logger.Debug().Err(err).
				Int64("employee_id", req.EmployeeID).
				Time("start", req.Start).
				Int("duration_minutes", req.DurationMinutes).
				Msg("slot rejected")
		}
		return err
	}

	return commit(ctx)
}

// BookedIntervals is the employee's availability view for the day containing day.
func (a *Allocator) BookedIntervals(ctx context.Context, employeeID int64, day time.Time) ([]models.BookedInterval, error) {
	start, _ := models.DayBounds(day, a.location)
	return a.source.FindNonTerminalByEmployeeAndDate(ctx, employeeID, start)
}

// IsFree reports whether the slot has no conflict.
func (a *Allocator) IsFree(ctx context.Context, req SlotRequest) (bool, error) {
	err := a.Check(ctx, req)
	if err == nil {
		return true, nil
	}
	var conflict *domain.SlotConflictError
	if errors.As(err, &conflict) {
		return false, nil
	}
	return false, err
}

func (a *Allocator) Location() *time.Location {
	return a.location
}

// daysTouched lists the local midnights of every day the interval intersects.
func (a *Allocator) daysTouched(iv models.Interval) []time.Time {
	day, next := models.DayBounds(iv.Start, a.location)
	days := []time.Time{day}
	for next.Before(iv.End) {
		days = append(days, next)
		next = next.AddDate(0, 0, 1)
	}
	return days
}
