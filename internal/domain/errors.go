package domain

import (
	"errors"
	"fmt"
	"time"

	"vetclinic/internal/models"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrSlotConflict           = errors.New("slot is already booked")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrTransitionWindowClosed = errors.New("transition window closed")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotify                 = errors.New("notification failed")
)

// ValidationError names the rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SlotConflictError describes the interval that blocked a reservation.
type SlotConflictError struct {
	EmployeeID int64
	Requested  models.Interval
	Existing   models.BookedInterval
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("employee %d: requested %s-%s overlaps booking %d (%s-%s)",
		e.EmployeeID,
		e.Requested.Start.Format(time.RFC3339), e.Requested.End.Format(time.RFC3339),
		e.Existing.BookingID,
		e.Existing.Interval.Start.Format(time.RFC3339), e.Existing.Interval.End.Format(time.RFC3339),
	)
}

func (e *SlotConflictError) Unwrap() error { return ErrSlotConflict }

// TransitionError wraps ErrInvalidTransition or ErrTransitionWindowClosed.
type TransitionError struct {
	BookingID int64
	From      models.BookingStatus
	To        models.BookingStatus
	Err       error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking %d: %s -> %s: %v", e.BookingID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	ID     int64
}

func NewNotFoundError(entity string, id int64) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotifyError is returned by notifiers. It matches ErrNotify and unwraps to the cause.
type NotifyError struct {
	Channel   models.Channel
	Recipient string
	Err       error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s %q: %v", e.Channel, e.Recipient, e.Err)
}

func (e *NotifyError) Is(target error) bool { return target == ErrNotify }

func (e *NotifyError) Unwrap() error { return e.Err }
