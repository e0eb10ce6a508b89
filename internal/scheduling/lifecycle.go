package scheduling

import (
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"
)

// InitialStatus is the status a new booking starts in.
func InitialStatus(autoConfirm bool) models.BookingStatus {
	if autoConfirm {
		return models.StatusConfirmed
	}
	return models.StatusPending
}

// CheckTransition validates moving a booking whose slot starts at slotStart
// from one status to another at instant now. It returns ErrInvalidTransition
// or ErrTransitionWindowClosed (unwrapped) and does not mutate anything.
func CheckTransition(from, to models.BookingStatus, slotStart, now time.Time) error {
	if !to.Valid() || from.IsTerminal() || from == to {
		return domain.ErrInvalidTransition
	}

	// administrative override, allowed at any time
	if to == models.StatusAborted {
		return nil
	}

	switch {
	case from == models.StatusPending && to == models.StatusConfirmed:
	case to == models.StatusCancelled:
	default:
		return domain.ErrInvalidTransition
	}

	if !now.Before(slotStart) {
		return domain.ErrTransitionWindowClosed
	}
	return nil
}

// CheckReschedule validates that a booking may still be moved to another slot.
func CheckReschedule(b *models.Booking, now time.Time) error {
	if b.Status.IsTerminal() {
		return domain.ErrInvalidTransition
	}
	if !now.Before(b.StartAt) {
		return domain.ErrTransitionWindowClosed
	}
	return nil
}
