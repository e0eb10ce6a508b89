package domain

import (
	"context"
	"time"

	"vetclinic/internal/models"
)

// BookingRepository persists bookings. Implementations return *NotFoundError
// for unknown ids and ErrConcurrentModification on version mismatch.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	// FindNonTerminalByEmployeeAndDate returns active intervals of the employee
	// intersecting the calendar day [day, day+24h).
	FindNonTerminalByEmployeeAndDate(ctx context.Context, employeeID int64, day time.Time) ([]models.BookedInterval, error)
	UpdateBookingSlotWithVersion(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status models.BookingStatus) error
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetBookingsByPet(ctx context.Context, petID int64) ([]*models.Booking, error)
}

// Directory exposes the client, pet and employee records owned elsewhere.
type Directory interface {
	GetClient(ctx context.Context, id int64) (*models.Client, error)
	GetPet(ctx context.Context, id int64) (*models.Pet, error)
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
}

// DirectoryWriter seeds directory records.
type DirectoryWriter interface {
	UpsertClient(ctx context.Context, client *models.Client) error
	UpsertPet(ctx context.Context, pet *models.Pet) error
	UpsertEmployee(ctx context.Context, employee *models.Employee) error
}

type ReminderStore interface {
	// SaveReminderJob inserts or replaces the job of job.BookingID.
	SaveReminderJob(ctx context.Context, job *models.ReminderJob) error
	UpdateReminderJobStatus(ctx context.Context, bookingID int64, status string, attempts int, lastError string) error
	GetActiveReminderJobs(ctx context.Context) ([]*models.ReminderJob, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Clock interface {
	Now() time.Time
}

// Storage is everything the application needs from a storage backend.
type Storage interface {
	BookingRepository
	Directory
	DirectoryWriter
	ReminderStore
	Ping(ctx context.Context) error
	Close() error
}
