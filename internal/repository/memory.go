package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"
)

// MemoryRepository is an in-process domain.Storage for tests and the memory driver.
type MemoryRepository struct {
	mu        sync.RWMutex
	nextID    int64
	nextJobID int64
	bookings  map[int64]models.Booking
	clients   map[int64]models.Client
	pets      map[int64]models.Pet
	employees map[int64]models.Employee
	reminders map[int64]models.ReminderJob
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bookings:  make(map[int64]models.Booking),
		clients:   make(map[int64]models.Client),
		pets:      make(map[int64]models.Pet),
		employees: make(map[int64]models.Employee),
		reminders: make(map[int64]models.ReminderJob),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) CreateBooking(_ context.Context, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := r.now()
	booking.ID = r.nextID
	booking.StartAt = booking.StartAt.UTC()
	if booking.ReminderChannel == "" {
		booking.ReminderChannel = models.DefaultChannel
	}
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	r.bookings[booking.ID] = *booking
	return nil
}

func (r *MemoryRepository) GetBooking(_ context.Context, id int64) (*models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.NewNotFoundError("booking", id)
	}
	return &b, nil
}

func (r *MemoryRepository) FindNonTerminalByEmployeeAndDate(_ context.Context, employeeID int64, day time.Time) ([]models.BookedInterval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	window := models.Interval{Start: day, End: day.AddDate(0, 0, 1)}
	var out []models.BookedInterval
	for _, b := range r.bookings {
		if b.EmployeeID != employeeID || !b.OccupiesSlot() {
			continue
		}
		if iv := b.Interval(); iv.Overlaps(window) {
			out = append(out, models.BookedInterval{BookingID: b.ID, Interval: iv})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

func (r *MemoryRepository) UpdateBookingSlotWithVersion(_ context.Context, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.bookings[booking.ID]
	if !ok {
		return domain.NewNotFoundError("booking", booking.ID)
	}
	if current.Version != booking.Version {
		return domain.ErrConcurrentModification
	}

	current.EmployeeID = booking.EmployeeID
	current.Type = booking.Type
	current.StartAt = booking.StartAt.UTC()
	current.DurationMinutes = booking.DurationMinutes
	current.ReminderRequested = booking.ReminderRequested
	current.ReminderChannel = booking.ReminderChannel
	current.UpdatedAt = r.now()
	current.Version++
	r.bookings[booking.ID] = current

	booking.Version = current.Version
	booking.UpdatedAt = current.UpdatedAt
	return nil
}

func (r *MemoryRepository) UpdateBookingStatusWithVersion(_ context.Context, id, version int64, status models.BookingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.bookings[id]
	if !ok {
		return domain.NewNotFoundError("booking", id)
	}
	if current.Version != version {
		return domain.ErrConcurrentModification
	}
	current.Status = status
	current.UpdatedAt = r.now()
	current.Version++
	r.bookings[id] = current
	return nil
}

func (r *MemoryRepository) GetBookingsByDateRange(_ context.Context, start, end time.Time) ([]*models.Booking, error) {
	return r.filterBookings(func(b *models.Booking) bool {
		return !b.StartAt.Before(start) && b.StartAt.Before(end)
	}, false), nil
}

func (r *MemoryRepository) GetBookingsByPet(_ context.Context, petID int64) ([]*models.Booking, error) {
	return r.filterBookings(func(b *models.Booking) bool { return b.PetID == petID }, true), nil
}

func (r *MemoryRepository) filterBookings(keep func(*models.Booking) bool, newestFirst bool) []*models.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Booking
	for _, b := range r.bookings {
		b := b
		if keep(&b) {
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return (out[i].ID < out[j].ID) != newestFirst
		}
		return out[i].StartAt.Before(out[j].StartAt) != newestFirst
	})
	return out
}

func (r *MemoryRepository) GetClient(_ context.Context, id int64) (*models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, domain.NewNotFoundError("client", id)
	}
	return &c, nil
}

func (r *MemoryRepository) GetPet(_ context.Context, id int64) (*models.Pet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pets[id]
	if !ok {
		return nil, domain.NewNotFoundError("pet", id)
	}
	return &p, nil
}

func (r *MemoryRepository) GetEmployee(_ context.Context, id int64) (*models.Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.employees[id]
	if !ok {
		return nil, domain.NewNotFoundError("employee", id)
	}
	return &e, nil
}

func (r *MemoryRepository) UpsertClient(_ context.Context, c *models.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = *c
	return nil
}

func (r *MemoryRepository) UpsertPet(_ context.Context, p *models.Pet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pets[p.ID] = *p
	return nil
}

func (r *MemoryRepository) UpsertEmployee(_ context.Context, e *models.Employee) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *e
	if e.ServiceMinutes != nil {
		copied.ServiceMinutes = make(map[models.ServiceType]int, len(e.ServiceMinutes))
		for k, v := range e.ServiceMinutes {
			copied.ServiceMinutes[k] = v
		}
	}
	r.employees[e.ID] = copied
	return nil
}

func (r *MemoryRepository) SaveReminderJob(_ context.Context, job *models.ReminderJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.reminders[job.BookingID]; ok {
		job.ID = existing.ID
		job.CreatedAt = existing.CreatedAt
	} else {
		r.nextJobID++
		job.ID = r.nextJobID
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
	}
	job.UpdatedAt = now
	r.reminders[job.BookingID] = *job
	return nil
}

func (r *MemoryRepository) UpdateReminderJobStatus(_ context.Context, bookingID int64, status string, attempts int, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.reminders[bookingID]
	if !ok {
		return domain.NewNotFoundError("reminder job", bookingID)
	}
	job.Status = status
	job.Attempts = attempts
	job.LastError = lastError
	job.UpdatedAt = r.now()
	r.reminders[bookingID] = job
	return nil
}

func (r *MemoryRepository) GetActiveReminderJobs(_ context.Context) ([]*models.ReminderJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ReminderJob
	for _, job := range r.reminders {
		job := job
		if job.IsActive() {
			out = append(out, &job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

var _ domain.Storage = (*MemoryRepository)(nil)
