package scheduling

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scheduleStore is a minimal booking store keyed by employee.
type scheduleStore struct {
	mu       sync.Mutex
	nextID   int64
	bookings []*models.Booking
	queries  int
}

func (s *scheduleStore) FindNonTerminalByEmployeeAndDate(_ context.Context, employeeID int64, day time.Time) ([]models.BookedInterval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++

	window := models.Interval{Start: day, End: day.AddDate(0, 0, 1)}
	var out []models.BookedInterval
	for _, b := range s.bookings {
		if b.EmployeeID != employeeID || !b.OccupiesSlot() {
			continue
		}
		if b.Interval().Overlaps(window) {
			out = append(out, models.BookedInterval{BookingID: b.ID, Interval: b.Interval()})
		}
	}
	return out, nil
}

func (s *scheduleStore) add(b *models.Booking) *models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	b.ID = s.nextID
	s.bookings = append(s.bookings, b)
	return b
}

func (s *scheduleStore) commitFor(req SlotRequest) func(context.Context) error {
	return func(context.Context) error {
		s.add(&models.Booking{
			EmployeeID:      req.EmployeeID,
			StartAt:         req.Start,
			DurationMinutes: req.DurationMinutes,
			Status:          models.StatusPending,
		})
		return nil
	}
}

func (s *scheduleStore) active(employeeID int64) []*models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Booking
	for _, b := range s.bookings {
		if b.EmployeeID == employeeID && b.OccupiesSlot() {
			out = append(out, b)
		}
	}
	return out
}

func newTestAllocator(store *scheduleStore) *Allocator {
	return NewAllocator(store, NewMemoryLocker(), time.UTC, time.Second, nil)
}

func slotAt(day, hour, minute int) time.Time {
	return time.Date(2024, 6, day, hour, minute, 0, 0, time.UTC)
}

func TestReserveHalfOpenIntervals(t *testing.T) {
	store := &scheduleStore{}
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(1, 10, 0), DurationMinutes: 30, Status: models.StatusConfirmed})
	alloc := newTestAllocator(store)
	ctx := context.Background()

	overlapping := SlotRequest{EmployeeID: 1, Start: slotAt(1, 10, 15), DurationMinutes: 30}
	err := alloc.Reserve(ctx, overlapping, store.commitFor(overlapping))
	require.ErrorIs(t, err, domain.ErrSlotConflict)

	var conflict *domain.SlotConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Existing.BookingID)
	assert.Equal(t, slotAt(1, 10, 0), conflict.Existing.Interval.Start)
	assert.Equal(t, slotAt(1, 10, 45), conflict.Requested.End)

	adjacent := SlotRequest{EmployeeID: 1, Start: slotAt(1, 10, 30), DurationMinutes: 30}
	require.NoError(t, alloc.Reserve(ctx, adjacent, store.commitFor(adjacent)))
	assert.Len(t, store.active(1), 2)
}

func TestReserveOtherEmployeeIsIndependent(t *testing.T) {
	store := &scheduleStore{}
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(1, 10, 0), DurationMinutes: 30, Status: models.StatusConfirmed})
	alloc := newTestAllocator(store)

	req := SlotRequest{EmployeeID: 2, Start: slotAt(1, 10, 0), DurationMinutes: 30}
	assert.NoError(t, alloc.Reserve(context.Background(), req, store.commitFor(req)))
}

func TestReserveIgnoresTerminalBookings(t *testing.T) {
	store := &scheduleStore{}
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(1, 10, 0), DurationMinutes: 30, Status: models.StatusCancelled})
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(1, 11, 0), DurationMinutes: 30, Status: models.StatusAborted})
	alloc := newTestAllocator(store)

	free, err := alloc.IsFree(context.Background(), SlotRequest{EmployeeID: 1, Start: slotAt(1, 10, 0), DurationMinutes: 90})
	require.NoError(t, err)
	assert.True(t, free)
}

func TestReserveRejectsNonPositiveDuration(t *testing.T) {
	store := &scheduleStore{}
	alloc := newTestAllocator(store)
	committed := false

	for _, d := range []int{0, -15} {
		err := alloc.Reserve(context.Background(), SlotRequest{EmployeeID: 1, Start: slotAt(1, 9, 0), DurationMinutes: d},
			func(context.Context) error { committed = true; return nil })
		require.ErrorIs(t, err, domain.ErrValidation)
	}
	assert.False(t, committed)
	assert.Zero(t, store.queries, "invalid input must be rejected before any lookup")
}

func TestReserveExcludesRescheduledBooking(t *testing.T) {
	store := &scheduleStore{}
	own := store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(1, 10, 0), DurationMinutes: 60, Status: models.StatusConfirmed})
	alloc := newTestAllocator(store)

	shifted := SlotRequest{EmployeeID: 1, Start: slotAt(1, 10, 30), DurationMinutes: 60}
	require.ErrorIs(t, alloc.Check(context.Background(), shifted), domain.ErrSlotConflict)

	shifted.ExcludeBookingID = own.ID
	assert.NoError(t, alloc.Check(context.Background(), shifted))
}

func TestReserveAcrossMidnight(t *testing.T) {
	store := &scheduleStore{}
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(2, 0, 15), DurationMinutes: 30, Status: models.StatusPending})
	alloc := newTestAllocator(store)

	lateNight := SlotRequest{EmployeeID: 1, Start: slotAt(1, 23, 45), DurationMinutes: 60}
	assert.ErrorIs(t, alloc.Check(context.Background(), lateNight), domain.ErrSlotConflict)
}

func TestReserveCommitErrorPropagates(t *testing.T) {
	store := &scheduleStore{}
	alloc := newTestAllocator(store)
	boom := errors.New("disk full")

	err := alloc.Reserve(context.Background(), SlotRequest{EmployeeID: 1, Start: slotAt(1, 9, 0), DurationMinutes: 30},
		func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentReserveSameSlot(t *testing.T) {
	store := &scheduleStore{}
	alloc := newTestAllocator(store)
	ctx := context.Background()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(offset int) {
			defer wg.Done()
			req := SlotRequest{EmployeeID: 7, Start: slotAt(3, 14, offset), DurationMinutes: 30}
			results <- alloc.Reserve(ctx, req, store.commitFor(req))
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrSlotConflict)
	}

	assert.Equal(t, 1, successCount, "only one of the overlapping requests may win")
	assert.Len(t, store.active(7), 1)
}

// Randomized reservations issued concurrently must never leave two
// overlapping active bookings for one employee.
func TestConcurrentRandomReservationsNeverOverlap(t *testing.T) {
	store := &scheduleStore{}
	alloc := newTestAllocator(store)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(20240601))

	type tuple struct {
		employee int64
		start    time.Time
		minutes  int
	}
	requests := make([]tuple, 300)
	for i := range requests {
		requests[i] = tuple{
			employee: int64(rng.Intn(3) + 1),
			start:    slotAt(rng.Intn(2)+1, rng.Intn(24), rng.Intn(4)*15),
			minutes:  (rng.Intn(8) + 1) * 15,
		}
	}

	var wg sync.WaitGroup
	for _, r := range requests {
		wg.Add(1)
		go func(r tuple) {
			defer wg.Done()
			req := SlotRequest{EmployeeID: r.employee, Start: r.start, DurationMinutes: r.minutes}
			err := alloc.Reserve(ctx, req, store.commitFor(req))
			if err != nil && !errors.Is(err, domain.ErrSlotConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(r)
	}
	wg.Wait()

	for employee := int64(1); employee <= 3; employee++ {
		active := store.active(employee)
		require.NotEmpty(t, active)
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				assert.False(t, active[i].Interval().Overlaps(active[j].Interval()),
					"employee %d: bookings %d and %d overlap", employee, active[i].ID, active[j].ID)
			}
		}
	}
}

func FuzzReserveMatchesOverlap(f *testing.F) {
	f.Add(600, 30, 615, 30)
	f.Add(600, 30, 630, 30)
	f.Add(1430, 60, 10, 20)
	f.Fuzz(func(t *testing.T, startA, durA, startB, durB int) {
		if durA <= 0 || durB <= 0 || durA > 24*60 || durB > 24*60 {
			t.Skip()
		}
		if startA < 0 || startB < 0 || startA > 3*24*60 || startB > 3*24*60 {
			t.Skip()
		}

		origin := slotAt(1, 0, 0)
		store := &scheduleStore{}
		alloc := newTestAllocator(store)
		ctx := context.Background()

		a := SlotRequest{EmployeeID: 1, Start: origin.Add(time.Duration(startA) * time.Minute), DurationMinutes: durA}
		b := SlotRequest{EmployeeID: 1, Start: origin.Add(time.Duration(startB) * time.Minute), DurationMinutes: durB}

		require.NoError(t, alloc.Reserve(ctx, a, store.commitFor(a)))
		err := alloc.Reserve(ctx, b, store.commitFor(b))

		if a.Interval().Overlaps(b.Interval()) {
			assert.ErrorIs(t, err, domain.ErrSlotConflict)
		} else {
			assert.NoError(t, err)
		}
	})
}

func TestBookedIntervals(t *testing.T) {
	store := &scheduleStore{}
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(1, 9, 0), DurationMinutes: 30, Status: models.StatusPending})
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(1, 15, 0), DurationMinutes: 30, Status: models.StatusConfirmed})
	store.add(&models.Booking{EmployeeID: 1, StartAt: slotAt(2, 9, 0), DurationMinutes: 30, Status: models.StatusConfirmed})
	alloc := newTestAllocator(store)

	booked, err := alloc.BookedIntervals(context.Background(), 1, slotAt(1, 12, 0))
	require.NoError(t, err)
	assert.Len(t, booked, 2)
}

func TestReserveLockTimeout(t *testing.T) {
	store := &scheduleStore{}
	locker := NewMemoryLocker()
	alloc := NewAllocator(store, locker, time.UTC, 20*time.Millisecond, nil)

	unlock, err := locker.Lock(context.Background(), EmployeeLockKey(1))
	require.NoError(t, err)
	defer unlock()

	req := SlotRequest{EmployeeID: 1, Start: slotAt(1, 9, 0), DurationMinutes: 30}
	err = alloc.Reserve(context.Background(), req, store.commitFor(req))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, store.active(1))
}
