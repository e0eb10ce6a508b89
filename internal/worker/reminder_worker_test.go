package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"vetclinic/internal/events"
	"vetclinic/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type schedulerFixture struct {
	clock     *fakeClock
	notifier  *fakeNotifier
	directory *fakeDirectory
	store     *fakeReminderStore
	scheduler *ReminderScheduler
}

func newSchedulerFixture(t *testing.T, now time.Time, opts ...ReminderOption) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		clock:    newFakeClock(now),
		notifier:  &fakeNotifier{},
		directory: newFakeDirectory(),
		store:     newFakeReminderStore(),
	}
	base := []ReminderOption{
		WithClock(f.clock),
		WithStore(f.store),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialDelay: time.Minute, MaxDelay: 10 * time.Minute}),
	}
	f.scheduler = NewReminderScheduler(f.notifier, f.directory, 24*time.Hour, nil, append(base, opts...)...)
	t.Cleanup(f.scheduler.Stop)
	return f
}

func reminderBooking(id int64, start time.Time) *models.Booking {
	return &models.Booking{
		ID:                id,
		PetID:             10,
		EmployeeID:        5,
		ClientID:          1,
		Type:              models.ServiceVaccination,
		Status:            models.StatusConfirmed,
		StartAt:           start,
		DurationMinutes:   30,
		ReminderRequested: true,
		ReminderChannel:   models.ChannelEmail,
	}
}

func (f *schedulerFixture) waitArmed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.clock.armed() > 0 }, waitFor, time.Millisecond)
}

func (f *schedulerFixture) waitStatus(t *testing.T, bookingID int64, status string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.store.get(bookingID).Status == status }, waitFor, time.Millisecond,
		"reminder %d never reached %s", bookingID, status)
}

func TestReminderScheduledAheadOfLeadTime(t *testing.T) {
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC))

	handle := f.scheduler.Schedule(context.Background(), reminderBooking(1, start))
	require.NotNil(t, handle)
	assert.Equal(t, time.Date(2024, 6, 9, 9, 0, 0, 0, time.UTC), handle.FireAt)
	assert.False(t, handle.Immediate)
	assert.Equal(t, models.ReminderPending, f.store.get(1).Status)

	f.clock.Advance(59 * time.Minute)
	assert.Zero(t, f.notifier.attemptCount())

	f.clock.Advance(time.Minute)
	f.waitStatus(t, 1, models.ReminderSent)

	require.Equal(t, 1, f.notifier.sentCount())
	sent := f.notifier.sent[0]
	assert.Equal(t, models.ChannelEmail, sent.channel)
	assert.Equal(t, "ana@example.com", sent.recipient)
	assert.Equal(t, "Rex", sent.data.PetName)
	assert.Equal(t, "Dr. Vega", sent.data.EmployeeName)
	assert.Equal(t, start, sent.data.StartAt)
	assert.Zero(t, f.scheduler.Pending())
}

func TestReminderInsideLeadWindowFiresImmediately(t *testing.T) {
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 50, 0, 0, time.UTC))

	handle := f.scheduler.Schedule(context.Background(), reminderBooking(1, start))
	require.NotNil(t, handle)
	assert.True(t, handle.Immediate)

	f.waitStatus(t, 1, models.ReminderSent)
	assert.Equal(t, 1, f.notifier.sentCount())
}

func TestReminderNotRequested(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	b := reminderBooking(1, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	b.ReminderRequested = false
	assert.Nil(t, f.scheduler.Schedule(context.Background(), b))

	cancelled := reminderBooking(2, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	cancelled.Status = models.StatusCancelled
	assert.Nil(t, f.scheduler.Schedule(context.Background(), cancelled))

	assert.Zero(t, f.scheduler.Pending())
	assert.Zero(t, f.clock.armed())
}

func TestReminderDefaultChannelIsEmail(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))

	b := reminderBooking(1, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	b.ReminderChannel = ""
	f.scheduler.Schedule(context.Background(), b)

	f.waitStatus(t, 1, models.ReminderSent)
	assert.Equal(t, models.ChannelEmail, f.store.get(1).Channel)
}

func TestReminderRetriesThenDeadLetters(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bus := events.NewEventBus(nil)
	var mu sync.Mutex
	var seen []string
	bus.Subscribe(events.AllEvents, func(e *events.Event) error {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
		return nil
	})

	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), WithDeadLetter(rdb), WithEvents(bus))
	f.notifier.failFirst = -1

	f.scheduler.Schedule(context.Background(), reminderBooking(7, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))

	f.waitArmed(t)
	assert.Equal(t, models.ReminderRetry, f.store.get(7).Status)
	f.clock.Advance(time.Minute)
	f.waitArmed(t)
	f.clock.Advance(2 * time.Minute)

	f.waitStatus(t, 7, models.ReminderFailed)
	job := f.store.get(7)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.LastError, "gateway unavailable")
	assert.Equal(t, 3, f.notifier.attemptCount())

	dead, err := rdb.LRange(context.Background(), DeadLetterKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	var deadJob models.ReminderJob
	require.NoError(t, json.Unmarshal([]byte(dead[0]), &deadJob))
	assert.Equal(t, int64(7), deadJob.BookingID)

	mu.Lock()
	assert.Contains(t, seen, events.EventReminderFailed)
	mu.Unlock()
}

func TestReminderRetrySucceeds(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))
	f.notifier.failFirst = 1

	f.scheduler.Schedule(context.Background(), reminderBooking(3, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))

	f.waitArmed(t)
	f.clock.Advance(time.Minute)

	f.waitStatus(t, 3, models.ReminderSent)
	assert.Equal(t, 2, f.store.get(3).Attempts)
	assert.Equal(t, 1, f.notifier.sentCount())
}

func TestReminderMissingContactFailsWithoutRetry(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))

	b := reminderBooking(4, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	b.ClientID = 2
	b.ReminderChannel = models.ChannelSMS
	f.scheduler.Schedule(context.Background(), b)

	f.waitStatus(t, 4, models.ReminderFailed)
	assert.Zero(t, f.notifier.attemptCount())
	assert.Equal(t, 1, f.store.get(4).Attempts)
}

func TestReminderDirectoryErrorIsRetried(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))
	f.directory.clientFailures = 1

	f.scheduler.Schedule(context.Background(), reminderBooking(5, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))

	f.waitArmed(t)
	retry := f.store.get(5)
	assert.Equal(t, models.ReminderRetry, retry.Status)
	assert.Contains(t, retry.LastError, "directory unavailable")
	assert.Zero(t, f.notifier.attemptCount())

	f.clock.Advance(time.Minute)
	f.waitStatus(t, 5, models.ReminderSent)
	assert.Equal(t, 2, f.store.get(5).Attempts)
	assert.Equal(t, 1, f.notifier.sentCount())
}

func TestReminderSkippedForClosedBooking(t *testing.T) {
	bookings := newFakeBookings()
	bookings.set(1, models.StatusCancelled)
	bookings.set(2, models.StatusConfirmed)
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), WithBookings(bookings))

	f.scheduler.Schedule(context.Background(), reminderBooking(1, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	f.scheduler.Schedule(context.Background(), reminderBooking(2, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	f.scheduler.Schedule(context.Background(), reminderBooking(3, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))

	f.waitStatus(t, 1, models.ReminderCancelled)
	f.waitStatus(t, 2, models.ReminderSent)
	f.waitStatus(t, 3, models.ReminderCancelled)
	assert.Zero(t, f.notifier.sentFor(1))
	assert.Equal(t, 1, f.notifier.sentFor(2))
	assert.Zero(t, f.notifier.sentFor(3), "unknown booking")
}

func TestReminderRetryStopsWhenBookingCloses(t *testing.T) {
	bookings := newFakeBookings()
	bookings.set(8, models.StatusConfirmed)
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), WithBookings(bookings))
	f.notifier.failFirst = -1

	f.scheduler.Schedule(context.Background(), reminderBooking(8, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	f.waitArmed(t)

	bookings.set(8, models.StatusAborted)
	f.clock.Advance(time.Minute)

	f.waitStatus(t, 8, models.ReminderCancelled)
	assert.Equal(t, 1, f.notifier.attemptCount())
}

func TestReminderCancelBeforeFire(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	handle := f.scheduler.Schedule(context.Background(), reminderBooking(1, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, handle)

	assert.True(t, handle.Cancel(context.Background()))
	assert.False(t, f.scheduler.Cancel(context.Background(), 1), "second cancel is a no-op")
	assert.Equal(t, models.ReminderCancelled, f.store.get(1).Status)

	f.clock.Advance(30 * 24 * time.Hour)
	assert.Zero(t, f.notifier.attemptCount())
	assert.Zero(t, f.scheduler.Pending())
}

func TestReminderCancelAfterDispatch(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 50, 0, 0, time.UTC))

	handle := f.scheduler.Schedule(context.Background(), reminderBooking(1, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	f.waitStatus(t, 1, models.ReminderSent)

	assert.NotPanics(t, func() {
		assert.False(t, handle.Cancel(context.Background()))
		assert.False(t, f.scheduler.Cancel(context.Background(), 1))
	})
	f.clock.Advance(time.Hour)

	assert.Equal(t, 1, f.notifier.sentCount())
	assert.Equal(t, models.ReminderSent, f.store.get(1).Status)
}

func TestReminderCancelDuringRetryStopsRetries(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))
	f.notifier.failFirst = -1

	f.scheduler.Schedule(context.Background(), reminderBooking(9, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	f.waitArmed(t)

	assert.False(t, f.scheduler.Cancel(context.Background(), 9), "in-flight delivery is not prevented")
	f.waitStatus(t, 9, models.ReminderCancelled)

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.notifier.attemptCount())
}

func TestReminderRescheduleReplacesJob(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	first := f.scheduler.Schedule(context.Background(), reminderBooking(1, time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)))
	second := f.scheduler.Schedule(context.Background(), reminderBooking(1, time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, 1, f.scheduler.Pending())

	f.clock.Advance(2 * 24 * time.Hour)
	assert.Zero(t, f.notifier.attemptCount(), "replaced reminder must not fire")
	assert.False(t, first.Cancel(context.Background()))

	f.clock.Advance(2 * 24 * time.Hour)
	f.waitStatus(t, 1, models.ReminderSent)
	assert.Equal(t, 1, f.notifier.sentCount())
	assert.Equal(t, time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC), f.notifier.sent[0].data.StartAt)
}

func TestReminderRestore(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	future := models.ReminderJob{BookingID: 1, ClientID: 1, PetID: 10, EmployeeID: 5, Channel: models.ChannelEmail,
		StartAt: time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC), FireAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), Status: models.ReminderPending}
	overdue := models.ReminderJob{BookingID: 2, ClientID: 1, PetID: 10, EmployeeID: 5, Channel: models.ChannelSMS,
		StartAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), FireAt: time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC), Status: models.ReminderRetry, Attempts: 1}
	done := models.ReminderJob{BookingID: 3, ClientID: 1, Status: models.ReminderSent}
	for _, job := range []models.ReminderJob{future, overdue, done} {
		job := job
		require.NoError(t, f.store.SaveReminderJob(ctx, &job))
	}

	restored, err := f.scheduler.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	f.waitStatus(t, 2, models.ReminderSent)
	assert.Equal(t, 2, f.store.get(2).Attempts)

	f.clock.Advance(time.Hour)
	f.waitStatus(t, 1, models.ReminderSent)
	assert.Equal(t, 2, f.notifier.sentCount())
}

func TestReminderStop(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	f.notifier.failFirst = -1

	f.scheduler.Schedule(context.Background(), reminderBooking(1, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	f.scheduler.Schedule(context.Background(), reminderBooking(2, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)))
	f.waitStatus(t, 2, models.ReminderRetry)

	done := make(chan struct{})
	go func() {
		f.scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return while a retry was waiting")
	}

	f.clock.Advance(30 * 24 * time.Hour)
	assert.Equal(t, 1, f.notifier.attemptCount())
	assert.Equal(t, models.ReminderPending, f.store.get(1).Status, "stopped jobs stay restorable")
	assert.Nil(t, f.scheduler.Schedule(context.Background(), reminderBooking(3, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))))
}

// Firing and cancelling concurrently must deliver each reminder at most once,
// and never after a successful cancel.
func TestReminderFireCancelRace(t *testing.T) {
	f := newSchedulerFixture(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	const n = 100
	for i := int64(1); i <= n; i++ {
		f.scheduler.Schedule(ctx, reminderBooking(i, time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)))
	}

	var wg sync.WaitGroup
	cancelled := make([]bool, n+1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.clock.Advance(time.Hour)
	}()
	for i := int64(1); i <= n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			cancelled[id] = f.scheduler.Cancel(ctx, id)
		}(i)
	}
	wg.Wait()
	f.scheduler.Stop()

	for i := int64(1); i <= n; i++ {
		count := f.notifier.sentFor(i)
		assert.LessOrEqual(t, count, 1, "booking %d notified twice", i)
		if cancelled[i] {
			assert.Zero(t, count, "booking %d notified after cancel", i)
		}
	}
}
