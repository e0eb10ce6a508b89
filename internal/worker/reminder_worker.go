package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/events"
	"vetclinic/internal/metrics"
	"vetclinic/internal/models"
	"vetclinic/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DeadLetterKey = "reminders:deadletter"

const (
	jobPending int32 = iota
	jobDispatching
	jobDone
	jobCancelled
)

var (
	errNoRecipient = errors.New("client has no address for channel")
	errStopped     = errors.New("scheduler stopped")
	errCancelled   = errors.New("reminder cancelled")
)

type reminderJob struct {
	job   models.ReminderJob
	state atomic.Int32

	timerMu sync.Mutex
	timer   Timer

	abortOnce sync.Once
	abort     chan struct{}
}

func newReminderJob(job models.ReminderJob) *reminderJob {
	return &reminderJob{job: job, abort: make(chan struct{})}
}

func (j *reminderJob) setTimer(t Timer) {
	j.timerMu.Lock()
	j.timer = t
	j.timerMu.Unlock()
}

func (j *reminderJob) stopTimer() {
	j.timerMu.Lock()
	defer j.timerMu.Unlock()
	if j.timer != nil {
		j.timer.Stop()
	}
}

func (j *reminderJob) abortRetries() {
	j.abortOnce.Do(func() { close(j.abort) })
}

// ReminderHandle identifies a scheduled reminder.
type ReminderHandle struct {
	BookingID int64
	FireAt    time.Time
	// Immediate is set when FireAt had already passed at scheduling time.
	Immediate bool

	scheduler *ReminderScheduler
	job       *reminderJob
}

// Cancel prevents dispatch when it has not started yet. It reports whether a
// pending dispatch was prevented; false is not an error.
func (h *ReminderHandle) Cancel(ctx context.Context) bool {
	if h == nil || h.scheduler == nil {
		return false
	}
	return h.scheduler.cancelJob(ctx, h.job)
}

// BookingLookup reads the current state of a booking before each delivery.
type BookingLookup interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
}

// ReminderScheduler fires one notification per booking at StartAt minus the
// lead time and retries failed deliveries with backoff.
type ReminderScheduler struct {
	clock         Clock
	notifier      notify.Notifier
	directory     domain.Directory
	bookings      BookingLookup
	store         domain.ReminderStore
	redis         *redis.Client
	events        domain.EventPublisher
	retryPolicy   RetryPolicy
	lead          time.Duration
	deadLetterKey string
	logger        *zerolog.Logger

	mu      sync.Mutex
	jobs    map[int64]*reminderJob
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

type ReminderOption func(*ReminderScheduler)

func WithClock(c Clock) ReminderOption {
	return func(s *ReminderScheduler) { s.clock = c }
}

// WithStore persists job state so Restore can re-arm it after a restart.
func WithStore(store domain.ReminderStore) ReminderOption {
	return func(s *ReminderScheduler) { s.store = store }
}

// WithBookings drops a due reminder whose booking has meanwhile reached a
// terminal status or disappeared.
func WithBookings(bookings BookingLookup) ReminderOption {
	return func(s *ReminderScheduler) { s.bookings = bookings }
}

// WithDeadLetter pushes exhausted jobs to a redis list.
func WithDeadLetter(client *redis.Client) ReminderOption {
	return func(s *ReminderScheduler) { s.redis = client }
}

func WithEvents(pub domain.EventPublisher) ReminderOption {
	return func(s *ReminderScheduler) { s.events = pub }
}

func WithRetryPolicy(p RetryPolicy) ReminderOption {
	return func(s *ReminderScheduler) { s.retryPolicy = p }
}

func NewReminderScheduler(notifier notify.Notifier, directory domain.Directory, lead time.Duration, logger *zerolog.Logger, opts ...ReminderOption) *ReminderScheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if lead < 0 {
		lead = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ReminderScheduler{
		clock:         SystemClock{},
		notifier:      notifier,
		directory:     directory,
		lead:          lead,
		deadLetterKey: DeadLetterKey,
		logger:        logger,
		jobs:          make(map[int64]*reminderJob),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retryPolicy = s.retryPolicy.withDefaults()
	return s
}

// FireAt is the instant the reminder of a booking starting at start is due.
func (s *ReminderScheduler) FireAt(start time.Time) time.Time {
	return start.Add(-s.lead)
}

// Schedule registers the reminder of b, replacing any earlier one for the same
// booking. It returns nil when b does not request a reminder or is terminal.
// A fire time already in the past dispatches right away.
func (s *ReminderScheduler) Schedule(ctx context.Context, b *models.Booking) *ReminderHandle {
	if b == nil || !b.ReminderRequested || b.Status.IsTerminal() {
		return nil
	}

	channel := b.ReminderChannel
	if channel == "" {
		channel = models.DefaultChannel
	}
	now := s.clock.Now()
	job := models.ReminderJob{
		BookingID:   b.ID,
		ClientID:    b.ClientID,
		PetID:       b.PetID,
		EmployeeID:  b.EmployeeID,
		ServiceType: b.Type,
		Channel:     channel,
		StartAt:     b.StartAt,
		FireAt:      s.FireAt(b.StartAt),
		Status:      models.ReminderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if s.store != nil {
		if err := s.store.SaveReminderJob(ctx, &job); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("failed to persist reminder job")
		}
	}

	return s.arm(job)
}

// Restore re-arms persisted jobs that were neither delivered nor cancelled.
func (s *ReminderScheduler) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	jobs, err := s.store.GetActiveReminderJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load reminder jobs: %w", err)
	}

	restored := 0
	for _, job := range jobs {
		if job == nil || !job.IsActive() {
			continue
		}
		if s.arm(*job) != nil {
			restored++
		}
	}
	s.logger.Info().Int("count", restored).Msg("reminder jobs restored")
	return restored, nil
}

// Cancel prevents the pending reminder of bookingID from firing. Cancelling an
// unknown, delivered or in-flight reminder is a no-op and returns false; an
// in-flight delivery completes but is not retried.
func (s *ReminderScheduler) Cancel(ctx context.Context, bookingID int64) bool {
	s.mu.Lock()
	j := s.jobs[bookingID]
	s.mu.Unlock()
	if j == nil {
		return false
	}
	return s.cancelJob(ctx, j)
}

// Pending returns the number of reminders not yet finished.
func (s *ReminderScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop disarms all timers and waits for in-flight deliveries to return.
// Persisted jobs stay active and are picked up by the next Restore.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	jobs := make([]*reminderJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.stopTimer()
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("reminder scheduler stopped")
}

func (s *ReminderScheduler) arm(job models.ReminderJob) *ReminderHandle {
	j := newReminderJob(job)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	previous := s.jobs[job.BookingID]
	s.jobs[job.BookingID] = j
	s.mu.Unlock()

	if previous != nil {
		if previous.state.CompareAndSwap(jobPending, jobCancelled) {
			previous.stopTimer()
		} else {
			previous.abortRetries()
		}
	}

	handle := &ReminderHandle{BookingID: job.BookingID, FireAt: job.FireAt, scheduler: s, job: j}
	delay := job.FireAt.Sub(s.clock.Now())
	if delay <= 0 {
		handle.Immediate = true
		s.fire(j)
		return handle
	}

	j.setTimer(s.clock.AfterFunc(delay, func() { s.fire(j) }))
	s.logger.Debug().
		Int64("booking_id", job.BookingID).
		Time("fire_at", job.FireAt).
		Msg("reminder scheduled")
	return handle
}

// fire claims j for delivery. Only one caller wins the claim, so a job is
// delivered at most once however fire and Cancel interleave.
func (s *ReminderScheduler) fire(j *reminderJob) {
	if !j.state.CompareAndSwap(jobPending, jobDispatching) {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		j.state.Store(jobPending)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.dispatch(j)
	}()
}

func (s *ReminderScheduler) dispatch(j *reminderJob) {
	defer s.forget(j)
	ctx := s.ctx
	job := &j.job
	log := s.logger.With().
		Int64("booking_id", job.BookingID).
		Str("channel", string(job.Channel)).
		Logger()

	for {
		if s.bookingClosed(ctx, job) {
			j.state.Store(jobCancelled)
			s.updateStatus(ctx, job, models.ReminderCancelled, "")
			metrics.IncReminder(string(job.Channel), "cancelled")
			s.publish(events.EventReminderCancelled, job, "")
			log.Info().Msg("reminder dropped, booking is closed")
			return
		}

		job.Attempts++
		recipient, data, err := s.resolve(ctx, job)
		if err == nil {
			err = s.notifier.Notify(ctx, job.Channel, recipient, data)
		}
		if err == nil {
			j.state.Store(jobDone)
			s.updateStatus(ctx, job, models.ReminderSent, "")
			metrics.IncReminder(string(job.Channel), "sent")
			s.publish(events.EventReminderSent, job, "")
			log.Info().Int("attempts", job.Attempts).Msg("reminder sent")
			return
		}

		if errors.Is(err, errNoRecipient) {
			s.fail(ctx, j, err)
			return
		}

		if ctx.Err() != nil {
			// Shutdown mid-delivery: leave the job active for Restore.
			j.state.Store(jobDone)
			return
		}

		if s.retryPolicy.Exhausted(job.Attempts) {
			s.fail(ctx, j, err)
			return
		}

		delay := s.retryPolicy.NextDelay(job.Attempts)
		log.Warn().Err(err).Int("attempt", job.Attempts).Dur("retry_in", delay).Msg("reminder delivery failed")
		metrics.IncReminder(string(job.Channel), "retry")
		s.updateStatus(ctx, job, models.ReminderRetry, err.Error())

		if waitErr := s.wait(j, delay); waitErr != nil {
			j.state.Store(jobCancelled)
			if errors.Is(waitErr, errStopped) {
				return
			}
			s.updateStatus(context.Background(), job, models.ReminderCancelled, err.Error())
			s.publish(events.EventReminderCancelled, job, "")
			log.Info().Msg("reminder retries cancelled")
			return
		}
	}
}

// wait blocks for delay on the scheduler clock, returning early when the job
// is cancelled or the scheduler stops.
func (s *ReminderScheduler) wait(j *reminderJob, delay time.Duration) error {
	ready := make(chan struct{})
	timer := s.clock.AfterFunc(delay, func() { close(ready) })
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-j.abort:
		return errCancelled
	case <-s.ctx.Done():
		return errStopped
	}
}

func (s *ReminderScheduler) fail(ctx context.Context, j *reminderJob, cause error) {
	job := &j.job
	j.state.Store(jobDone)
	job.Status = models.ReminderFailed
	job.LastError = cause.Error()
	s.pushDeadLetter(ctx, job)
	metrics.IncReminder(string(job.Channel), "failed")
	s.publish(events.EventReminderFailed, job, cause.Error())
	s.updateStatus(ctx, job, models.ReminderFailed, cause.Error())
	s.logger.Error().Err(cause).
		Int64("booking_id", job.BookingID).
		Str("channel", string(job.Channel)).
		Int("attempts", job.Attempts).
		Msg("reminder delivery failed permanently")
}

func (s *ReminderScheduler) cancelJob(ctx context.Context, j *reminderJob) bool {
	if j == nil {
		return false
	}
	if !j.state.CompareAndSwap(jobPending, jobCancelled) {
		if j.state.Load() == jobDispatching {
			j.abortRetries()
		}
		return false
	}

	j.stopTimer()
	s.forget(j)
	s.updateStatus(ctx, &j.job, models.ReminderCancelled, "")
	metrics.IncReminder(string(j.job.Channel), "cancelled")
	s.publish(events.EventReminderCancelled, &j.job, "")
	s.logger.Debug().Int64("booking_id", j.job.BookingID).Msg("reminder cancelled")
	return true
}

// forget drops j from the index unless a newer job replaced it.
func (s *ReminderScheduler) forget(j *reminderJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[j.job.BookingID] == j {
		delete(s.jobs, j.job.BookingID)
	}
}

// bookingClosed reports whether the booking of job is terminal or gone. A
// failed lookup is not conclusive and lets the delivery proceed.
func (s *ReminderScheduler) bookingClosed(ctx context.Context, job *models.ReminderJob) bool {
	if s.bookings == nil {
		return false
	}
	b, err := s.bookings.GetBooking(ctx, job.BookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", job.BookingID).Msg("failed to check booking status")
		return false
	}
	return b.Status.IsTerminal()
}

func (s *ReminderScheduler) resolve(ctx context.Context, job *models.ReminderJob) (string, notify.TemplateData, error) {
	data := notify.TemplateData{
		BookingID:   job.BookingID,
		ServiceType: job.ServiceType,
		StartAt:     job.StartAt,
	}
	if s.directory == nil {
		return "", data, &domain.NotifyError{Channel: job.Channel, Err: errNoRecipient}
	}

	client, err := s.directory.GetClient(ctx, job.ClientID)
	if err != nil {
		return "", data, &domain.NotifyError{Channel: job.Channel, Err: fmt.Errorf("resolve client %d: %w", job.ClientID, err)}
	}
	recipient, ok := client.ContactFor(job.Channel)
	if !ok {
		return "", data, &domain.NotifyError{Channel: job.Channel, Err: errNoRecipient}
	}
	data.ClientName = client.Name

	if pet, err := s.directory.GetPet(ctx, job.PetID); err == nil {
		data.PetName = pet.Name
	}
	if employee, err := s.directory.GetEmployee(ctx, job.EmployeeID); err == nil {
		data.EmployeeName = employee.Name
	}
	return recipient, data, nil
}

func (s *ReminderScheduler) updateStatus(ctx context.Context, job *models.ReminderJob, status, lastError string) {
	job.Status = status
	job.LastError = lastError
	job.UpdatedAt = s.clock.Now()
	if s.store == nil {
		return
	}
	if err := s.store.UpdateReminderJobStatus(ctx, job.BookingID, status, job.Attempts, lastError); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", job.BookingID).Str("status", status).Msg("failed to persist reminder status")
	}
}

func (s *ReminderScheduler) publish(eventType string, job *models.ReminderJob, errText string) {
	if s.events == nil {
		return
	}
	payload := events.ReminderEventPayload{
		BookingID: job.BookingID,
		Channel:   string(job.Channel),
		FireAt:    job.FireAt,
		Attempts:  job.Attempts,
		Error:     errText,
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish reminder event")
	}
}

func (s *ReminderScheduler) pushDeadLetter(ctx context.Context, job *models.ReminderJob) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		s.logger.Error().Err(err).Int64("booking_id", job.BookingID).Msg("encode deadletter")
		return
	}
	if err := s.redis.LPush(ctx, s.deadLetterKey, data).Err(); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", job.BookingID).Msg("deadletter push")
	}
}
