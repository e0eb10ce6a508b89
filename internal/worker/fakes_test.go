package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"
	"vetclinic/internal/notify"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every callback that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, remaining []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// armed counts timers that are neither stopped nor fired.
func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type sentReminder struct {
	channel   models.Channel
	recipient string
	data      notify.TemplateData
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentReminder
	attempts int
	// failFirst fails that many calls; negative fails every call.
	failFirst int
}

func (n *fakeNotifier) Notify(_ context.Context, ch models.Channel, recipient string, data notify.TemplateData) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.failFirst < 0 || n.attempts <= n.failFirst {
		return errors.New("gateway unavailable")
	}
	n.sent = append(n.sent, sentReminder{channel: ch, recipient: recipient, data: data})
	return nil
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) attemptCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

func (n *fakeNotifier) sentFor(bookingID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.data.BookingID == bookingID {
			count++
		}
	}
	return count
}

type fakeDirectory struct {
	mu sync.Mutex
	// clientFailures fails that many GetClient calls before answering.
	clientFailures int

	clients   map[int64]*models.Client
	pets      map[int64]*models.Pet
	employees map[int64]*models.Employee
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		clients: map[int64]*models.Client{
			1: {ID: 1, Name: "Ana", Email: "ana@example.com", Phone: "+3460000001"},
			2: {ID: 2, Name: "Bo"},
		},
		pets:      map[int64]*models.Pet{10: {ID: 10, Name: "Rex", Species: "dog", OwnerID: 1}},
		employees: map[int64]*models.Employee{5: {ID: 5, Name: "Dr. Vega"}},
	}
}

func (d *fakeDirectory) GetClient(_ context.Context, id int64) (*models.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clientFailures > 0 {
		d.clientFailures--
		return nil, errors.New("directory unavailable")
	}
	if c, ok := d.clients[id]; ok {
		return c, nil
	}
	return nil, domain.NewNotFoundError("client", id)
}

func (d *fakeDirectory) GetPet(_ context.Context, id int64) (*models.Pet, error) {
	if p, ok := d.pets[id]; ok {
		return p, nil
	}
	return nil, domain.NewNotFoundError("pet", id)
}

func (d *fakeDirectory) GetEmployee(_ context.Context, id int64) (*models.Employee, error) {
	if e, ok := d.employees[id]; ok {
		return e, nil
	}
	return nil, domain.NewNotFoundError("employee", id)
}

type fakeReminderStore struct {
	mu   sync.Mutex
	jobs map[int64]models.ReminderJob
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{jobs: make(map[int64]models.ReminderJob)}
}

func (s *fakeReminderStore) SaveReminderJob(_ context.Context, job *models.ReminderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.BookingID] = *job
	return nil
}

func (s *fakeReminderStore) UpdateReminderJobStatus(_ context.Context, bookingID int64, status string, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[bookingID]
	if !ok {
		return domain.NewNotFoundError("reminder job", bookingID)
	}
	job.Status = status
	job.Attempts = attempts
	job.LastError = lastError
	s.jobs[bookingID] = job
	return nil
}

func (s *fakeReminderStore) GetActiveReminderJobs(_ context.Context) ([]*models.ReminderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReminderJob
	for _, job := range s.jobs {
		if job.IsActive() {
			j := job
			out = append(out, &j)
		}
	}
	return out, nil
}

func (s *fakeReminderStore) get(bookingID int64) models.ReminderJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[bookingID]
}

type fakeBookings struct {
	mu     sync.Mutex
	status map[int64]models.BookingStatus
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{status: make(map[int64]models.BookingStatus)}
}

func (b *fakeBookings) set(id int64, status models.BookingStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[id] = status
}

func (b *fakeBookings) GetBooking(_ context.Context, id int64) (*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.status[id]
	if !ok {
		return nil, domain.NewNotFoundError("booking", id)
	}
	return &models.Booking{ID: id, Status: status}, nil
}
