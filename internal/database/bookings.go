package database

import (
	"context"
	"fmt"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var bookingColumns = []string{
	"id", "pet_id", "employee_id", "client_id", "service_type", "status",
	"start_at", "duration_minutes", "reminder_requested", "reminder_channel",
	"created_at", "updated_at", "version",
}

func activeStatusValues() []string {
	statuses := models.ActiveStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanBooking(row scanner) (*models.Booking, error) {
	var b models.Booking
	var startAt int64
	err := row.Scan(
		&b.ID, &b.PetID, &b.EmployeeID, &b.ClientID, &b.Type, &b.Status,
		&startAt, &b.DurationMinutes, &b.ReminderRequested, &b.ReminderChannel,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.StartAt = fromUnix(startAt)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	now := time.Now().UTC()
	if booking.ReminderChannel == "" {
		booking.ReminderChannel = models.DefaultChannel
	}

	query, args, err := db.builder.Insert("bookings").
		Columns(
			"pet_id", "employee_id", "client_id", "service_type", "status",
			"start_at", "end_at", "duration_minutes", "reminder_requested", "reminder_channel",
			"created_at", "updated_at", "version",
		).
		Values(
			booking.PetID, booking.EmployeeID, booking.ClientID, string(booking.Type), string(booking.Status),
			toUnix(booking.StartAt), toUnix(booking.EndAt()), booking.DurationMinutes,
			booking.ReminderRequested, string(booking.ReminderChannel),
			now, now, 1,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert booking query: %w", err)
	}

	if err := db.QueryRowContext(ctx, query, args...).Scan(&booking.ID); err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	booking.StartAt = booking.StartAt.UTC()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query, args, err := db.builder.Select(bookingColumns...).
		From("bookings").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get booking query: %w", err)
	}

	booking, err := scanBooking(db.QueryRowContext(ctx, query, args...))
	if isNoRows(err) {
		return nil, domain.NewNotFoundError("booking", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// FindNonTerminalByEmployeeAndDate returns pending and confirmed bookings of the
// employee whose interval intersects [day, day+24h).
func (db *DB) FindNonTerminalByEmployeeAndDate(ctx context.Context, employeeID int64, day time.Time) ([]models.BookedInterval, error) {
	dayEnd := day.AddDate(0, 0, 1)
	query, args, err := db.builder.Select("id", "start_at", "end_at").
		From("bookings").
		Where(sq.Eq{"employee_id": employeeID, "status": activeStatusValues()}).
		Where(sq.Lt{"start_at": toUnix(dayEnd)}).
		Where(sq.Gt{"end_at": toUnix(day)}).
		OrderBy("start_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get employee schedule: %w", err)
	}
	defer rows.Close()

	var out []models.BookedInterval
	for rows.Next() {
		var id, start, end int64
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan booked interval: %w", err)
		}
		out = append(out, models.BookedInterval{
			BookingID: id,
			Interval:  models.Interval{Start: fromUnix(start), End: fromUnix(end)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate employee schedule: %w", err)
	}
	return out, nil
}

// UpdateBookingSlotWithVersion rewrites the slot fields of booking in one
// statement guarded by booking.Version, then bumps the in-memory version.
func (db *DB) UpdateBookingSlotWithVersion(ctx context.Context, booking *models.Booking) error {
	now := time.Now().UTC()
	query, args, err := db.builder.Update("bookings").
		Set("employee_id", booking.EmployeeID).
		Set("service_type", string(booking.Type)).
		Set("start_at", toUnix(booking.StartAt)).
		Set("end_at", toUnix(booking.EndAt())).
		Set("duration_minutes", booking.DurationMinutes).
		Set("reminder_requested", booking.ReminderRequested).
		Set("reminder_channel", string(booking.ReminderChannel)).
		Set("updated_at", now).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": booking.ID, "version": booking.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build reschedule query: %w", err)
	}

	if err := db.execVersioned(ctx, booking.ID, query, args); err != nil {
		return err
	}
	booking.Version++
	booking.UpdatedAt = now
	return nil
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status models.BookingStatus) error {
	query, args, err := db.builder.Update("bookings").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "version": version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update status query: %w", err)
	}
	return db.execVersioned(ctx, id, query, args)
}

func (db *DB) execVersioned(ctx context.Context, id int64, query string, args []interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	if _, err := db.GetBooking(ctx, id); err != nil {
		return err
	}
	return domain.ErrConcurrentModification
}

// GetBookingsByDateRange returns bookings starting in [start, end), any status.
func (db *DB) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, db.builder.Select(bookingColumns...).
		From("bookings").
		Where(sq.GtOrEq{"start_at": toUnix(start)}).
		Where(sq.Lt{"start_at": toUnix(end)}).
		OrderBy("start_at ASC", "id ASC"))
}

func (db *DB) GetBookingsByPet(ctx context.Context, petID int64) ([]*models.Booking, error) {
	return db.queryBookings(ctx, db.builder.Select(bookingColumns...).
		From("bookings").
		Where(sq.Eq{"pet_id": petID}).
		OrderBy("start_at DESC", "id DESC"))
}

func (db *DB) queryBookings(ctx context.Context, qb sq.SelectBuilder) ([]*models.Booking, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bookings query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}
