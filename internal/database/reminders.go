package database

import (
	"context"
	"fmt"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"

	sq "github.com/Masterminds/squirrel"
)

// SaveReminderJob inserts the job or replaces the one already stored for its booking.
func (db *DB) SaveReminderJob(ctx context.Context, job *models.ReminderJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query, args, err := db.builder.Insert("reminder_jobs").
		Columns(
			"booking_id", "client_id", "pet_id", "employee_id", "service_type", "channel",
			"start_at", "fire_at", "status", "attempts", "last_error", "created_at", "updated_at",
		).
		Values(
			job.BookingID, job.ClientID, job.PetID, job.EmployeeID, string(job.ServiceType), string(job.Channel),
			toUnix(job.StartAt), toUnix(job.FireAt), job.Status, job.Attempts, job.LastError,
			job.CreatedAt.UTC(), now,
		).
		Suffix(`ON CONFLICT (booking_id) DO UPDATE SET
            client_id = excluded.client_id,
            pet_id = excluded.pet_id,
            employee_id = excluded.employee_id,
            service_type = excluded.service_type,
            channel = excluded.channel,
            start_at = excluded.start_at,
            fire_at = excluded.fire_at,
            status = excluded.status,
            attempts = excluded.attempts,
            last_error = excluded.last_error,
            updated_at = excluded.updated_at
            RETURNING id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build save reminder job query: %w", err)
	}

	if err := db.QueryRowContext(ctx, query, args...).Scan(&job.ID); err != nil {
		return fmt.Errorf("failed to save reminder job: %w", err)
	}
	return nil
}

func (db *DB) UpdateReminderJobStatus(ctx context.Context, bookingID int64, status string, attempts int, lastError string) error {
	query, args, err := db.builder.Update("reminder_jobs").
		Set("status", status).
		Set("attempts", attempts).
		Set("last_error", lastError).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"booking_id": bookingID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update reminder job query: %w", err)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update reminder job status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NewNotFoundError("reminder job", bookingID)
	}
	return nil
}

// GetActiveReminderJobs returns pending and retry jobs ordered by fire time.
func (db *DB) GetActiveReminderJobs(ctx context.Context) ([]*models.ReminderJob, error) {
	return db.queryReminderJobs(ctx, sq.Eq{"status": []string{models.ReminderPending, models.ReminderRetry}})
}

func (db *DB) GetReminderJob(ctx context.Context, bookingID int64) (*models.ReminderJob, error) {
	jobs, err := db.queryReminderJobs(ctx, sq.Eq{"booking_id": bookingID})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, domain.NewNotFoundError("reminder job", bookingID)
	}
	return jobs[0], nil
}

func (db *DB) queryReminderJobs(ctx context.Context, where sq.Sqlizer) ([]*models.ReminderJob, error) {
	query, args, err := db.builder.Select(
		"id", "booking_id", "client_id", "pet_id", "employee_id", "service_type", "channel",
		"start_at", "fire_at", "status", "attempts", "last_error", "created_at", "updated_at",
	).
		From("reminder_jobs").
		Where(where).
		OrderBy("fire_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reminder jobs query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ReminderJob
	for rows.Next() {
		var j models.ReminderJob
		var startAt, fireAt int64
		err := rows.Scan(
			&j.ID, &j.BookingID, &j.ClientID, &j.PetID, &j.EmployeeID, &j.ServiceType, &j.Channel,
			&startAt, &fireAt, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder job: %w", err)
		}
		j.StartAt = fromUnix(startAt)
		j.FireAt = fromUnix(fireAt)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder jobs: %w", err)
	}
	return jobs, nil
}
