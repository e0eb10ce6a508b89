package database

import (
	"context"
	"encoding/json"
	"fmt"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"

	sq "github.com/Masterminds/squirrel"
)

func (db *DB) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	query, args, err := db.builder.Select("id", "name", "email", "phone", "push_token", "telegram_chat_id").
		From("clients").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get client query: %w", err)
	}

	var c models.Client
	err = db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.PushToken, &c.TelegramChatID)
	if isNoRows(err) {
		return nil, domain.NewNotFoundError("client", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

func (db *DB) GetPet(ctx context.Context, id int64) (*models.Pet, error) {
	query, args, err := db.builder.Select("id", "name", "species", "owner_id").
		From("pets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get pet query: %w", err)
	}

	var p models.Pet
	err = db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.Name, &p.Species, &p.OwnerID)
	if isNoRows(err) {
		return nil, domain.NewNotFoundError("pet", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pet: %w", err)
	}
	return &p, nil
}

func (db *DB) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	query, args, err := db.builder.Select("id", "name", "specialty", "service_minutes").
		From("employees").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get employee query: %w", err)
	}

	var e models.Employee
	var minutes string
	err = db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.Name, &e.Specialty, &minutes)
	if isNoRows(err) {
		return nil, domain.NewNotFoundError("employee", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	if minutes != "" {
		if err := json.Unmarshal([]byte(minutes), &e.ServiceMinutes); err != nil {
			return nil, fmt.Errorf("failed to decode service minutes of employee %d: %w", id, err)
		}
	}
	return &e, nil
}

func (db *DB) UpsertClient(ctx context.Context, c *models.Client) error {
	query, args, err := db.builder.Insert("clients").
		Columns("id", "name", "email", "phone", "push_token", "telegram_chat_id").
		Values(c.ID, c.Name, c.Email, c.Phone, c.PushToken, c.TelegramChatID).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            email = excluded.email,
            phone = excluded.phone,
            push_token = excluded.push_token,
            telegram_chat_id = excluded.telegram_chat_id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert client query: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert client %d: %w", c.ID, err)
	}
	return nil
}

func (db *DB) UpsertPet(ctx context.Context, p *models.Pet) error {
	query, args, err := db.builder.Insert("pets").
		Columns("id", "name", "species", "owner_id").
		Values(p.ID, p.Name, p.Species, p.OwnerID).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            species = excluded.species,
            owner_id = excluded.owner_id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert pet query: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert pet %d: %w", p.ID, err)
	}
	return nil
}

func (db *DB) UpsertEmployee(ctx context.Context, e *models.Employee) error {
	minutes := []byte("{}")
	if len(e.ServiceMinutes) > 0 {
		var err error
		if minutes, err = json.Marshal(e.ServiceMinutes); err != nil {
			return fmt.Errorf("failed to encode service minutes: %w", err)
		}
	}

	query, args, err := db.builder.Insert("employees").
		Columns("id", "name", "specialty", "service_minutes").
		Values(e.ID, e.Name, e.Specialty, string(minutes)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            specialty = excluded.specialty,
            service_minutes = excluded.service_minutes`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert employee query: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert employee %d: %w", e.ID, err)
	}
	return nil
}
