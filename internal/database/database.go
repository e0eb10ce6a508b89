package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vetclinic/internal/config"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the SQL storage backend. Queries are built with squirrel so the same
// code runs on SQLite and PostgreSQL.
type DB struct {
	*sql.DB
	driver  string
	path    string
	builder sq.StatementBuilderType
	logger  *zerolog.Logger
}

type dialect struct {
	serialPK  string
	timestamp string
}

var dialects = map[string]dialect{
	config.DriverSQLite:   {serialPK: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "DATETIME"},
	config.DriverPostgres: {serialPK: "BIGSERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ"},
}

// Open connects to the backend selected by cfg.Driver.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewDB(cfg.Path, logger)
	case config.DriverPostgres:
		return NewPostgresDB(cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB opens (creating if needed) the SQLite database at path.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent bookings.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{
		DB:      sqlDB,
		driver:  config.DriverSQLite,
		path:    path,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger:  logger,
	}
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// NewPostgresDB connects through the pgx database/sql driver.
func NewPostgresDB(cfg config.PostgresConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	sqlDB, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	db := &DB{
		DB:      sqlDB,
		driver:  config.DriverPostgres,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:  logger,
	}
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Database initialized")
	return db, nil
}

func (db *DB) init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (db *DB) createTables(ctx context.Context) error {
	d := dialects[db.driver]
	queries := []string{
		`CREATE TABLE IF NOT EXISTS clients (
            id BIGINT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            push_token TEXT NOT NULL DEFAULT '',
            telegram_chat_id BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS pets (
            id BIGINT PRIMARY KEY,
            name TEXT NOT NULL,
            species TEXT NOT NULL DEFAULT '',
            owner_id BIGINT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS employees (
            id BIGINT PRIMARY KEY,
            name TEXT NOT NULL,
            specialty TEXT NOT NULL DEFAULT '',
            service_minutes TEXT NOT NULL DEFAULT '{}'
        )`,
		// start_at and end_at hold unix seconds so range checks compare integers
		// on every driver.
		`CREATE TABLE IF NOT EXISTS bookings (
            id ` + d.serialPK + `,
            pet_id BIGINT NOT NULL,
            employee_id BIGINT NOT NULL,
            client_id BIGINT NOT NULL,
            service_type TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            start_at BIGINT NOT NULL,
            end_at BIGINT NOT NULL,
            duration_minutes INTEGER NOT NULL,
            reminder_requested BOOLEAN NOT NULL DEFAULT FALSE,
            reminder_channel TEXT NOT NULL DEFAULT 'email',
            created_at ` + d.timestamp + ` NOT NULL,
            updated_at ` + d.timestamp + ` NOT NULL,
            version BIGINT NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS reminder_jobs (
            id ` + d.serialPK + `,
            booking_id BIGINT NOT NULL UNIQUE,
            client_id BIGINT NOT NULL,
            pet_id BIGINT NOT NULL,
            employee_id BIGINT NOT NULL,
            service_type TEXT NOT NULL,
            channel TEXT NOT NULL,
            start_at BIGINT NOT NULL,
            fire_at BIGINT NOT NULL,
            status TEXT NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT NOT NULL DEFAULT '',
            created_at ` + d.timestamp + ` NOT NULL,
            updated_at ` + d.timestamp + ` NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_employee_start ON bookings(employee_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_pet_id ON bookings(pet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_start ON bookings(start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pets_owner_id ON pets(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_jobs_status ON reminder_jobs(status)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", firstLine(query), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Driver() string { return db.driver }

// Path is the SQLite file path, empty for PostgreSQL.
func (db *DB) Path() string { return db.path }

func (db *DB) Close() error {
	return db.DB.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func toUnix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
