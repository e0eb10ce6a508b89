package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"vetclinic/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	LockMemory = "memory"
	LockRedis  = "redis"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Reminders  ReminderConfig   `yaml:"reminders"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN renders the connection string understood by the pgx stdlib driver.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type SchedulingConfig struct {
	Timezone       string        `yaml:"timezone"`
	MaxBookingDays int           `yaml:"max_booking_days"`
	Lock           string        `yaml:"lock"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

// Location resolves Timezone, falling back to UTC when it is empty.
func (s SchedulingConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

type ReminderConfig struct {
	Enabled  bool          `yaml:"enabled"`
	LeadTime time.Duration `yaml:"lead_time"`
	Retry    RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type CatalogConfig struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Type            models.ServiceType `yaml:"type"`
	Label           string             `yaml:"label"`
	DurationMinutes int                `yaml:"duration_minutes"`
	AutoConfirm     *bool              `yaml:"auto_confirm"` // nil keeps the built-in policy
}

type NotifierConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type WebhookConfig struct {
	URL      string            `yaml:"url"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
	Channels []models.Channel  `yaml:"channels"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if _, err := c.Scheduling.Location(); err != nil {
		return fmt.Errorf("invalid scheduling timezone: %w", err)
	}

	switch c.Scheduling.Lock {
	case LockMemory:
	case LockRedis:
		if c.Redis.Address == "" {
			return errors.New("scheduling.lock=redis requires redis.address")
		}
	default:
		return fmt.Errorf("unknown scheduling lock %q", c.Scheduling.Lock)
	}

	if c.Reminders.LeadTime < 0 {
		return errors.New("reminders.lead_time must not be negative")
	}

	if c.Reminders.Retry.MaxAttempts < 1 {
		return errors.New("reminders.retry.max_attempts must be at least 1")
	}

	for _, ch := range c.Notifier.Webhook.Channels {
		if !ch.Valid() {
			return fmt.Errorf("notifier.webhook: unknown channel %q", ch)
		}
	}

	return ValidateServices(c.Catalog.Services)
}

func ValidateServices(services []ServiceConfig) error {
	seen := make(map[models.ServiceType]bool)
	for _, s := range services {
		if !s.Type.Valid() {
			return fmt.Errorf("catalog: unknown service type %q", s.Type)
		}
		if seen[s.Type] {
			return fmt.Errorf("catalog: duplicate service type %q", s.Type)
		}
		if s.DurationMinutes < 0 {
			return fmt.Errorf("catalog: service %q has negative duration", s.Type)
		}
		seen[s.Type] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	c.Scheduling.Lock = strings.ToLower(strings.TrimSpace(c.Scheduling.Lock))
	if c.Scheduling.Lock == "" {
		c.Scheduling.Lock = LockMemory
	}
	if c.Scheduling.MaxBookingDays == 0 {
		c.Scheduling.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if c.Scheduling.LockTTL == 0 {
		c.Scheduling.LockTTL = 10 * time.Second
	}
	if c.Scheduling.LockTimeout == 0 {
		c.Scheduling.LockTimeout = 5 * time.Second
	}

	if c.Reminders.LeadTime == 0 {
		c.Reminders.LeadTime = models.DefaultReminderLead
	}
	if c.Reminders.Retry.MaxAttempts == 0 {
		c.Reminders.Retry.MaxAttempts = 5
	}
	if c.Reminders.Retry.InitialDelay == 0 {
		c.Reminders.Retry.InitialDelay = 2 * time.Second
	}
	if c.Reminders.Retry.MaxDelay == 0 {
		c.Reminders.Retry.MaxDelay = time.Minute
	}
	if c.Reminders.Retry.BackoffFactor == 0 {
		c.Reminders.Retry.BackoffFactor = 2
	}

	if c.Notifier.Webhook.Timeout == 0 {
		c.Notifier.Webhook.Timeout = 10 * time.Second
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
