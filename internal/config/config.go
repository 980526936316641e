package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"slotdesk/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Scheduling    SchedulingConfig    `yaml:"scheduling"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Exports       ExportConfig        `yaml:"exports"`
	Resources     []models.Resource   `yaml:"resources"`
}

type SchedulingConfig struct {
	SameDayAllowed         bool              `yaml:"same_day_allowed"`
	CompletionRequiresEnd  bool              `yaml:"completion_requires_end"`
	DefaultDurationMinutes int               `yaml:"default_duration_minutes"`
	ReferencePrefixes      map[string]string `yaml:"reference_prefixes"`
	ReminderTime           string            `yaml:"reminder_time"`
	Timezone               string            `yaml:"timezone"`
	LockTTL                time.Duration     `yaml:"lock_ttl"`
}

// Location resolves the reminder timezone. Empty means the host zone.
func (s SchedulingConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduling timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// PrefixFor returns the configured booking reference prefix for a resource kind.
func (s SchedulingConfig) PrefixFor(kind models.ResourceKind) string {
	if p, ok := s.ReferencePrefixes[string(kind)]; ok && p != "" {
		return p
	}
	return ""
}

type NotificationsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	TelegramToken  string        `yaml:"telegram_token"`
	TelegramChatID int64         `yaml:"telegram_chat_id"`
	GoogleSheets   GoogleConfig  `yaml:"google_sheets"`
	Retry          RetryConfig   `yaml:"retry"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// GoogleConfig enables the spreadsheet mirror when SpreadsheetID is set.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	Sheet           string `yaml:"sheet"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	// Jitter is the fraction, 0 to 1, a delay may be shortened at random.
	Jitter float64 `yaml:"jitter"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
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

// DSN builds a libpq style connection string understood by pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode, p.MaxConnections)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
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

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func Load(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
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
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Scheduling.ReminderTime != "" {
		if _, err := time.Parse("15:04", c.Scheduling.ReminderTime); err != nil {
			return fmt.Errorf("invalid reminder_time %q: %w", c.Scheduling.ReminderTime, err)
		}
	}
	if _, err := c.Scheduling.Location(); err != nil {
		return err
	}
	if j := c.Notifications.Retry.Jitter; j < 0 || j > 1 {
		return fmt.Errorf("retry jitter %v must be between 0 and 1", j)
	}
	if gs := c.Notifications.GoogleSheets; gs.SpreadsheetID != "" && gs.CredentialsFile == "" {
		return errors.New("google_sheets.credentials_file is required with a spreadsheet_id")
	}

	return ValidateResources(c.Resources)
}

func ValidateResources(resources []models.Resource) error {
	refs := make(map[string]bool)
	for i := range resources {
		r := &resources[i]
		if strings.TrimSpace(r.Ref) == "" {
			return fmt.Errorf("resource '%s' has empty ref", r.Name)
		}
		if refs[r.Ref] {
			return fmt.Errorf("duplicate resource ref found: %s", r.Ref)
		}
		refs[r.Ref] = true

		if r.Kind != models.ResourceService && r.Kind != models.ResourceAgent {
			return fmt.Errorf("resource %s has unknown kind %q", r.Ref, r.Kind)
		}
		if err := r.Calendar.Validate(); err != nil {
			return fmt.Errorf("resource %s: %w", r.Ref, err)
		}
		if r.Timezone != "" {
			if _, err := time.LoadLocation(r.Timezone); err != nil {
				return fmt.Errorf("resource %s has invalid timezone: %w", r.Ref, err)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "slotdesk"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.Database.Postgres.MaxConnections == 0 {
		c.Database.Postgres.MaxConnections = 10
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Scheduling.ReminderTime == "" {
		c.Scheduling.ReminderTime = fmt.Sprintf("%02d:00", models.ReminderHour)
	}
	if c.Scheduling.DefaultDurationMinutes == 0 {
		c.Scheduling.DefaultDurationMinutes = models.DefaultDurationMinutes
	}
	if c.Scheduling.LockTTL == 0 {
		c.Scheduling.LockTTL = 10 * time.Second
	}

	if c.Notifications.WebhookTimeout == 0 {
		c.Notifications.WebhookTimeout = 5 * time.Second
	}
	if c.Notifications.PollInterval == 0 {
		c.Notifications.PollInterval = 5 * time.Second
	}
	if c.Notifications.Retry.MaxRetries == 0 {
		c.Notifications.Retry.MaxRetries = 5
	}
	if c.Notifications.Retry.InitialDelay == 0 {
		c.Notifications.Retry.InitialDelay = 2 * time.Second
	}
	if c.Notifications.Retry.MaxDelay == 0 {
		c.Notifications.Retry.MaxDelay = 5 * time.Minute
	}
	if c.Notifications.Retry.BackoffFactor == 0 {
		c.Notifications.Retry.BackoffFactor = 2
	}

	for i := range c.Resources {
		r := &c.Resources[i]
		r.Calendar = r.Calendar.WithDefaults()
		if r.DefaultDurationMinutes == 0 {
			r.DefaultDurationMinutes = c.Scheduling.DefaultDurationMinutes
		}
		if r.Kind == "" {
			r.Kind = models.ResourceService
		}
	}
}
