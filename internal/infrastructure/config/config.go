package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FULFILLMENT_CARRIER_CLIENT_ID
const EnvPrefix = "FULFILLMENT"

// ErrSchedulerNotConfigured is returned when the scheduler lacks the
// credentials it needs to run at all.
var ErrSchedulerNotConfigured = errors.New("config: scheduler prerequisites missing")

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Scheduler   SchedulerConfig
	Idempotency IdempotencyConfig
	CRM         CRMConfig
	Carrier     CarrierConfig
	Sheet       SheetConfig
	Storage     StorageConfig
	Notify      NotifyConfig
	Telemetry   TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
	// GormLevel controls SQL logging: silent, error, warn, info
	GormLevel string
	// SlowQuery is the SQL duration logged as slow
	SlowQuery time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	MaxHeaderBytes     int
	WebhookMaxBodySize int64
	AdminToken         string
	TrustedProxies     []string
}

// SchedulerConfig holds the reconciliation loop settings
type SchedulerConfig struct {
	Enabled               bool
	ShipmentPollInterval  time.Duration
	UntrackedSyncInterval time.Duration
	BatchSize             int
	CallTimeout           time.Duration // bound on every gateway call
	HistorySize           int
}

// IdempotencyConfig holds duplicate-suppression settings
type IdempotencyConfig struct {
	Backend       string // memory or redis
	TTL           time.Duration
	Capacity      int
	KeyPrefix     string
	AllowFallback bool
}

// CRMConfig holds the CRM connection, field and stage identifiers
type CRMConfig struct {
	BaseURL               string
	AccessToken           string
	Timeout               time.Duration
	PipelineID            int64
	TrackerFieldID        int64
	StatusFieldID         int64
	PickupFieldID         int64
	PurchaseDateFieldID   int64
	CommentFieldID        int64
	StageSentID           int64
	StageDeliveredPointID int64
	StageRealizedID       int64
}

// CarrierConfig holds the parcel carrier API credentials
type CarrierConfig struct {
	BaseURL          string
	ClientID         string
	ClientSecret     string
	Timeout          time.Duration
	TrackerMinLength int
	TrackerMaxLength int
}

// SheetConfig holds the spreadsheet ledger settings. Columns are 1-based.
type SheetConfig struct {
	Enabled         bool
	BaseURL         string
	TokenURL        string
	SpreadsheetID   string
	SheetName       string
	TrackerColumn   int
	StatusColumn    int
	CredentialsFile string
	Timeout         time.Duration
}

// StorageConfig holds the raw webhook archive bucket settings
type StorageConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// NotifyConfig holds the chat notification settings
type NotifyConfig struct {
	Enabled  bool
	BaseURL  string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
}

// Load loads configuration from config.toml and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with FULFILLMENT_ prefix (e.g., FULFILLMENT_CRM_ACCESS_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file, or searches the
// default locations when path is empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// booleans that default to true
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("idempotency.allow_fallback", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:     v.GetString("log.level"),
			Format:    v.GetString("log.format"),
			Output:    v.GetString("log.output"),
			GormLevel: v.GetString("log.gorm_level"),
			SlowQuery: v.GetDuration("log.slow_query"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:        v.GetDuration("http.read_timeout"),
			WriteTimeout:       v.GetDuration("http.write_timeout"),
			IdleTimeout:        v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:     v.GetInt("http.max_header_bytes"),
			WebhookMaxBodySize: v.GetInt64("http.webhook_max_body_size"),
			AdminToken:         v.GetString("http.admin_token"),
			TrustedProxies:     v.GetStringSlice("http.trusted_proxies"),
		},
		Scheduler: SchedulerConfig{
			Enabled:               v.GetBool("scheduler.enabled"),
			ShipmentPollInterval:  v.GetDuration("scheduler.shipment_poll_interval"),
			UntrackedSyncInterval: v.GetDuration("scheduler.untracked_sync_interval"),
			BatchSize:             v.GetInt("scheduler.batch_size"),
			CallTimeout:           v.GetDuration("scheduler.call_timeout"),
			HistorySize:           v.GetInt("scheduler.history_size"),
		},
		Idempotency: IdempotencyConfig{
			Backend:       v.GetString("idempotency.backend"),
			TTL:           v.GetDuration("idempotency.ttl"),
			Capacity:      v.GetInt("idempotency.capacity"),
			KeyPrefix:     v.GetString("idempotency.key_prefix"),
			AllowFallback: v.GetBool("idempotency.allow_fallback"),
		},
		CRM: CRMConfig{
			BaseURL:               v.GetString("crm.base_url"),
			AccessToken:           v.GetString("crm.access_token"),
			Timeout:               v.GetDuration("crm.timeout"),
			PipelineID:            v.GetInt64("crm.pipeline_id"),
			TrackerFieldID:        v.GetInt64("crm.tracker_field_id"),
			StatusFieldID:         v.GetInt64("crm.status_field_id"),
			PickupFieldID:         v.GetInt64("crm.pickup_field_id"),
			PurchaseDateFieldID:   v.GetInt64("crm.purchase_date_field_id"),
			CommentFieldID:        v.GetInt64("crm.comment_field_id"),
			StageSentID:           v.GetInt64("crm.stage_sent_id"),
			StageDeliveredPointID: v.GetInt64("crm.stage_delivered_to_point_id"),
			StageRealizedID:       v.GetInt64("crm.stage_realized_id"),
		},
		Carrier: CarrierConfig{
			BaseURL:          v.GetString("carrier.base_url"),
			ClientID:         v.GetString("carrier.client_id"),
			ClientSecret:     v.GetString("carrier.client_secret"),
			Timeout:          v.GetDuration("carrier.timeout"),
			TrackerMinLength: v.GetInt("carrier.tracker_min_length"),
			TrackerMaxLength: v.GetInt("carrier.tracker_max_length"),
		},
		Sheet: SheetConfig{
			Enabled:         v.GetBool("sheet.enabled"),
			BaseURL:         v.GetString("sheet.base_url"),
			TokenURL:        v.GetString("sheet.token_url"),
			SpreadsheetID:   v.GetString("sheet.spreadsheet_id"),
			SheetName:       v.GetString("sheet.sheet_name"),
			TrackerColumn:   v.GetInt("sheet.tracker_column"),
			StatusColumn:    v.GetInt("sheet.status_column"),
			CredentialsFile: v.GetString("sheet.credentials_file"),
			Timeout:         v.GetDuration("sheet.timeout"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Notify: NotifyConfig{
			Enabled:  v.GetBool("notify.enabled"),
			BaseURL:  v.GetString("notify.base_url"),
			BotToken: v.GetString("notify.bot_token"),
			ChatID:   v.GetString("notify.chat_id"),
			Timeout:  v.GetDuration("notify.timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fulfillment"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "fulfillment"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "fulfillment.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.GormLevel == "" {
		cfg.Log.GormLevel = "warn"
	}
	if cfg.Log.SlowQuery <= 0 {
		cfg.Log.SlowQuery = 200 * time.Millisecond
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.WebhookMaxBodySize == 0 {
		cfg.HTTP.WebhookMaxBodySize = 1 << 20
	}
	if cfg.Scheduler.ShipmentPollInterval == 0 {
		cfg.Scheduler.ShipmentPollInterval = 30 * time.Minute
	}
	if cfg.Scheduler.UntrackedSyncInterval == 0 {
		cfg.Scheduler.UntrackedSyncInterval = time.Hour
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 500
	}
	if cfg.Scheduler.CallTimeout == 0 {
		cfg.Scheduler.CallTimeout = 5 * time.Second
	}
	if cfg.Scheduler.HistorySize == 0 {
		cfg.Scheduler.HistorySize = 100
	}
	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = "memory"
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.Capacity == 0 {
		cfg.Idempotency.Capacity = 10000
	}
	if cfg.Idempotency.KeyPrefix == "" {
		cfg.Idempotency.KeyPrefix = "fulfillment:idempotency:"
	}
	if cfg.CRM.Timeout == 0 {
		cfg.CRM.Timeout = cfg.Scheduler.CallTimeout
	}
	if cfg.Carrier.BaseURL == "" {
		cfg.Carrier.BaseURL = "https://api.cdek.ru"
	}
	if cfg.Carrier.Timeout == 0 {
		cfg.Carrier.Timeout = cfg.Scheduler.CallTimeout
	}
	if cfg.Carrier.TrackerMinLength == 0 {
		cfg.Carrier.TrackerMinLength = 8
	}
	if cfg.Carrier.TrackerMaxLength == 0 {
		cfg.Carrier.TrackerMaxLength = 14
	}
	if cfg.Sheet.BaseURL == "" {
		cfg.Sheet.BaseURL = "https://sheets.googleapis.com"
	}
	if cfg.Sheet.TokenURL == "" {
		cfg.Sheet.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.Sheet.SheetName == "" {
		cfg.Sheet.SheetName = "Orders"
	}
	if cfg.Sheet.TrackerColumn == 0 {
		cfg.Sheet.TrackerColumn = 1
	}
	if cfg.Sheet.StatusColumn == 0 {
		cfg.Sheet.StatusColumn = 2
	}
	if cfg.Sheet.Timeout == 0 {
		cfg.Sheet.Timeout = cfg.Scheduler.CallTimeout
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "webhooks"
	}
	if cfg.Notify.BaseURL == "" {
		cfg.Notify.BaseURL = "https://api.telegram.org"
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = cfg.Scheduler.CallTimeout
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Scheduler.ShipmentPollInterval < 0 || c.Scheduler.UntrackedSyncInterval < 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.Scheduler.BatchSize < 0 {
		return fmt.Errorf("scheduler.batch_size cannot be negative")
	}
	if c.Scheduler.CallTimeout < 0 || c.Scheduler.CallTimeout >= 10*time.Second {
		return fmt.Errorf("scheduler.call_timeout must be between 0 and 10s, got %s", c.Scheduler.CallTimeout)
	}

	switch c.Idempotency.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("idempotency.backend must be memory or redis, got %q", c.Idempotency.Backend)
	}
	if c.Idempotency.Capacity < 0 {
		return fmt.Errorf("idempotency.capacity must be positive")
	}
	if c.Idempotency.TTL < 0 {
		return fmt.Errorf("idempotency.ttl must be positive")
	}

	if c.Carrier.TrackerMinLength > c.Carrier.TrackerMaxLength {
		return fmt.Errorf("carrier.tracker_min_length (%d) cannot exceed carrier.tracker_max_length (%d)",
			c.Carrier.TrackerMinLength, c.Carrier.TrackerMaxLength)
	}

	if c.Sheet.Enabled && (c.Sheet.SpreadsheetID == "" || c.Sheet.CredentialsFile == "") {
		return fmt.Errorf("sheet.spreadsheet_id and sheet.credentials_file are required when sheet.enabled is true")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.enabled is true")
	}
	if c.Notify.Enabled && (c.Notify.BotToken == "" || c.Notify.ChatID == "") {
		return fmt.Errorf("notify.bot_token and notify.chat_id are required when notify.enabled is true")
	}

	if c.App.Env == "production" && c.Database.Driver == "postgres" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}
	return nil
}

// ValidateForScheduler reports configuration the scheduler cannot run
// without. Missing credentials stop startup instead of failing every tick.
func (c *Config) ValidateForScheduler() error {
	var missing []string
	if c.Carrier.ClientID == "" {
		missing = append(missing, "carrier.client_id")
	}
	if c.Carrier.ClientSecret == "" {
		missing = append(missing, "carrier.client_secret")
	}
	if c.CRM.BaseURL == "" {
		missing = append(missing, "crm.base_url")
	}
	if c.CRM.AccessToken == "" {
		missing = append(missing, "crm.access_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrSchedulerNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
