package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	Queues      QueuesConfig
	Provider    ProviderConfig
	Encryption  EncryptionConfig
	Saga        SagaConfig
	Catalog     CatalogConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
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

// RabbitMQConfig holds broker connection settings
type RabbitMQConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	Exchange          string
	Prefetch          int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// QueuesConfig maps routing keys to queue names
type QueuesConfig struct {
	CompanyRoutingKey string
	CompanyQueue      string
	ClientRoutingKey  string
	ClientQueue       string
	InvoiceRoutingKey string
	InvoiceQueue      string
}

// ProviderConfig holds the invoicing provider account settings
type ProviderConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	PluginKey string
	Timeout   time.Duration
}

// EncryptionConfig holds the secret cipher passphrase
type EncryptionConfig struct {
	Passphrase string
}

// SagaConfig holds provisioning delays and the credential poll policy
type SagaConfig struct {
	CredentialDelay    time.Duration
	ReconcileDelay     time.Duration
	ClientConfirmDelay time.Duration
	SeriesSettleDelay  time.Duration
	PollAttempts       int
	PollMaxInterval    time.Duration
	PollDeadline       time.Duration
}

// CatalogConfig holds catalog cache settings
type CatalogConfig struct {
	TTL time.Duration
}

// IdempotencyConfig holds delivery deduplication settings
type IdempotencyConfig struct {
	Enabled bool
	TTL     time.Duration
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// Load reads configuration from config.toml (optional) and PROVISIONER_ env vars
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PROVISIONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
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
		RabbitMQ: RabbitMQConfig{
			Host:              v.GetString("rabbitmq.host"),
			Port:              v.GetInt("rabbitmq.port"),
			User:              v.GetString("rabbitmq.user"),
			Password:          v.GetString("rabbitmq.password"),
			VHost:             v.GetString("rabbitmq.vhost"),
			Exchange:          v.GetString("rabbitmq.exchange"),
			Prefetch:          v.GetInt("rabbitmq.prefetch"),
			ReconnectAttempts: v.GetInt("rabbitmq.reconnect_attempts"),
			ReconnectDelay:    v.GetDuration("rabbitmq.reconnect_delay"),
		},
		Queues: QueuesConfig{
			CompanyRoutingKey: v.GetString("queues.company_routing_key"),
			CompanyQueue:      v.GetString("queues.company_queue"),
			ClientRoutingKey:  v.GetString("queues.client_routing_key"),
			ClientQueue:       v.GetString("queues.client_queue"),
			InvoiceRoutingKey: v.GetString("queues.invoice_routing_key"),
			InvoiceQueue:      v.GetString("queues.invoice_queue"),
		},
		Provider: ProviderConfig{
			BaseURL:   v.GetString("provider.base_url"),
			APIKey:    v.GetString("provider.api_key"),
			SecretKey: v.GetString("provider.secret_key"),
			PluginKey: v.GetString("provider.plugin_key"),
			Timeout:   v.GetDuration("provider.timeout"),
		},
		Encryption: EncryptionConfig{
			Passphrase: v.GetString("encryption.passphrase"),
		},
		Saga: SagaConfig{
			CredentialDelay:    v.GetDuration("saga.credential_delay"),
			ReconcileDelay:     v.GetDuration("saga.reconcile_delay"),
			ClientConfirmDelay: v.GetDuration("saga.client_confirm_delay"),
			SeriesSettleDelay:  v.GetDuration("saga.series_settle_delay"),
			PollAttempts:       v.GetInt("saga.poll_attempts"),
			PollMaxInterval:    v.GetDuration("saga.poll_max_interval"),
			PollDeadline:       v.GetDuration("saga.poll_deadline"),
		},
		Catalog: CatalogConfig{
			TTL: v.GetDuration("catalog.ttl"),
		},
		Idempotency: IdempotencyConfig{
			Enabled: v.GetBool("idempotency.enabled"),
			TTL:     v.GetDuration("idempotency.ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
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
		cfg.App.Name = "provisioner"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
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
		cfg.Database.DBName = "provisioner"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
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
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.User == "" {
		cfg.RabbitMQ.User = "guest"
	}
	if cfg.RabbitMQ.Password == "" && cfg.App.Env != "production" {
		cfg.RabbitMQ.Password = "guest"
	}
	if cfg.RabbitMQ.VHost == "" {
		cfg.RabbitMQ.VHost = "/"
	}
	if cfg.RabbitMQ.Exchange == "" {
		cfg.RabbitMQ.Exchange = "amq.topic"
	}
	if cfg.RabbitMQ.Prefetch == 0 {
		cfg.RabbitMQ.Prefetch = 1
	}
	if cfg.RabbitMQ.ReconnectAttempts == 0 {
		cfg.RabbitMQ.ReconnectAttempts = 5
	}
	if cfg.RabbitMQ.ReconnectDelay == 0 {
		cfg.RabbitMQ.ReconnectDelay = 5 * time.Second
	}
	if cfg.Queues.CompanyRoutingKey == "" {
		cfg.Queues.CompanyRoutingKey = "company.created"
	}
	if cfg.Queues.CompanyQueue == "" {
		cfg.Queues.CompanyQueue = "company_created_queue"
	}
	if cfg.Queues.ClientRoutingKey == "" {
		cfg.Queues.ClientRoutingKey = "client.created"
	}
	if cfg.Queues.ClientQueue == "" {
		cfg.Queues.ClientQueue = "client_created_queue"
	}
	if cfg.Queues.InvoiceRoutingKey == "" {
		cfg.Queues.InvoiceRoutingKey = "invoice.requested"
	}
	if cfg.Queues.InvoiceQueue == "" {
		cfg.Queues.InvoiceQueue = "invoice_requested_queue"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://sandbox.factura.com/api/v4"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	if cfg.Saga.CredentialDelay == 0 {
		cfg.Saga.CredentialDelay = 2 * time.Second
	}
	if cfg.Saga.ReconcileDelay == 0 {
		cfg.Saga.ReconcileDelay = 5 * time.Second
	}
	if cfg.Saga.ClientConfirmDelay == 0 {
		cfg.Saga.ClientConfirmDelay = 2 * time.Second
	}
	if cfg.Saga.SeriesSettleDelay == 0 {
		cfg.Saga.SeriesSettleDelay = time.Second
	}
	if cfg.Saga.PollAttempts == 0 {
		cfg.Saga.PollAttempts = 1
	}
	if cfg.Saga.PollMaxInterval == 0 {
		cfg.Saga.PollMaxInterval = 30 * time.Second
	}
	if cfg.Saga.PollDeadline == 0 {
		cfg.Saga.PollDeadline = 2 * time.Minute
	}
	if cfg.Catalog.TTL == 0 {
		cfg.Catalog.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
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
	if c.RabbitMQ.Prefetch != 1 {
		return fmt.Errorf("rabbitmq.prefetch must be 1, got %d", c.RabbitMQ.Prefetch)
	}
	if c.Saga.PollAttempts < 1 {
		return fmt.Errorf("saga.poll_attempts must be at least 1")
	}

	if c.App.Env == "production" {
		if len(c.Encryption.Passphrase) < 16 {
			return fmt.Errorf("encryption.passphrase must be at least 16 characters in production")
		}
		if c.RabbitMQ.Password == "" {
			return fmt.Errorf("rabbitmq.password is required in production")
		}
		if c.Provider.APIKey == "" || c.Provider.SecretKey == "" {
			return fmt.Errorf("provider.api_key and provider.secret_key are required in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
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

// URL returns the AMQP connection URL with properly escaped values
func (r *RabbitMQConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   "/" + strings.TrimPrefix(r.VHost, "/"),
	}
	return u.String()
}

// Addr returns the Redis host:port address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RoutingQueues returns the routing key to queue name map
func (q *QueuesConfig) RoutingQueues() map[string]string {
	return map[string]string{
		q.CompanyRoutingKey: q.CompanyQueue,
		q.ClientRoutingKey:  q.ClientQueue,
		q.InvoiceRoutingKey: q.InvoiceQueue,
	}
}
