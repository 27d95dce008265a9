package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Auth modes
const (
	AuthModeSupabase = "supabase"
	AuthModeStatic   = "static"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Services ServicesConfig `yaml:"services"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Auth     AuthConfig     `yaml:"auth"`
	Media    MediaConfig    `yaml:"media"`
	Progress ProgressConfig `yaml:"progress"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the credit
// balance source
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	// Enabled turns on event forwarding from the api-service
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServicesConfig holds the remote service endpoints
type ServicesConfig struct {
	TranscriberURL string        `yaml:"transcriber_url"`
	ChaptersURL    string        `yaml:"chapters_url"`
	HealthPath     string        `yaml:"health_path"`
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// List returns the services probed before every job
func (s ServicesConfig) List() []domain.Service {
	return []domain.Service{
		{Name: "transcriber", Endpoint: s.TranscriberURL},
		{Name: "chapters", Endpoint: s.ChaptersURL},
	}
}

// PollConfig holds one bounded backoff schedule
type PollConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// PipelineConfig holds job orchestration tuning
type PipelineConfig struct {
	PricePerMinute    float64       `yaml:"price_per_minute"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ChaptersMaxAge    time.Duration `yaml:"chapters_max_age"`
	EventBuffer       int           `yaml:"event_buffer"`
	TranscriptionPoll PollConfig    `yaml:"transcription_poll"`
	ChaptersPoll      PollConfig    `yaml:"chapters_poll"`
}

// AuthConfig holds identity settings
type AuthConfig struct {
	Mode         string `yaml:"mode"`
	SupabaseURL  string `yaml:"supabase_url"`
	AnonKey      string `yaml:"anon_key"`
	RefreshToken string `yaml:"refresh_token"`
	StaticToken  string `yaml:"static_token"`
	// DefaultUserID is charged when a request names no user. In static mode
	// it is the user the static token was issued for.
	DefaultUserID string `yaml:"default_user_id"`
}

// MediaConfig holds acquisition settings
type MediaConfig struct {
	OutputDir     string `yaml:"output_dir"`
	FFProbeBinary string `yaml:"ffprobe_binary"`
}

// ProgressConfig holds progress-service settings
type ProgressConfig struct {
	ConsumerTag     string        `yaml:"consumer_tag"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and applies defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills every unset tuning value
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Services.HealthPath == "" {
		c.Services.HealthPath = "/docs"
	}
	if c.Services.HealthTimeout <= 0 {
		c.Services.HealthTimeout = 10 * time.Second
	}
	if c.Services.RequestTimeout <= 0 {
		c.Services.RequestTimeout = 60 * time.Second
	}

	if c.Pipeline.PricePerMinute <= 0 {
		c.Pipeline.PricePerMinute = 0.04
	}
	if c.Pipeline.SettleDelay <= 0 {
		c.Pipeline.SettleDelay = 2 * time.Second
	}
	if c.Pipeline.EventBuffer <= 0 {
		c.Pipeline.EventBuffer = 64
	}
	applyPollDefaults(&c.Pipeline.TranscriptionPoll)
	applyPollDefaults(&c.Pipeline.ChaptersPoll)

	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeSupabase
	}

	if c.Media.OutputDir == "" {
		c.Media.OutputDir = "downloads"
	}
	if c.Media.FFProbeBinary == "" {
		c.Media.FFProbeBinary = "ffprobe"
	}

	if c.Progress.ConsumerTag == "" {
		c.Progress.ConsumerTag = "progress-service"
	}
	if c.Progress.ShutdownTimeout <= 0 {
		c.Progress.ShutdownTimeout = 10 * time.Second
	}
}

func applyPollDefaults(p *PollConfig) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 10
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 3 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1.5
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
}

// ValidateAPIConfig checks the configuration needed by the api-service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if err := validateURL("services.transcriber_url", c.Services.TranscriberURL); err != nil {
		return err
	}
	if err := validateURL("services.chapters_url", c.Services.ChaptersURL); err != nil {
		return err
	}

	if c.Pipeline.ChaptersMaxAge < 0 {
		return fmt.Errorf("pipeline chapters_max_age must not be negative")
	}
	if c.Pipeline.TranscriptionPoll.MaxDelay < c.Pipeline.TranscriptionPoll.InitialDelay {
		return fmt.Errorf("pipeline transcription_poll max_delay must be >= initial_delay")
	}
	if c.Pipeline.ChaptersPoll.MaxDelay < c.Pipeline.ChaptersPoll.InitialDelay {
		return fmt.Errorf("pipeline chapters_poll max_delay must be >= initial_delay")
	}

	switch c.Auth.Mode {
	case AuthModeSupabase:
		if err := validateURL("auth.supabase_url", c.Auth.SupabaseURL); err != nil {
			return err
		}
		if c.Auth.RefreshToken == "" {
			return fmt.Errorf("auth refresh_token is required in supabase mode")
		}
	case AuthModeStatic:
		if c.Auth.StaticToken == "" {
			return fmt.Errorf("auth static_token is required in static mode")
		}
		if c.Auth.DefaultUserID == "" {
			return fmt.Errorf("auth default_user_id is required in static mode")
		}
	default:
		return fmt.Errorf("invalid auth mode: %q (must be %s or %s)", c.Auth.Mode, AuthModeSupabase, AuthModeStatic)
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateProgressConfig checks the configuration needed by the
// progress-service
func (c *Config) ValidateProgressConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		return fmt.Errorf("rabbitmq consumer prefetch_count must be greater than 0")
	}

	if c.Progress.ShutdownTimeout <= 0 {
		return fmt.Errorf("progress shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func validateURL(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("invalid " + field + ": scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("invalid " + field + ": host is required")
	}
	return nil
}
