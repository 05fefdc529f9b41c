package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/cuongbtq/video2audio/shared/postgresql"
	"github.com/cuongbtq/video2audio/shared/rabbitmq"
	"github.com/cuongbtq/video2audio/shared/redis"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Upload     UploadConfig     `yaml:"upload"`
	Worker     WorkerConfig     `yaml:"worker"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
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

// QueueConfig selects the broker driver
type QueueConfig struct {
	Driver      string `yaml:"driver"` // rabbitmq, redis
	ConsumerTag string `yaml:"consumer_tag"`
	RedisQueue  string `yaml:"redis_queue"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
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

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
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
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds Redis connection configuration for the redis queue driver
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds MinIO / S3 configuration
type StorageConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	UseSSL    bool          `yaml:"use_ssl"`
	Region    string        `yaml:"region"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds object store circuit breaker settings
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// TranscoderConfig holds ffmpeg settings
type TranscoderConfig struct {
	FFmpegPath string        `yaml:"ffmpeg_path"`
	Timeout    time.Duration `yaml:"timeout"`
	AudioCodec string        `yaml:"audio_codec"`
	Bitrate    string        `yaml:"bitrate"`
}

// UploadConfig bounds accepted submissions
type UploadConfig struct {
	MaxBytes             int64  `yaml:"max_bytes"`
	AllowedContentPrefix string `yaml:"allowed_content_prefix"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	LeaseDuration     time.Duration `yaml:"lease_duration"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	TempDir           string        `yaml:"temp_dir"`
	ChunkSize         int           `yaml:"chunk_size"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// MonitorConfig holds orphan monitor settings
type MonitorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	RequeueOrphans bool          `yaml:"requeue_orphans"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and fills unset values with defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Port, 8080)
	setDefault(&c.Server.ReadTimeout, 30*time.Second)
	setDefault(&c.Server.WriteTimeout, 10*time.Minute)
	setDefault(&c.Server.IdleTimeout, 2*time.Minute)
	setDefault(&c.Server.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Database.Port, 5432)
	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.MaxOpenConns, 25)
	setDefault(&c.Database.MaxIdleConns, 5)
	setDefault(&c.Database.ConnMaxLifetime, 5*time.Minute)

	setDefault(&c.Queue.Driver, queue.DriverRabbitMQ)
	setDefault(&c.Queue.RedisQueue, "conversion_jobs")

	setDefault(&c.RabbitMQ.Port, 5672)
	setDefault(&c.RabbitMQ.VHost, "/")
	setDefault(&c.RabbitMQ.Exchange.Type, "direct")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDefault(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.Connection.ConnectionTimeout, 30*time.Second)
	setDefault(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDefault(&c.RabbitMQ.Publish.RetryInterval, 500*time.Millisecond)
	setDefault(&c.RabbitMQ.Publish.BackoffMultiplier, 2.0)

	setDefault(&c.Redis.PoolSize, 10)
	setDefault(&c.Redis.DialTimeout, 5*time.Second)

	setDefault(&c.Storage.Breaker.MaxRequests, uint32(1))
	setDefault(&c.Storage.Breaker.Interval, time.Minute)
	setDefault(&c.Storage.Breaker.Timeout, 30*time.Second)
	setDefault(&c.Storage.Breaker.ConsecutiveFailures, uint32(5))

	setDefault(&c.Transcoder.FFmpegPath, "ffmpeg")
	setDefault(&c.Transcoder.Timeout, 10*time.Minute)
	setDefault(&c.Transcoder.AudioCodec, "libmp3lame")
	setDefault(&c.Transcoder.Bitrate, "192k")

	setDefault(&c.Upload.MaxBytes, int64(2<<30))
	setDefault(&c.Upload.AllowedContentPrefix, "video/")

	setDefault(&c.Worker.Concurrency, 4)
	setDefault(&c.Worker.MaxAttempts, 3)
	setDefault(&c.Worker.RetryBaseDelay, 5*time.Second)
	setDefault(&c.Worker.RetryMaxDelay, 5*time.Minute)
	setDefault(&c.Worker.JobTimeout, 15*time.Minute)
	setDefault(&c.Worker.LeaseDuration, 2*time.Minute)
	setDefault(&c.Worker.HeartbeatInterval, c.Worker.LeaseDuration/3)
	setDefault(&c.Worker.TempDir, os.TempDir())
	setDefault(&c.Worker.ChunkSize, 32*1024)
	setDefault(&c.Worker.ShutdownTimeout, 30*time.Second)
	setDefault(&c.RabbitMQ.Consumer.PrefetchCount, c.Worker.Concurrency)

	setDefault(&c.Monitor.Interval, time.Minute)
	setDefault(&c.Monitor.StaleAfter, 10*time.Minute)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks the sections both services depend on
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	switch c.Queue.Driver {
	case queue.DriverRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	case queue.DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required")
		}
	default:
		return fmt.Errorf("unknown queue driver: %q (must be %s or %s)", c.Queue.Driver, queue.DriverRabbitMQ, queue.DriverRedis)
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
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

// ValidateAPIConfig checks everything the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks everything the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max_attempts must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval >= c.Worker.LeaseDuration {
		return fmt.Errorf("worker heartbeat_interval (%s) must be shorter than lease_duration (%s)",
			c.Worker.HeartbeatInterval, c.Worker.LeaseDuration)
	}

	if c.Worker.RetryMaxDelay < c.Worker.RetryBaseDelay {
		return fmt.Errorf("worker retry_max_delay must not be shorter than retry_base_delay")
	}

	if c.Transcoder.Timeout <= 0 {
		return fmt.Errorf("transcoder timeout must be greater than 0")
	}

	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be greater than 0")
	}

	return nil
}

// PostgreSQL returns the database client configuration
func (c *Config) PostgreSQL() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// QueueDriver returns the queue factory configuration for the selected driver
func (c *Config) QueueDriver(consumerTag string) *queue.Config {
	cfg := &queue.Config{
		Driver:      c.Queue.Driver,
		ConsumerTag: c.Queue.ConsumerTag,
		RedisQueue:  c.Queue.RedisQueue,
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = consumerTag
	}

	switch c.Queue.Driver {
	case queue.DriverRedis:
		cfg.Redis = &redis.Config{
			Addr:         c.Redis.Addr,
			Username:     c.Redis.Username,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			PoolSize:     c.Redis.PoolSize,
			DialTimeout:  c.Redis.DialTimeout,
			ReadTimeout:  c.Redis.ReadTimeout,
			WriteTimeout: c.Redis.WriteTimeout,
		}
	default:
		cfg.RabbitMQ = &rabbitmq.Config{
			Host:               c.RabbitMQ.Host,
			Port:               c.RabbitMQ.Port,
			User:               c.RabbitMQ.User,
			Password:           c.RabbitMQ.Password,
			VHost:              c.RabbitMQ.VHost,
			ExchangeName:       c.RabbitMQ.Exchange.Name,
			ExchangeType:       c.RabbitMQ.Exchange.Type,
			ExchangeDurable:    c.RabbitMQ.Exchange.Durable,
			ExchangeAutoDelete: c.RabbitMQ.Exchange.AutoDelete,
			QueueName:          c.RabbitMQ.Queue.Name,
			QueueDurable:       c.RabbitMQ.Queue.Durable,
			QueueAutoDelete:    c.RabbitMQ.Queue.AutoDelete,
			QueueExclusive:     c.RabbitMQ.Queue.Exclusive,
			RoutingKey:         c.RabbitMQ.RoutingKey,
			RetryAttempts:      c.RabbitMQ.Connection.RetryAttempts,
			RetryInterval:      c.RabbitMQ.Connection.RetryInterval,
			Heartbeat:          c.RabbitMQ.Connection.Heartbeat,
			ConnectionTimeout:  c.RabbitMQ.Connection.ConnectionTimeout,
			PublishRetries:     c.RabbitMQ.Publish.RetryAttempts,
			PublishRetryDelay:  c.RabbitMQ.Publish.RetryInterval,
			PublishBackoffMult: c.RabbitMQ.Publish.BackoffMultiplier,
			PrefetchCount:      c.RabbitMQ.Consumer.PrefetchCount,
		}
	}
	return cfg
}

// ObjectStore returns the MinIO client configuration
func (c *Config) ObjectStore() *objectstore.MinioConfig {
	return &objectstore.MinioConfig{
		Endpoint:  c.Storage.Endpoint,
		AccessKey: c.Storage.AccessKey,
		SecretKey: c.Storage.SecretKey,
		Bucket:    c.Storage.Bucket,
		UseSSL:    c.Storage.UseSSL,
		Region:    c.Storage.Region,
		Breaker: objectstore.BreakerConfig{
			MaxRequests:         c.Storage.Breaker.MaxRequests,
			Interval:            c.Storage.Breaker.Interval,
			Timeout:             c.Storage.Breaker.Timeout,
			ConsecutiveFailures: c.Storage.Breaker.ConsecutiveFailures,
		},
	}
}
