package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DB_PASSWORD", "s3cret")

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "s3cret", cfg.Database.Password)
			assert.Equal(t, "conversions_db", cfg.Database.Database)
			assert.Equal(t, "conversions_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "conversion_jobs", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "conversions", cfg.Storage.Bucket)
			assert.Equal(t, "video2audio-api", cfg.App.Name)
			assert.Equal(t, 2, cfg.Worker.Concurrency)
			assert.Equal(t, 90*time.Second, cfg.Worker.LeaseDuration)
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Worker.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 32*1024, cfg.Worker.ChunkSize)
	assert.Equal(t, 2, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, "libmp3lame", cfg.Transcoder.AudioCodec)
	assert.Equal(t, 10*time.Minute, cfg.Transcoder.Timeout)
	assert.Equal(t, "video/", cfg.Upload.AllowedContentPrefix)
	assert.Equal(t, uint32(5), cfg.Storage.Breaker.ConsecutiveFailures)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.StaleAfter)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_RedisDriver(t *testing.T) {
	cfg, err := Load("testdata/redis_queue.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	qc := cfg.QueueDriver("worker-1")
	assert.Equal(t, queue.DriverRedis, qc.Driver)
	assert.Equal(t, "conversions", qc.RedisQueue)
	assert.Equal(t, "worker-1", qc.ConsumerTag)
	require.NotNil(t, qc.Redis)
	assert.Nil(t, qc.RabbitMQ)
	assert.Equal(t, "localhost:6379", qc.Redis.Addr)
	assert.Equal(t, 2, qc.Redis.DB)
}

// validConfig returns a config that passes every validation
func validConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Database: "conversions_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Exchange: ExchangeConfig{Name: "conversions_exchange"},
			Queue:    AMQPQueueConfig{Name: "conversion_jobs"},
		},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			Bucket:   "conversions",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 70000 },
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "unknown queue driver",
			mutate:    func(c *Config) { c.Queue.Driver = "kafka" },
			errString: "unknown queue driver",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "redis driver without addr",
			mutate:    func(c *Config) { c.Queue.Driver = queue.DriverRedis },
			errString: "redis addr is required",
		},
		{
			name:      "empty storage endpoint",
			mutate:    func(c *Config) { c.Storage.Endpoint = "" },
			errString: "storage endpoint is required",
		},
		{
			name:      "empty storage bucket",
			mutate:    func(c *Config) { c.Storage.Bucket = "" },
			errString: "storage bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.ValidateAPIConfig())

	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.ValidateAPIConfig(), "invalid server port")

	cfg = validConfig()
	cfg.Upload.MaxBytes = -1
	assert.ErrorContains(t, cfg.ValidateAPIConfig(), "upload max_bytes")
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency",
		},
		{
			name:      "zero max attempts",
			mutate:    func(c *Config) { c.Worker.MaxAttempts = 0 },
			errString: "worker max_attempts",
		},
		{
			name:      "heartbeat not shorter than lease",
			mutate:    func(c *Config) { c.Worker.HeartbeatInterval = c.Worker.LeaseDuration },
			errString: "heartbeat_interval",
		},
		{
			name:      "retry ceiling below base",
			mutate:    func(c *Config) { c.Worker.RetryMaxDelay = time.Second },
			errString: "retry_max_delay",
		},
		{
			name:      "shared section still checked",
			mutate:    func(c *Config) { c.Storage.Bucket = "" },
			errString: "storage bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestClientConfigs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.User = "postgres"
	cfg.Storage.UseSSL = true

	pg := cfg.PostgreSQL()
	assert.Equal(t, "localhost", pg.Host)
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)

	qc := cfg.QueueDriver("api")
	require.NotNil(t, qc.RabbitMQ)
	assert.Equal(t, "conversion_jobs", qc.RabbitMQ.QueueName)
	assert.Equal(t, "conversion_jobs.retry", qc.RabbitMQ.RetryQueueName())
	assert.Equal(t, cfg.Worker.Concurrency, qc.RabbitMQ.PrefetchCount)

	store := cfg.ObjectStore()
	assert.Equal(t, "conversions", store.Bucket)
	assert.True(t, store.UseSSL)
	assert.Equal(t, uint32(5), store.Breaker.ConsecutiveFailures)
}
