package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the risk posture engine
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Collector CollectorConfig `mapstructure:"collector"`
	Intel     IntelConfig     `mapstructure:"intel"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Drift     DriftConfig     `mapstructure:"drift"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// ServiceConfig contains general service configuration
type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	Version         string        `mapstructure:"version"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPConfig contains the gin listener configuration
type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig selects and configures the persistence backend
type DatabaseConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `mapstructure:"driver"`
	// InventoryFile seeds the memory inventory
	InventoryFile string           `mapstructure:"inventory_file"`
	PostgreSQL    PostgreSQLConfig `mapstructure:"postgresql"`
}

// PostgreSQLConfig contains PostgreSQL configuration
type PostgreSQLConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// CacheConfig contains result cache configuration
type CacheConfig struct {
	PostureTTL time.Duration `mapstructure:"posture_ttl"`
	RiskTTL    time.Duration `mapstructure:"risk_ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig contains the optional shared cache tier configuration
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	// Compress enables lz4 compression of msgpack payloads
	Compress bool `mapstructure:"compress"`
}

// MessagingConfig selects the event publisher
type MessagingConfig struct {
	// Driver is "none", "kafka" or "nats"
	Driver string      `mapstructure:"driver"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
	NATS   NATSConfig  `mapstructure:"nats"`
}

// KafkaConfig contains Kafka producer configuration
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	TopicPrefix  string        `mapstructure:"topic_prefix"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// NATSConfig contains NATS publisher configuration
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Name          string `mapstructure:"name"`
}

// CollectorConfig configures the HTTP snapshot collector
type CollectorConfig struct {
	// Source is "http", "file" or "static"
	Source    string               `mapstructure:"source"`
	BaseURL   string               `mapstructure:"base_url"`
	Directory string               `mapstructure:"directory"`
	Timeout   time.Duration        `mapstructure:"timeout"`
	RateLimit float64              `mapstructure:"rate_limit"`
	Burst     int                  `mapstructure:"burst"`
	Breaker   CircuitBreakerConfig `mapstructure:"breaker"`
}

// CircuitBreakerConfig mirrors gobreaker settings
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// IntelConfig configures the threat-intel feed
type IntelConfig struct {
	// FeedURL empty means the static defaults are used
	FeedURL string               `mapstructure:"feed_url"`
	Timeout time.Duration        `mapstructure:"timeout"`
	Breaker CircuitBreakerConfig `mapstructure:"breaker"`
}

// SchedulerConfig configures the periodic assessment tasks
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	DriftInterval      time.Duration `mapstructure:"drift_interval"`
	PostureInterval    time.Duration `mapstructure:"posture_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	BootstrapBaselines bool          `mapstructure:"bootstrap_baselines"`
	BaselineFile       string        `mapstructure:"baseline_file"`
}

// DriftConfig configures drift persistence
type DriftConfig struct {
	// PersistenceMode is "upsert" or "append"
	PersistenceMode string `mapstructure:"persistence_mode"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// DiscoveryConfig contains Consul registration configuration
type DiscoveryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ConsulAddress string        `mapstructure:"consul_address"`
	ServiceID     string        `mapstructure:"service_id"`
	Tags          []string      `mapstructure:"tags"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout"`
}

// LoadConfig loads configuration from file, .env and environment variables.
// An empty path searches the default locations.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/risk-posture-engine")
	}

	v.SetEnvPrefix("RISK_POSTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "risk-posture-engine")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.shutdown_timeout", "30s")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "120s")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.inventory_file", "")
	v.SetDefault("database.postgresql.host", "localhost")
	v.SetDefault("database.postgresql.port", 5432)
	v.SetDefault("database.postgresql.database", "risk_posture")
	v.SetDefault("database.postgresql.username", "postgres")
	v.SetDefault("database.postgresql.ssl_mode", "disable")
	v.SetDefault("database.postgresql.max_open_conns", 25)
	v.SetDefault("database.postgresql.max_idle_conns", 5)
	v.SetDefault("database.postgresql.conn_max_lifetime", "5m")
	v.SetDefault("database.postgresql.conn_max_idle_time", "5m")
	v.SetDefault("database.postgresql.migrate_on_start", true)

	v.SetDefault("cache.posture_ttl", "15m")
	v.SetDefault("cache.risk_ttl", "30m")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.database", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "risk-posture:")
	v.SetDefault("cache.redis.compress", true)

	v.SetDefault("messaging.driver", "none")
	v.SetDefault("messaging.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("messaging.kafka.topic_prefix", "risk-posture.")
	v.SetDefault("messaging.kafka.batch_size", 100)
	v.SetDefault("messaging.kafka.batch_timeout", "1s")
	v.SetDefault("messaging.kafka.required_acks", 1)
	v.SetDefault("messaging.nats.url", "nats://localhost:4222")
	v.SetDefault("messaging.nats.subject_prefix", "risk-posture.")
	v.SetDefault("messaging.nats.name", "risk-posture-engine")

	v.SetDefault("collector.source", "static")
	v.SetDefault("collector.directory", "./snapshots")
	v.SetDefault("collector.timeout", "30s")
	v.SetDefault("collector.rate_limit", 10.0)
	v.SetDefault("collector.burst", 5)
	v.SetDefault("collector.breaker.max_requests", 3)
	v.SetDefault("collector.breaker.interval", "60s")
	v.SetDefault("collector.breaker.timeout", "30s")
	v.SetDefault("collector.breaker.failure_threshold", 5)

	v.SetDefault("intel.timeout", "10s")
	v.SetDefault("intel.breaker.max_requests", 1)
	v.SetDefault("intel.breaker.interval", "60s")
	v.SetDefault("intel.breaker.timeout", "60s")
	v.SetDefault("intel.breaker.failure_threshold", 3)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.drift_interval", "15m")
	v.SetDefault("scheduler.posture_interval", "30m")
	v.SetDefault("scheduler.batch_size", 5)
	v.SetDefault("scheduler.bootstrap_baselines", true)
	v.SetDefault("scheduler.baseline_file", "")

	v.SetDefault("drift.persistence_mode", "upsert")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "risk_posture")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.consul_address", "localhost:8500")
	v.SetDefault("discovery.check_interval", "10s")
	v.SetDefault("discovery.check_timeout", "3s")
}

func overrideWithEnv(v *viper.Viper) {
	if val := os.Getenv("POSTGRES_PASSWORD"); val != "" {
		v.Set("database.postgresql.password", val)
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		v.Set("cache.redis.password", val)
	}
	if val := os.Getenv("SERVICE_PORT"); val != "" {
		v.Set("http.port", val)
	}
}

func validateConfig(config *Config) error {
	if config.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}

	if config.HTTP.Enabled && (config.HTTP.Port <= 0 || config.HTTP.Port > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", config.HTTP.Port)
	}

	switch config.Database.Driver {
	case "memory":
	case "postgres":
		if config.Database.PostgreSQL.Host == "" {
			return fmt.Errorf("PostgreSQL host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", config.Database.Driver)
	}

	switch config.Messaging.Driver {
	case "none":
	case "kafka":
		if len(config.Messaging.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
	case "nats":
		if config.Messaging.NATS.URL == "" {
			return fmt.Errorf("nats url is required")
		}
	default:
		return fmt.Errorf("unsupported messaging driver: %s", config.Messaging.Driver)
	}

	switch config.Collector.Source {
	case "static", "file":
	case "http":
		if config.Collector.BaseURL == "" {
			return fmt.Errorf("collector base_url is required for http source")
		}
	default:
		return fmt.Errorf("unsupported collector source: %s", config.Collector.Source)
	}

	if config.Scheduler.BatchSize < 1 || config.Scheduler.BatchSize > 10 {
		return fmt.Errorf("scheduler batch_size must be between 1 and 10, got %d", config.Scheduler.BatchSize)
	}
	if config.Scheduler.DriftInterval <= 0 || config.Scheduler.PostureInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}

	if config.Cache.PostureTTL <= 0 || config.Cache.RiskTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if config.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be greater than 0")
	}

	switch config.Drift.PersistenceMode {
	case "upsert", "append":
	default:
		return fmt.Errorf("unsupported drift persistence_mode: %s", config.Drift.PersistenceMode)
	}

	return nil
}

// GetDSN returns the PostgreSQL DSN string
func (c *PostgreSQLConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// GetRedisAddr returns the Redis address string
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr returns the HTTP listen address
func (c *HTTPConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
