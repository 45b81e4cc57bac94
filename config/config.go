package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration.
// These paths can be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (INTELIFY_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file (INTELIFY_SQLITE_PATH, default: ${DataDir}/intelify.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// SchedulerConfig controls the periodic jobs
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	// Cron specs accept six fields (with seconds) or descriptors like @hourly
	TickSchedule        string        `mapstructure:"tick_schedule"`
	CorrelationSchedule string        `mapstructure:"correlation_schedule"`
	NewsSchedule        string        `mapstructure:"news_schedule"`
	RetentionSchedule   string        `mapstructure:"retention_schedule"`
	MaxConcurrentUnits  int           `mapstructure:"max_concurrent_units"`
	UnitTimeout         time.Duration `mapstructure:"unit_timeout"`
	PassTimeout         time.Duration `mapstructure:"pass_timeout"`
}

// HTTPConfig controls outbound feed requests
type HTTPConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
}

// BreakerConfig configures a circuit breaker
type BreakerConfig struct {
	MaxFailures     uint32        `mapstructure:"max_failures"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxHalfOpenReqs uint32        `mapstructure:"max_half_open_requests"`
}

// EnrichmentConfig controls geo/network lookups
type EnrichmentConfig struct {
	GeoIPCityDB string        `mapstructure:"geoip_city_db"`
	GeoIPASNDB  string        `mapstructure:"geoip_asn_db"`
	DNSTimeout  time.Duration `mapstructure:"dns_timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

// CorrelationConfig controls the news linker and related lookups
type CorrelationConfig struct {
	NewsWindowDays int `mapstructure:"news_window_days"`
	RelatedLimit   int `mapstructure:"related_limit"`
}

// RetentionConfig controls the sweep horizons in days
type RetentionConfig struct {
	IOCDays  int `mapstructure:"ioc_days"`
	NewsDays int `mapstructure:"news_days"`
}

// VaultConfig configures the HashiCorp Vault secret provider
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

// AWSConfig configures the AWS Secrets Manager provider
type AWSConfig struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	SecretID  string `mapstructure:"secret_id"`
}

// CredentialsConfig selects where source credentials and the master key come from
type CredentialsConfig struct {
	// Provider is one of env, vault, aws
	Provider      string      `mapstructure:"provider"`
	MasterKeyName string      `mapstructure:"master_key_name"`
	Vault         VaultConfig `mapstructure:"vault"`
	AWS           AWSConfig   `mapstructure:"aws"`
}

// RedisConfig configures the shared enrichment cache and scheduler leases
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	LeasePrefix string        `mapstructure:"lease_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// ClickHouseConfig configures the optional sighting sink
type ClickHouseConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Table       string `mapstructure:"table"`
	TLS         bool   `mapstructure:"tls"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

// KafkaConfig configures the optional IOC event publisher
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// APIConfig configures the status HTTP server
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// NewsSourceConfig declares an RSS/Atom news feed
type NewsSourceConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Category string `mapstructure:"category"`
	Enabled  bool   `mapstructure:"enabled"`
}

// Config holds all configuration for the Intelify service
type Config struct {
	DataPaths   DataPaths          `mapstructure:"data_paths"`
	LogLevel    string             `mapstructure:"log_level"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	HTTP        HTTPConfig         `mapstructure:"http"`
	Enrichment  EnrichmentConfig   `mapstructure:"enrichment"`
	Correlation CorrelationConfig  `mapstructure:"correlation"`
	Retention   RetentionConfig    `mapstructure:"retention"`
	Credentials CredentialsConfig  `mapstructure:"credentials"`
	Redis       RedisConfig        `mapstructure:"redis"`
	ClickHouse  ClickHouseConfig   `mapstructure:"clickhouse"`
	Kafka       KafkaConfig        `mapstructure:"kafka"`
	API         APIConfig          `mapstructure:"api"`
	SourcesFile string             `mapstructure:"sources_file"`
	NewsSources []NewsSourceConfig `mapstructure:"news_sources"`
}

// DefaultNewsSources are the security news feeds seeded when none are configured
func DefaultNewsSources() []NewsSourceConfig {
	return []NewsSourceConfig{
		{Name: "krebs", URL: "https://krebsonsecurity.com/feed/", Category: "news", Enabled: true},
		{Name: "thehackernews", URL: "https://feeds.feedburner.com/TheHackersNews", Category: "news", Enabled: true},
		{Name: "bleepingcomputer", URL: "https://www.bleepingcomputer.com/feed/", Category: "news", Enabled: true},
		{Name: "cisa", URL: "https://www.cisa.gov/cybersecurity-advisories/all.xml", Category: "advisory", Enabled: true},
	}
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir
	v.SetDefault("log_level", "info")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.tick_schedule", "@every 1m")
	v.SetDefault("scheduler.correlation_schedule", "@hourly")
	v.SetDefault("scheduler.news_schedule", "@every 30m")
	v.SetDefault("scheduler.retention_schedule", "@daily")
	v.SetDefault("scheduler.max_concurrent_units", 3)
	v.SetDefault("scheduler.unit_timeout", 300*time.Second)
	v.SetDefault("scheduler.pass_timeout", 10*time.Minute)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "Intelify-ThreatIntel/1.0")
	v.SetDefault("http.max_response_bytes", 50*1024*1024)
	v.SetDefault("http.rate_per_second", 2.0)
	v.SetDefault("http.burst", 4)

	v.SetDefault("enrichment.geoip_city_db", "")
	v.SetDefault("enrichment.geoip_asn_db", "")
	v.SetDefault("enrichment.dns_timeout", 3*time.Second)
	v.SetDefault("enrichment.cache_size", 10000)
	v.SetDefault("enrichment.cache_ttl", 6*time.Hour)
	v.SetDefault("enrichment.breaker.max_failures", 5)
	v.SetDefault("enrichment.breaker.timeout", 60*time.Second)
	v.SetDefault("enrichment.breaker.max_half_open_requests", 1)

	v.SetDefault("correlation.news_window_days", 7)
	v.SetDefault("correlation.related_limit", 10)

	v.SetDefault("retention.ioc_days", 90)
	v.SetDefault("retention.news_days", 30)

	v.SetDefault("credentials.provider", "env")
	v.SetDefault("credentials.master_key_name", "master_key")
	v.SetDefault("credentials.vault.path", "secret/intelify")
	v.SetDefault("credentials.aws.secret_id", "intelify/secrets")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.lease_prefix", "intelify:lease:")
	v.SetDefault("redis.cache_ttl", 6*time.Hour)

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "intelify")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.table", "ioc_sightings")
	v.SetDefault("clickhouse.max_pool_size", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "intelify.iocs")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", "127.0.0.1:8090")

	v.SetDefault("sources_file", "sources.yaml")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("INTELIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the path settings
	_ = v.BindEnv("data_paths.data_dir", "INTELIFY_DATA_DIR")
	_ = v.BindEnv("data_paths.sqlite_path", "INTELIFY_SQLITE_PATH")
}

// LoadConfig loads configuration from config.yaml and environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v, true)
}

// LoadConfigFile loads configuration from an explicit file path
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v, false)
}

func load(v *viper.Viper, optionalFile bool) (*Config, error) {
	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config.yaml is fine; defaults and env vars apply
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || !optionalFile {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if len(config.NewsSources) == 0 {
		config.NewsSources = DefaultNewsSources()
	}
	config.ResolveDataPaths()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ResolveDataPaths derives the SQLite path from DataDir when not explicitly set
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "intelify.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	c.DataPaths.DataDir = dataDir
}

// Location returns the scheduler timezone, falling back to UTC
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if config.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(config.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid scheduler timezone %q: %w", config.Scheduler.Timezone, err)
		}
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedules := map[string]string{
		"scheduler.tick_schedule":        config.Scheduler.TickSchedule,
		"scheduler.correlation_schedule": config.Scheduler.CorrelationSchedule,
		"scheduler.news_schedule":        config.Scheduler.NewsSchedule,
		"scheduler.retention_schedule":   config.Scheduler.RetentionSchedule,
	}
	for key, spec := range schedules {
		if spec == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}

	if config.Scheduler.MaxConcurrentUnits < 1 {
		return fmt.Errorf("scheduler.max_concurrent_units must be at least 1")
	}
	if config.Scheduler.UnitTimeout <= 0 {
		return fmt.Errorf("scheduler.unit_timeout must be positive")
	}

	if config.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if config.HTTP.MaxResponseBytes <= 0 {
		return fmt.Errorf("http.max_response_bytes must be positive")
	}
	if config.HTTP.RatePerSecond <= 0 || config.HTTP.Burst < 1 {
		return fmt.Errorf("http.rate_per_second and http.burst must be positive")
	}

	if config.Enrichment.CacheSize < 0 {
		return fmt.Errorf("enrichment.cache_size cannot be negative")
	}

	if config.Correlation.NewsWindowDays < 1 {
		return fmt.Errorf("correlation.news_window_days must be at least 1")
	}
	if config.Correlation.RelatedLimit < 1 {
		return fmt.Errorf("correlation.related_limit must be at least 1")
	}
	if config.Retention.IOCDays < 1 || config.Retention.NewsDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}

	switch config.Credentials.Provider {
	case "", "env":
	case "vault":
		if config.Credentials.Vault.Address == "" {
			return fmt.Errorf("credentials.vault.address is required for the vault provider")
		}
	case "aws":
		if config.Credentials.AWS.Region == "" {
			return fmt.Errorf("credentials.aws.region is required for the aws provider")
		}
	default:
		return fmt.Errorf("unsupported credentials provider: %s", config.Credentials.Provider)
	}

	if config.ClickHouse.Enabled {
		if config.ClickHouse.Addr == "" {
			return fmt.Errorf("clickhouse.addr is required when clickhouse is enabled")
		}
		if config.ClickHouse.Table == "" {
			return fmt.Errorf("clickhouse.table cannot be empty")
		}
	}

	if config.Kafka.Enabled {
		if len(config.Kafka.Brokers) == 0 || config.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
		}
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	for _, ns := range config.NewsSources {
		if ns.Name == "" {
			return fmt.Errorf("news source name cannot be empty")
		}
		parsed, err := url.Parse(ns.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("invalid URL for news source %s: %q", ns.Name, ns.URL)
		}
	}

	return nil
}
