package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Network settings
	Network    string `mapstructure:"network" yaml:"network"`
	RPCUrl     string `mapstructure:"rpc_url" yaml:"rpc_url"`
	WSUrl      string `mapstructure:"ws_url" yaml:"ws_url"`
	RPCAPIKey  string `mapstructure:"rpc_api_key" yaml:"rpc_api_key"`
	Commitment string `mapstructure:"commitment" yaml:"commitment"`

	// Discovery settings
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`

	// Storage settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Health monitor settings
	Health HealthConfig `mapstructure:"health" yaml:"health"`

	// Logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DiscoveryConfig contains token discovery settings
type DiscoveryConfig struct {
	MaxRequestsPerSecond int     `mapstructure:"max_requests_per_second" yaml:"max_requests_per_second"`
	ThrottleCooldownSec  int     `mapstructure:"throttle_cooldown_sec" yaml:"throttle_cooldown_sec"`
	MaxDecimals          uint8   `mapstructure:"max_decimals" yaml:"max_decimals"`
	MinTotalSupply       uint64  `mapstructure:"min_total_supply" yaml:"min_total_supply"`
	PermissiveDefault    bool    `mapstructure:"permissive_default" yaml:"permissive_default"`
	PollingEnabled       bool    `mapstructure:"polling_enabled" yaml:"polling_enabled"`
	PollingIntervalSec   int     `mapstructure:"polling_interval_sec" yaml:"polling_interval_sec"`
	BatchSize            int     `mapstructure:"batch_size" yaml:"batch_size"`
	BackfillLookbackMin  int     `mapstructure:"backfill_lookback_min" yaml:"backfill_lookback_min"`
	ReconnectDelaySec    int     `mapstructure:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
	ConnectMaxAttempts   int     `mapstructure:"connect_max_attempts" yaml:"connect_max_attempts"`
	ConnectRetryDelaySec int     `mapstructure:"connect_retry_delay_sec" yaml:"connect_retry_delay_sec"`
	DrainIntervalMs      int     `mapstructure:"drain_interval_ms" yaml:"drain_interval_ms"`
	EnrichmentDelaySec   int     `mapstructure:"enrichment_delay_sec" yaml:"enrichment_delay_sec"`
	InitialPriceSOL      float64 `mapstructure:"initial_price_sol" yaml:"initial_price_sol"`
}

// StorageConfig contains persistent store and cache settings
type StorageConfig struct {
	MongoURI        string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database" yaml:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
	RedisAddr       string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// HealthConfig contains health monitor thresholds
type HealthConfig struct {
	CheckIntervalSec   int     `mapstructure:"check_interval_sec" yaml:"check_interval_sec"`
	MetricsIntervalSec int     `mapstructure:"metrics_interval_sec" yaml:"metrics_interval_sec"`
	MaxResponseTimeMs  int64   `mapstructure:"max_response_time_ms" yaml:"max_response_time_ms"`
	MaxHeapMB          uint64  `mapstructure:"max_heap_mb" yaml:"max_heap_mb"`
	MaxErrorRate       float64 `mapstructure:"max_error_rate" yaml:"max_error_rate"`
	DownstreamURL      string  `mapstructure:"downstream_url" yaml:"downstream_url"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	LogToFile   bool   `mapstructure:"log_to_file" yaml:"log_to_file"`
	LogFilePath string `mapstructure:"log_file_path" yaml:"log_file_path"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string, envPath string) (*Config, error) {
	config := &Config{}

	if err := loadEnvFile(envPath); err != nil {
		fmt.Printf("Warning: Failed to load .env file: %v\n", err)
	}

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("radar")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/memecoin-radar/")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RADAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, continue with defaults and env vars
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadEnvFile loads environment variables from a .env file
func loadEnvFile(envPath string) error {
	candidates := []string{}
	if envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, ".env", "configs/.env")

	for _, file := range candidates {
		if _, err := os.Stat(file); err == nil {
			return godotenv.Load(file)
		}
	}

	if envPath != "" {
		return fmt.Errorf("specified .env file not found: %s", envPath)
	}
	return nil
}

// bindEnvVariables manually binds environment variables that viper might miss
func bindEnvVariables() {
	viper.BindEnv("network", "RADAR_NETWORK")
	viper.BindEnv("rpc_url", "RADAR_RPC_URL")
	viper.BindEnv("ws_url", "RADAR_WS_URL")
	viper.BindEnv("rpc_api_key", "RADAR_RPC_API_KEY")
	viper.BindEnv("commitment", "RADAR_COMMITMENT")

	viper.BindEnv("discovery.max_requests_per_second", "RADAR_DISCOVERY_MAX_REQUESTS_PER_SECOND")
	viper.BindEnv("discovery.max_decimals", "RADAR_DISCOVERY_MAX_DECIMALS")
	viper.BindEnv("discovery.min_total_supply", "RADAR_DISCOVERY_MIN_TOTAL_SUPPLY")
	viper.BindEnv("discovery.polling_enabled", "RADAR_DISCOVERY_POLLING_ENABLED")
	viper.BindEnv("discovery.polling_interval_sec", "RADAR_DISCOVERY_POLLING_INTERVAL_SEC")
	viper.BindEnv("discovery.batch_size", "RADAR_DISCOVERY_BATCH_SIZE")
	viper.BindEnv("discovery.backfill_lookback_min", "RADAR_DISCOVERY_BACKFILL_LOOKBACK_MIN")

	viper.BindEnv("storage.mongo_uri", "RADAR_STORAGE_MONGO_URI")
	viper.BindEnv("storage.mongo_database", "RADAR_STORAGE_MONGO_DATABASE")
	viper.BindEnv("storage.redis_addr", "RADAR_STORAGE_REDIS_ADDR")
	viper.BindEnv("storage.redis_password", "RADAR_STORAGE_REDIS_PASSWORD")

	viper.BindEnv("health.max_response_time_ms", "RADAR_HEALTH_MAX_RESPONSE_TIME_MS")
	viper.BindEnv("health.max_heap_mb", "RADAR_HEALTH_MAX_HEAP_MB")
	viper.BindEnv("health.max_error_rate", "RADAR_HEALTH_MAX_ERROR_RATE")
	viper.BindEnv("health.downstream_url", "RADAR_HEALTH_DOWNSTREAM_URL")

	viper.BindEnv("logging.level", "RADAR_LOGGING_LEVEL")
	viper.BindEnv("logging.format", "RADAR_LOGGING_FORMAT")
	viper.BindEnv("logging.log_to_file", "RADAR_LOGGING_LOG_TO_FILE")
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("network", "mainnet")
	viper.SetDefault("rpc_url", "")
	viper.SetDefault("ws_url", "")
	viper.SetDefault("commitment", "confirmed")

	viper.SetDefault("discovery.max_requests_per_second", DefaultMaxRequestsPerSecond)
	viper.SetDefault("discovery.throttle_cooldown_sec", DefaultThrottleCooldownSec)
	viper.SetDefault("discovery.max_decimals", DefaultMaxDecimals)
	viper.SetDefault("discovery.min_total_supply", DefaultMinTotalSupply)
	viper.SetDefault("discovery.permissive_default", true)
	viper.SetDefault("discovery.polling_enabled", false)
	viper.SetDefault("discovery.polling_interval_sec", 60)
	viper.SetDefault("discovery.batch_size", 25)
	viper.SetDefault("discovery.backfill_lookback_min", 60)
	viper.SetDefault("discovery.reconnect_delay_sec", DefaultReconnectDelaySec)
	viper.SetDefault("discovery.connect_max_attempts", ConnectMaxRetries)
	viper.SetDefault("discovery.connect_retry_delay_sec", ConnectRetryDelayS)
	viper.SetDefault("discovery.drain_interval_ms", DefaultDrainIntervalMs)
	viper.SetDefault("discovery.enrichment_delay_sec", 15)
	viper.SetDefault("discovery.initial_price_sol", 0.0)

	viper.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	viper.SetDefault("storage.mongo_database", "memecoin_radar")
	viper.SetDefault("storage.mongo_collection", "tokens")
	viper.SetDefault("storage.redis_addr", "localhost:6379")
	viper.SetDefault("storage.redis_password", "")
	viper.SetDefault("storage.redis_db", 0)

	viper.SetDefault("health.check_interval_sec", 30)
	viper.SetDefault("health.metrics_interval_sec", 60)
	viper.SetDefault("health.max_response_time_ms", 5000)
	viper.SetDefault("health.max_heap_mb", 512)
	viper.SetDefault("health.max_error_rate", 0.1)
	viper.SetDefault("health.downstream_url", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.log_to_file", false)
	viper.SetDefault("logging.log_file_path", "logs/radar.log")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.RPCUrl == "" {
		config.RPCUrl = GetRPCEndpoint(config.Network)
	}
	if config.WSUrl == "" {
		config.WSUrl = GetWSEndpoint(config.Network)
	}

	switch config.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("commitment must be processed, confirmed or finalized, got %q", config.Commitment)
	}

	if config.Discovery.MaxRequestsPerSecond < 1 {
		return fmt.Errorf("discovery.max_requests_per_second must be at least 1")
	}
	if config.Discovery.MaxDecimals == 0 || config.Discovery.MaxDecimals > 18 {
		return fmt.Errorf("discovery.max_decimals must be between 1 and 18")
	}
	if config.Discovery.BatchSize < 1 {
		return fmt.Errorf("discovery.batch_size must be at least 1")
	}
	if config.Discovery.ReconnectDelaySec < 1 {
		return fmt.Errorf("discovery.reconnect_delay_sec must be at least 1")
	}
	if config.Discovery.ConnectMaxAttempts < 1 {
		return fmt.Errorf("discovery.connect_max_attempts must be at least 1")
	}

	if config.Health.MaxResponseTimeMs <= 0 {
		return fmt.Errorf("health.max_response_time_ms must be positive")
	}
	if config.Health.MaxErrorRate < 0 || config.Health.MaxErrorRate > 1 {
		return fmt.Errorf("health.max_error_rate must be between 0 and 1")
	}

	return nil
}

// Derived durations

func (c *Config) ThrottleCooldown() time.Duration {
	return time.Duration(c.Discovery.ThrottleCooldownSec) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Discovery.ReconnectDelaySec) * time.Second
}

func (c *Config) ConnectRetryDelay() time.Duration {
	return time.Duration(c.Discovery.ConnectRetryDelaySec) * time.Second
}

func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.Discovery.DrainIntervalMs) * time.Millisecond
}

func (c *Config) EnrichmentDelay() time.Duration {
	return time.Duration(c.Discovery.EnrichmentDelaySec) * time.Second
}

func (c *Config) BackfillLookback() time.Duration {
	return time.Duration(c.Discovery.BackfillLookbackMin) * time.Minute
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Discovery.PollingIntervalSec) * time.Second
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Health.CheckIntervalSec) * time.Second
}

func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Health.MetricsIntervalSec) * time.Second
}

func (c *Config) MaxResponseTime() time.Duration {
	return time.Duration(c.Health.MaxResponseTimeMs) * time.Millisecond
}
