package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds the optional Redis settings used for run locking and
// status caching. Disabled (empty address) falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis backend is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SegmentationConfig holds the RFM pipeline parameters
type SegmentationConfig struct {
	Clusters            int      `yaml:"clusters"`
	Labels              []string `yaml:"labels"`
	Seed                int64    `yaml:"seed"`
	Restarts            int      `yaml:"restarts"`
	MaxIterations       int      `yaml:"max_iterations"`
	NewRecordThreshold  int      `yaml:"new_record_threshold"`
	RunTimeoutSeconds   int      `yaml:"run_timeout_seconds"`
	StatusCacheTTLSecs  int      `yaml:"status_cache_ttl_seconds"`
	LockTTLSeconds      int      `yaml:"lock_ttl_seconds"`
}

// RunTimeout returns the overall run deadline as a duration
func (c SegmentationConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// StatusCacheTTL returns the status cache TTL as a duration
func (c SegmentationConfig) StatusCacheTTL() time.Duration {
	return time.Duration(c.StatusCacheTTLSecs) * time.Second
}

// LockTTL returns the run lock TTL as a duration
func (c SegmentationConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level           string `yaml:"level"`
	MaskCustomerIDs *bool  `yaml:"mask_customer_ids"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 5
	}
	if cfg.Segmentation.Clusters == 0 {
		cfg.Segmentation.Clusters = 4
	}
	if len(cfg.Segmentation.Labels) == 0 {
		cfg.Segmentation.Labels = []string{"VIP", "Loyal", "Occasional", "Dormant"}
	}
	if cfg.Segmentation.Seed == 0 {
		cfg.Segmentation.Seed = 42
	}
	if cfg.Segmentation.Restarts == 0 {
		cfg.Segmentation.Restarts = 10
	}
	if cfg.Segmentation.MaxIterations == 0 {
		cfg.Segmentation.MaxIterations = 100
	}
	if cfg.Segmentation.NewRecordThreshold == 0 {
		cfg.Segmentation.NewRecordThreshold = 50
	}
	if cfg.Segmentation.RunTimeoutSeconds == 0 {
		cfg.Segmentation.RunTimeoutSeconds = 600
	}
	if cfg.Segmentation.StatusCacheTTLSecs == 0 {
		cfg.Segmentation.StatusCacheTTLSecs = 30
	}
	if cfg.Segmentation.LockTTLSeconds == 0 {
		cfg.Segmentation.LockTTLSeconds = cfg.Segmentation.RunTimeoutSeconds + 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
}

// Validate checks invariants that must hold before the pipeline starts.
// The ordered label list must match the cluster count exactly: the
// centroid-rank label mapping is undefined otherwise.
func (cfg *Config) Validate() error {
	if cfg.Segmentation.Clusters < 1 {
		return fmt.Errorf("segmentation.clusters must be >= 1, got %d", cfg.Segmentation.Clusters)
	}
	if len(cfg.Segmentation.Labels) != cfg.Segmentation.Clusters {
		return fmt.Errorf("segmentation.labels length %d does not match clusters %d",
			len(cfg.Segmentation.Labels), cfg.Segmentation.Clusters)
	}
	seen := make(map[string]bool, len(cfg.Segmentation.Labels))
	for _, l := range cfg.Segmentation.Labels {
		if l == "" {
			return fmt.Errorf("segmentation.labels must not contain empty labels")
		}
		if seen[l] {
			return fmt.Errorf("segmentation.labels contains duplicate label %q", l)
		}
		seen[l] = true
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if v := os.Getenv("NUM_CLUSTERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Segmentation.Clusters = n
		}
	}
	if v := os.Getenv("NEW_RECORD_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Segmentation.NewRecordThreshold = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// NUM_CLUSTERS can desync labels from k; re-check after overrides
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
