package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"drainvoice/internal/logger"
)

// Config represents the complete service configuration
type Config struct {
	Server ServerConfig `toml:"server"`
	Local  LocalConfig  `toml:"local"`
	Remote RemoteConfig `toml:"remote"`
	Cache  CacheConfig  `toml:"cache"`
	Sync   SyncConfig   `toml:"sync"`
	Backup BackupConfig `toml:"backup"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	Port int `toml:"port"`
}

// LocalConfig locates the SQLite file backing the offline store.
type LocalConfig struct {
	Path string `toml:"path"`
}

// RemoteConfig contains the hosted document database settings
type RemoteConfig struct {
	DatabaseURL string        `toml:"database_url"`
	PageSize    int           `toml:"page_size"`
	CallTimeout time.Duration `toml:"call_timeout"`
}

// CacheConfig contains Redis settings for the remote read cache
type CacheConfig struct {
	Enabled       bool          `toml:"enabled"`
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	TTL           time.Duration `toml:"ttl"`
}

// SyncConfig controls the queue drain schedule and per-entry backoff
type SyncConfig struct {
	Interval    time.Duration `toml:"interval"`
	BackoffBase time.Duration `toml:"backoff_base"`
	BackoffMax  time.Duration `toml:"backoff_max"`
	StartOnline bool          `toml:"start_online"`
}

// BackupConfig contains MinIO settings for offsite snapshots of the local store
type BackupConfig struct {
	Enabled   bool          `toml:"enabled"`
	Endpoint  string        `toml:"endpoint"`
	AccessKey string        `toml:"access_key"`
	SecretKey string        `toml:"secret_key"`
	UseSSL    bool          `toml:"use_ssl"`
	Bucket    string        `toml:"bucket"`
	Interval  time.Duration `toml:"interval"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	TimeFormat string `toml:"time_format"`
	Output     string `toml:"output"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Local:  LocalConfig{Path: "data/invoices.db"},
		Remote: RemoteConfig{
			PageSize:    5,
			CallTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			RedisAddr: "localhost:6379",
			TTL:       5 * time.Minute,
		},
		Sync: SyncConfig{
			Interval:    time.Minute,
			BackoffBase: 5 * time.Second,
			BackoffMax:  5 * time.Minute,
			StartOnline: true,
		},
		Backup: BackupConfig{
			Endpoint: "localhost:9000",
			Bucket:   "invoice-backups",
			Interval: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			TimeFormat: time.RFC3339,
			Output:     "stdout",
		},
	}
}

// Load reads the optional TOML file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Server.Port, err = getEnvInt("PORT", c.Server.Port)
	if err != nil {
		return err
	}
	c.Local.Path = getEnv("LOCAL_DB_PATH", c.Local.Path)

	c.Remote.DatabaseURL = getEnv("DATABASE_URL", c.Remote.DatabaseURL)
	if c.Remote.PageSize, err = getEnvInt("REMOTE_PAGE_SIZE", c.Remote.PageSize); err != nil {
		return err
	}
	if c.Remote.CallTimeout, err = getEnvDuration("REMOTE_CALL_TIMEOUT", c.Remote.CallTimeout); err != nil {
		return err
	}

	c.Cache.Enabled = getEnvBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	if c.Cache.RedisDB, err = getEnvInt("REDIS_DB", c.Cache.RedisDB); err != nil {
		return err
	}
	if c.Cache.TTL, err = getEnvDuration("CACHE_TTL", c.Cache.TTL); err != nil {
		return err
	}

	if c.Sync.Interval, err = getEnvDuration("SYNC_INTERVAL", c.Sync.Interval); err != nil {
		return err
	}
	if c.Sync.BackoffBase, err = getEnvDuration("SYNC_BACKOFF_BASE", c.Sync.BackoffBase); err != nil {
		return err
	}
	if c.Sync.BackoffMax, err = getEnvDuration("SYNC_BACKOFF_MAX", c.Sync.BackoffMax); err != nil {
		return err
	}
	c.Sync.StartOnline = getEnvBool("SYNC_START_ONLINE", c.Sync.StartOnline)

	c.Backup.Enabled = getEnvBool("BACKUP_ENABLED", c.Backup.Enabled)
	c.Backup.Endpoint = getEnv("MINIO_ENDPOINT", c.Backup.Endpoint)
	c.Backup.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Backup.AccessKey)
	c.Backup.SecretKey = getEnv("MINIO_SECRET_KEY", c.Backup.SecretKey)
	c.Backup.UseSSL = getEnvBool("MINIO_USE_SSL", c.Backup.UseSSL)
	c.Backup.Bucket = getEnv("BACKUP_BUCKET", c.Backup.Bucket)
	if c.Backup.Interval, err = getEnvDuration("BACKUP_INTERVAL", c.Backup.Interval); err != nil {
		return err
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.TimeFormat = getEnv("LOG_TIME_FORMAT", c.Log.TimeFormat)
	c.Log.Output = getEnv("LOG_OUTPUT", c.Log.Output)

	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Local.Path == "" {
		return fmt.Errorf("local.path is required")
	}
	if c.Remote.PageSize <= 0 {
		return fmt.Errorf("remote.page_size must be positive")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.BackoffBase <= 0 || c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_max must be at least sync.backoff_base")
	}
	if c.Backup.Enabled && (c.Backup.Endpoint == "" || c.Backup.Bucket == "") {
		return fmt.Errorf("backup.endpoint and backup.bucket are required when backups are enabled")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		TimeFormat: c.Log.TimeFormat,
		Output:     c.Log.Output,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
