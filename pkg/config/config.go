// Package config provides configuration management for dexhelper.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DEXHELPER_ENGINE_RESULT_CACHE.
const EnvPrefix = "dexhelper"

// Config holds all configuration for the application.
type Config struct {
	Loader   LoaderConfig   `mapstructure:"loader"`
	Index    IndexConfig    `mapstructure:"index"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Hunt     HuntConfig     `mapstructure:"hunt"`
	Log      LogConfig      `mapstructure:"log"`
}

// LoaderConfig controls how dex containers are read.
type LoaderConfig struct {
	SkipChecksum      bool   `mapstructure:"skip_checksum"`
	MaxContainerBytes int64  `mapstructure:"max_container_bytes"`
	TempDir           string `mapstructure:"temp_dir"`
}

// IndexConfig controls index construction.
type IndexConfig struct {
	Eager      bool `mapstructure:"eager"` // build the full cache at load
	MaxWorkers int  `mapstructure:"max_workers"`
}

// EngineConfig controls query evaluation.
type EngineConfig struct {
	ResultCache int    `mapstructure:"result_cache"` // 0 disables
	ShortyMode  string `mapstructure:"shorty_mode"`  // exact or prefix
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // local, cos or s3
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage

	// S3-compatible endpoint (minio, ceph, aws).
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Path     string `mapstructure:"path"` // sqlite file, ":memory:" allowed
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ServerConfig holds the HTTP query API settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HuntConfig controls fingerprint hunts.
type HuntConfig struct {
	Workers   int    `mapstructure:"workers"`
	OutputDir string `mapstructure:"output_dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty logs to stderr
}

// Load reads configuration from the specified file path. A .env file in the
// working directory is applied to the environment first.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dexhelper")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromReader loads configuration from an in-memory document (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return unmarshal(v)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("loader.skip_checksum", false)
	v.SetDefault("loader.max_container_bytes", 512<<20)
	v.SetDefault("loader.temp_dir", "")

	v.SetDefault("index.eager", false)
	v.SetDefault("index.max_workers", 0)

	v.SetDefault("engine.result_cache", 256)
	v.SetDefault("engine.shorty_mode", "exact")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secret_id", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.domain", "myqcloud.com")
	v.SetDefault("storage.scheme", "https")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./dexhelper.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "dexhelper")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("hunt.workers", 4)
	v.SetDefault("hunt.output_dir", "./hunts")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Loader.MaxContainerBytes < 0 {
		return fmt.Errorf("loader max_container_bytes must not be negative")
	}
	if c.Index.MaxWorkers < 0 {
		return fmt.Errorf("index max_workers must not be negative")
	}
	if c.Engine.ResultCache < 0 {
		return fmt.Errorf("engine result_cache must not be negative")
	}
	switch strings.ToLower(c.Engine.ShortyMode) {
	case "", "exact", "prefix":
	default:
		return fmt.Errorf("unsupported shorty mode: %s", c.Engine.ShortyMode)
	}

	switch c.Storage.Type {
	case "local", "cos", "s3":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres", "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Hunt.Workers < 1 {
		return fmt.Errorf("hunt workers must be at least 1")
	}
	return nil
}
