// Package config loads the immutable run configuration from .env, a YAML
// file and SPRAWL_* environment variables.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths       PathsConfig    `yaml:"paths" mapstructure:"paths"`
	CRS         int            `yaml:"crs" mapstructure:"crs"`
	Pipeline    PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Matching    MatchingConfig `yaml:"matching" mapstructure:"matching"`
	Cache       CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Server      ServerConfig   `yaml:"server" mapstructure:"server"`
	Log         LogConfig      `yaml:"log" mapstructure:"log"`
	RegionsFile string         `yaml:"regions_file" mapstructure:"regions_file"`

	// Regions is filled from RegionsFile, or the built-in catalog.
	Regions Regions `yaml:"-" mapstructure:"-"`
}

// PathsConfig locates inputs and outputs.
type PathsConfig struct {
	DataDir    string `yaml:"data_dir" mapstructure:"data_dir"`
	ReportsDir string `yaml:"reports_dir" mapstructure:"reports_dir"`
	CacheDir   string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// Zone reuse modes.
const (
	ZoneReuseNone     = "none"
	ZoneReuseMaxInput = "max_input"
	ZoneReuseMaxZone  = "max_zone"
)

// PipelineConfig configures the four stages.
type PipelineConfig struct {
	Years             []int   `yaml:"years" mapstructure:"years"`
	Radii             []int   `yaml:"radii" mapstructure:"radii"`
	DefaultRadius     int     `yaml:"default_radius" mapstructure:"default_radius"`
	DistanceThreshold float64 `yaml:"distance_threshold" mapstructure:"distance_threshold"`
	MinArea           float64 `yaml:"min_area" mapstructure:"min_area"`
	BufferSegments    int     `yaml:"buffer_segments" mapstructure:"buffer_segments"`
	ZoneReuse         string  `yaml:"zone_reuse" mapstructure:"zone_reuse"`
	ModernYears       []int   `yaml:"modern_years" mapstructure:"modern_years"`
}

// MaxRadius returns the largest configured radius, or DefaultRadius.
func (p PipelineConfig) MaxRadius() int {
	m := p.DefaultRadius
	for _, r := range p.Radii {
		if r > m {
			m = r
		}
	}
	return m
}

// MatchingConfig tunes the building matcher.
type MatchingConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// Cache backends.
const (
	BackendFS       = "fs"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// CacheConfig selects and configures the artifact backend.
type CacheConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"`
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	MemoTTLSecs   int    `yaml:"memo_ttl_secs" mapstructure:"memo_ttl_secs"`

	// Remote backends (postgres, redis) retry transient failures and stop
	// calling a backend after BreakerThreshold consecutive ones.
	RetryAttempts    int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs   int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the values the stages rely on.
func (c *Config) Validate() error {
	if c.CRS <= 0 {
		return eris.Errorf("config: crs must be positive, got %d", c.CRS)
	}
	if len(c.Pipeline.Radii) == 0 {
		return eris.New("config: pipeline.radii is empty")
	}
	for _, r := range c.Pipeline.Radii {
		if r <= 0 {
			return eris.Errorf("config: radius must be positive, got %d", r)
		}
	}
	switch c.Pipeline.ZoneReuse {
	case ZoneReuseNone, ZoneReuseMaxInput, ZoneReuseMaxZone:
	default:
		return eris.Errorf("config: unknown pipeline.zone_reuse %q", c.Pipeline.ZoneReuse)
	}
	switch c.Cache.Backend {
	case BackendFS, BackendSQLite, BackendPostgres, BackendRedis:
	default:
		return eris.Errorf("config: unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == BackendPostgres && c.Cache.DatabaseURL == "" {
		return eris.New("config: cache.database_url is required for the postgres backend")
	}
	if c.Matching.Workers < 1 {
		return eris.Errorf("config: matching.workers must be >= 1, got %d", c.Matching.Workers)
	}
	return nil
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("paths.reports_dir", "reports")
	v.SetDefault("paths.cache_dir", "data/cache")
	v.SetDefault("crs", 2154)
	v.SetDefault("pipeline.years", []int{2008, 2013, 2023})
	v.SetDefault("pipeline.radii", []int{5000, 10000, 15000, 20000, 25000})
	v.SetDefault("pipeline.default_radius", 25000)
	v.SetDefault("pipeline.distance_threshold", 50.0)
	v.SetDefault("pipeline.min_area", 1000.0)
	v.SetDefault("pipeline.buffer_segments", 16)
	v.SetDefault("pipeline.zone_reuse", ZoneReuseNone)
	v.SetDefault("pipeline.modern_years", []int{2023})
	v.SetDefault("matching.workers", 1)
	v.SetDefault("cache.backend", BackendFS)
	v.SetDefault("cache.sqlite_path", "data/cache/artifacts.db")
	v.SetDefault("cache.redis_addr", "127.0.0.1:6379")
	v.SetDefault("cache.redis_prefix", "sprawl:")
	v.SetDefault("cache.memo_ttl_secs", 600)
	v.SetDefault("cache.retry_attempts", 3)
	v.SetDefault("cache.retry_backoff_ms", 200)
	v.SetDefault("cache.breaker_threshold", 5)
	v.SetDefault("cache.breaker_reset_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("regions_file", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	regions, err := LoadRegions(cfg.RegionsFile)
	if err != nil {
		return nil, err
	}
	cfg.Regions = regions

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
