// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Analyzer AnalyzerConfig `yaml:"analyzer" mapstructure:"analyzer"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// EngineConfig configures the aggregation engine.
type EngineConfig struct {
	// Schema is the database schema holding the analysis tables.
	Schema string `yaml:"schema" mapstructure:"schema"`
	// MetadataTTL bounds staleness of cached table/column discovery.
	MetadataTTLSecs int `yaml:"metadata_ttl_secs" mapstructure:"metadata_ttl_secs"`
	// IndustryTTL bounds staleness of the industry -> code prefix lookup.
	IndustryTTLSecs int `yaml:"industry_ttl_secs" mapstructure:"industry_ttl_secs"`
	// StalenessWindow is how long a started-but-unfinished analysis is still
	// considered running before it is treated as abandoned.
	StalenessWindowMins int `yaml:"staleness_window_mins" mapstructure:"staleness_window_mins"`
	RequestTimeoutSecs  int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	DefaultPageSize     int `yaml:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize         int `yaml:"max_page_size" mapstructure:"max_page_size"`
	// FieldsFile optionally overrides the built-in column candidate lists.
	FieldsFile string `yaml:"fields_file" mapstructure:"fields_file"`
}

// MetadataTTL returns the schema metadata cache TTL as a duration.
func (c EngineConfig) MetadataTTL() time.Duration {
	return time.Duration(c.MetadataTTLSecs) * time.Second
}

// IndustryTTL returns the industry lookup cache TTL as a duration.
func (c EngineConfig) IndustryTTL() time.Duration {
	return time.Duration(c.IndustryTTLSecs) * time.Second
}

// StalenessWindow returns the running/queued staleness window as a duration.
func (c EngineConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessWindowMins) * time.Minute
}

// RequestTimeout returns the per-request timeout as a duration.
func (c EngineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// AnalyzerConfig configures the upstream analyzer health probe.
type AnalyzerConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HealthTTLSecs int     `yaml:"health_ttl_secs" mapstructure:"health_ttl_secs"`
	ProbesPerSec  float64 `yaml:"probes_per_sec" mapstructure:"probes_per_sec"`
}

// ServerConfig configures the HTTP read API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ANALYSIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("engine.schema", "public")
	v.SetDefault("engine.metadata_ttl_secs", 300)
	v.SetDefault("engine.industry_ttl_secs", 600)
	v.SetDefault("engine.staleness_window_mins", 120)
	v.SetDefault("engine.request_timeout_secs", 15)
	v.SetDefault("engine.default_page_size", 25)
	v.SetDefault("engine.max_page_size", 200)
	v.SetDefault("engine.fields_file", "")
	v.SetDefault("analyzer.base_url", "")
	v.SetDefault("analyzer.timeout_secs", 5)
	v.SetDefault("analyzer.health_ttl_secs", 30)
	v.SetDefault("analyzer.probes_per_sec", 1.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
		return eris.Wrapf(err, "config: parse log level %q", cfg.Level)
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
