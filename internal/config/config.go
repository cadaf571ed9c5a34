// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Parcel ParcelConfig `yaml:"parcel" mapstructure:"parcel"`
	Loader LoaderConfig `yaml:"loader" mapstructure:"loader"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ParcelConfig configures the parcel derivation pipeline.
type ParcelConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`

	// MeasurementSRID is the projected coordinate system used for all area
	// and perimeter measurement and for the Voronoi partitioning itself.
	// One fixed zone; a wrong regional choice silently skews measurements.
	MeasurementSRID int `yaml:"measurement_srid" mapstructure:"measurement_srid"`

	// SeedSpacingM is the boundary segmentize step (meters) used to place
	// Voronoi seed points along footprint boundaries.
	SeedSpacingM float64 `yaml:"seed_spacing_m" mapstructure:"seed_spacing_m"`

	DeriveBatchSize   int `yaml:"derive_batch_size" mapstructure:"derive_batch_size"`
	DeriveConcurrency int `yaml:"derive_concurrency" mapstructure:"derive_concurrency"`
}

// LoaderConfig configures the raw source loader.
type LoaderConfig struct {
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
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
	v.SetEnvPrefix("PARCEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("parcel.measurement_srid", 5070) // NAD83 Conus Albers
	v.SetDefault("parcel.seed_spacing_m", 5.0)
	v.SetDefault("parcel.derive_batch_size", 500)
	v.SetDefault("parcel.derive_concurrency", 4)
	v.SetDefault("loader.temp_dir", "/tmp/parcel-loader")
	v.SetDefault("loader.concurrency", 3)

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

// DatabaseURL returns the parcel pipeline DSN, falling back to the store DSN.
func (c *Config) DatabaseURL() string {
	if c.Parcel.DatabaseURL != "" {
		return c.Parcel.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// Validate checks that the configuration required for the given command
// family is present.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "parcel", "ingest", "loader":
		if c.DatabaseURL() == "" {
			return eris.New("config: no database_url configured (set parcel.database_url or store.database_url)")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if c.Parcel.MeasurementSRID <= 0 {
		return eris.New("config: parcel.measurement_srid must be a positive SRID")
	}
	if c.Parcel.SeedSpacingM <= 0 {
		return eris.New("config: parcel.seed_spacing_m must be positive")
	}
	if c.Parcel.DeriveConcurrency < 1 {
		return eris.New("config: parcel.derive_concurrency must be at least 1")
	}
	return nil
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
