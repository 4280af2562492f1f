package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Thresholds    ThresholdsConfig    `yaml:"thresholds" mapstructure:"thresholds"`
	Records       RecordsConfig       `yaml:"records" mapstructure:"records"`
	Optimizer     OptimizerConfig     `yaml:"optimizer" mapstructure:"optimizer"`
	Normalization NormalizationConfig `yaml:"normalization" mapstructure:"normalization"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// ThresholdsConfig locates the threshold document and picks what to evaluate.
type ThresholdsConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Question string `yaml:"question" mapstructure:"question"`
	// Model selects the score source: "old" (deployed) or "new".
	Model string `yaml:"model" mapstructure:"model"`
}

// RecordsConfig locates the record table.
type RecordsConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Sheet    string `yaml:"sheet" mapstructure:"sheet"`
	IDColumn string `yaml:"id_column" mapstructure:"id_column"`
}

// OptimizerConfig tunes the boundary search.
type OptimizerConfig struct {
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Workers       int `yaml:"workers" mapstructure:"workers"`
	Step          int `yaml:"step" mapstructure:"step"`
}

// Timeout returns the search timeout; zero means unbounded.
func (o OptimizerConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// NormalizationConfig holds extra label merges (question → raw → canonical)
// applied on top of the built-in table and the threshold document's.
type NormalizationConfig struct {
	LabelMerges map[string]map[string]string `yaml:"label_merges" mapstructure:"label_merges"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	OptimizePerMinute int      `yaml:"optimize_per_minute" mapstructure:"optimize_per_minute"`
}

// StoreConfig configures the optimization run history. An empty driver
// disables it.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "", "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
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
	v.SetEnvPrefix("CONDEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("thresholds.path", "thresholds.yaml")
	v.SetDefault("thresholds.question", "physicalConditionPanel")
	v.SetDefault("thresholds.model", "old")
	v.SetDefault("records.path", "")
	v.SetDefault("records.sheet", "")
	v.SetDefault("records.id_column", "pdd_txn_id")
	v.SetDefault("optimizer.max_iterations", 10)
	v.SetDefault("optimizer.timeout_secs", 120)
	v.SetDefault("optimizer.workers", 4)
	v.SetDefault("optimizer.step", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.optimize_per_minute", 6)
	v.SetDefault("store.driver", "")
	v.SetDefault("store.database_url", "")

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

// Validate checks the settings a command mode depends on. Modes: "validate"
// (threshold document only), "evaluate" (thresholds and records), "optimize",
// "serve" and "runs" (run history only).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "validate":
		errs = c.requireThresholds(errs)
	case "evaluate":
		errs = c.requireThresholds(errs)
		errs = c.requireRecords(errs)
	case "optimize":
		errs = c.requireThresholds(errs)
		errs = c.requireRecords(errs)
		errs = c.checkOptimizer(errs)
		errs = c.checkStore(errs)
	case "serve":
		errs = c.requireThresholds(errs)
		errs = c.requireRecords(errs)
		errs = c.checkOptimizer(errs)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.OptimizePerMinute < 0 {
			errs = append(errs, "server.optimize_per_minute must be >= 0")
		}
		errs = c.checkStore(errs)
	case "runs":
		if c.Store.Driver == "" {
			errs = append(errs, "store.driver is required to read run history")
		}
		errs = c.checkStore(errs)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Thresholds.Model {
	case "", "old", "new":
	default:
		errs = append(errs, fmt.Sprintf("thresholds.model must be old or new, got %q", c.Thresholds.Model))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) requireThresholds(errs []string) []string {
	if c.Thresholds.Path == "" {
		errs = append(errs, "thresholds.path is required")
	}
	return errs
}

func (c *Config) requireRecords(errs []string) []string {
	if c.Records.Path == "" {
		errs = append(errs, "records.path is required")
	}
	if c.Thresholds.Question == "" {
		errs = append(errs, "thresholds.question is required")
	}
	return errs
}

func (c *Config) checkOptimizer(errs []string) []string {
	o := c.Optimizer
	if o.MaxIterations < 1 || o.MaxIterations > 1000 {
		errs = append(errs, "optimizer.max_iterations must be between 1 and 1000")
	}
	if o.Workers < 1 || o.Workers > 64 {
		errs = append(errs, "optimizer.workers must be between 1 and 64")
	}
	if o.Step < 1 || o.Step > 50 {
		errs = append(errs, "optimizer.step must be between 1 and 50")
	}
	if o.TimeoutSecs < 0 {
		errs = append(errs, "optimizer.timeout_secs must be >= 0")
	}
	return errs
}

func (c *Config) checkStore(errs []string) []string {
	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	return errs
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
