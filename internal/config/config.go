package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the dashboard read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ReconcileConfig holds the tunable parameters for one reconciliation run.
type ReconcileConfig struct {
	AutoLinkConfidenceThreshold  float64 `yaml:"auto_link_confidence_threshold" mapstructure:"auto_link_confidence_threshold"`
	GPSProximityMeters           float64 `yaml:"gps_proximity_meters" mapstructure:"gps_proximity_meters"`
	LocationMismatchMeters       float64 `yaml:"location_mismatch_meters" mapstructure:"location_mismatch_meters"`
	AgentNameSimilarityThreshold float64 `yaml:"agent_name_similarity_threshold" mapstructure:"agent_name_similarity_threshold"`
	MaxRecordsPerRun             int     `yaml:"max_records_per_run" mapstructure:"max_records_per_run"`
	EnableAutoLinking            bool    `yaml:"enable_auto_linking" mapstructure:"enable_auto_linking"`
	NotifyOnConflicts            bool    `yaml:"notify_on_conflicts" mapstructure:"notify_on_conflicts"`
	ConflictEscalationThreshold  float64 `yaml:"conflict_escalation_threshold" mapstructure:"conflict_escalation_threshold"`
	ScoreWorkers                 int     `yaml:"score_workers" mapstructure:"score_workers"`
	WritesPerSecond              float64 `yaml:"writes_per_second" mapstructure:"writes_per_second"`
}

// DefaultReconcileConfig returns the documented tunable defaults.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		AutoLinkConfidenceThreshold:  0.9,
		GPSProximityMeters:           100,
		LocationMismatchMeters:       200,
		AgentNameSimilarityThreshold: 0.8,
		MaxRecordsPerRun:             1000,
		EnableAutoLinking:            true,
		NotifyOnConflicts:            true,
		ConflictEscalationThreshold:  0.3,
		ScoreWorkers:                 4,
		WritesPerSecond:              50,
	}
}

// Validate checks that a ReconcileConfig is internally consistent.
func (c ReconcileConfig) Validate() error {
	var errs []string

	if c.AutoLinkConfidenceThreshold < 0 || c.AutoLinkConfidenceThreshold > 1 {
		errs = append(errs, "auto_link_confidence_threshold must be in [0,1]")
	}
	if c.AgentNameSimilarityThreshold < 0 || c.AgentNameSimilarityThreshold > 1 {
		errs = append(errs, "agent_name_similarity_threshold must be in [0,1]")
	}
	if c.ConflictEscalationThreshold < 0 || c.ConflictEscalationThreshold > 1 {
		errs = append(errs, "conflict_escalation_threshold must be in [0,1]")
	}
	if c.GPSProximityMeters <= 0 {
		errs = append(errs, "gps_proximity_meters must be > 0")
	}
	if c.LocationMismatchMeters < c.GPSProximityMeters {
		errs = append(errs, "location_mismatch_meters must be >= gps_proximity_meters")
	}
	if c.MaxRecordsPerRun <= 0 {
		errs = append(errs, "max_records_per_run must be > 0")
	}
	if c.ScoreWorkers <= 0 {
		errs = append(errs, "score_workers must be > 0")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("reconcile config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POLELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("reconcile.auto_link_confidence_threshold", 0.9)
	v.SetDefault("reconcile.gps_proximity_meters", 100)
	v.SetDefault("reconcile.location_mismatch_meters", 200)
	v.SetDefault("reconcile.agent_name_similarity_threshold", 0.8)
	v.SetDefault("reconcile.max_records_per_run", 1000)
	v.SetDefault("reconcile.enable_auto_linking", true)
	v.SetDefault("reconcile.notify_on_conflicts", true)
	v.SetDefault("reconcile.conflict_escalation_threshold", 0.3)
	v.SetDefault("reconcile.score_workers", 4)
	v.SetDefault("reconcile.writes_per_second", 50)

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

// LoadRunOptions overlays per-run reconciliation tunables from a YAML file
// onto base. Fields absent from the file keep their base values.
func LoadRunOptions(path string, base ReconcileConfig) (ReconcileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, eris.Wrapf(err, "config: read run options %s", path)
	}

	merged := base
	if err := yaml.Unmarshal(raw, &merged); err != nil {
		return base, eris.Wrapf(err, "config: parse run options %s", path)
	}
	return merged, nil
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
