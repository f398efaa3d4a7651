package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	DatabasePath   string   `mapstructure:"database_path"`
	LogLevel       string   `mapstructure:"log_level"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RulesPath      string   `mapstructure:"rules_path"` // alert rules YAML file

	// Metric store. When metric_store_dsn is set the readers use Postgres
	// (the analytics database); otherwise series are read from the local DB.
	MetricStoreDSN string `mapstructure:"metric_store_dsn"`

	// Detection.
	DetectionIntervalSec int     `mapstructure:"detection_interval_sec"` // scheduled run cadence; 0 = manual runs only
	WindowDays           int     `mapstructure:"window_days"`            // trailing window for the statistical baseline
	MinWindowPoints      int     `mapstructure:"min_window_points"`      // below this a detector emits nothing
	ZScoreThreshold      float64 `mapstructure:"zscore_threshold"`       // default z threshold
	ZScoreCeiling        float64 `mapstructure:"zscore_ceiling"`         // z at which confidence saturates to 1.0
	// MetricZThresholds overrides the z threshold per metric name.
	MetricZThresholds map[string]float64 `mapstructure:"metric_zscore_thresholds"`
	OutlierPercentile float64            `mapstructure:"outlier_percentile"` // score percentile above which a point is a candidate
	OutlierMinScore   float64            `mapstructure:"outlier_min_score"`  // absolute score floor for outlier candidates
	SeasonCycleDays   int                `mapstructure:"season_cycle_days"`  // forecast seasonality period

	// Fusion.
	DetectorWeights SeverityWeights `mapstructure:"detector_weights"`
	SeverityBands   SeverityBands   `mapstructure:"severity_bands"`
	RetentionDays   int             `mapstructure:"retention_days"` // anomalies older than this are swept for resolution

	// Suppression.
	SuppressionWindowSec int `mapstructure:"suppression_window_sec"` // default per-rule window

	// Delivery.
	MaxDeliveryAttempts int     `mapstructure:"max_delivery_attempts"`
	BackoffBaseSec      int     `mapstructure:"backoff_base_sec"`
	BackoffCapSec       int     `mapstructure:"backoff_cap_sec"`
	WorkerCount         int     `mapstructure:"worker_count"`
	SendTimeoutSec      int     `mapstructure:"send_timeout_sec"`     // bounded timeout per channel send
	ChannelRatePerSec   float64 `mapstructure:"channel_rate_per_sec"` // outbound sends per second per channel; 0 = unlimited
	SMTPAddr            string  `mapstructure:"smtp_addr"`            // host:port for the email adapter
	SMTPFrom            string  `mapstructure:"smtp_from"`

	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`

	// Tracing (OTLP/HTTP endpoint; empty disables export).
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// SeverityWeights scales each detector kind's trust in fusion. Weights need
// not sum to 1.
type SeverityWeights struct {
	Statistical float64 `mapstructure:"statistical"`
	Outlier     float64 `mapstructure:"outlier"`
	Forecast    float64 `mapstructure:"forecast"`
}

// SeverityBands maps combined confidence onto severity. Bands must be total
// and non-overlapping: [0, Medium) low, [Medium, High) medium, [High, 1] high.
type SeverityBands struct {
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/seowatch/")
	viper.AddConfigPath("$HOME/.seowatch")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_path", "./seowatch.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("rules_path", "./rules.yaml")
	viper.SetDefault("metric_store_dsn", "")
	viper.SetDefault("detection_interval_sec", 0)
	viper.SetDefault("window_days", 30)
	viper.SetDefault("min_window_points", 7)
	viper.SetDefault("zscore_threshold", 3.0)
	viper.SetDefault("zscore_ceiling", 6.0)
	viper.SetDefault("outlier_percentile", 0.95)
	viper.SetDefault("outlier_min_score", 3.0)
	viper.SetDefault("season_cycle_days", 7)
	viper.SetDefault("detector_weights.statistical", 0.4)
	viper.SetDefault("detector_weights.outlier", 0.3)
	viper.SetDefault("detector_weights.forecast", 0.3)
	viper.SetDefault("severity_bands.medium", 0.5)
	viper.SetDefault("severity_bands.high", 0.8)
	viper.SetDefault("retention_days", 30)
	viper.SetDefault("suppression_window_sec", 24*60*60)
	viper.SetDefault("max_delivery_attempts", 5)
	viper.SetDefault("backoff_base_sec", 30)
	viper.SetDefault("backoff_cap_sec", 3600)
	viper.SetDefault("worker_count", 4)
	viper.SetDefault("send_timeout_sec", 10)
	viper.SetDefault("channel_rate_per_sec", 0)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("otlp_endpoint", "")

	// Environment variables
	viper.SetEnvPrefix("SEOWATCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. Malformed
// thresholds here are fatal; malformed individual rules are not (they are
// excluded at rule load instead).
func (c *Config) Validate() error {
	if c.SeverityBands.Medium <= 0 || c.SeverityBands.Medium >= 1 {
		return fmt.Errorf("severity_bands.medium must be in (0,1), got %v", c.SeverityBands.Medium)
	}
	if c.SeverityBands.High <= c.SeverityBands.Medium || c.SeverityBands.High >= 1 {
		return fmt.Errorf("severity_bands.high must be in (medium,1), got %v", c.SeverityBands.High)
	}
	if c.ZScoreCeiling <= c.ZScoreThreshold {
		return fmt.Errorf("zscore_ceiling (%v) must exceed zscore_threshold (%v)", c.ZScoreCeiling, c.ZScoreThreshold)
	}
	for _, w := range []float64{c.DetectorWeights.Statistical, c.DetectorWeights.Outlier, c.DetectorWeights.Forecast} {
		if w < 0 || w > 1 {
			return fmt.Errorf("detector weights must be in [0,1], got %v", w)
		}
	}
	if c.MaxDeliveryAttempts < 1 {
		return fmt.Errorf("max_delivery_attempts must be >= 1, got %d", c.MaxDeliveryAttempts)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be >= 1, got %d", c.WorkerCount)
	}
	return nil
}

// ZThresholdFor returns the per-metric z-score threshold, falling back to the
// global default.
func (c *Config) ZThresholdFor(metric string) float64 {
	if t, ok := c.MetricZThresholds[metric]; ok && t > 0 {
		return t
	}
	return c.ZScoreThreshold
}
