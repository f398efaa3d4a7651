package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg == nil {
		t.Fatal("Config should not be nil")
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DatabasePath != "./seowatch.db" {
		t.Errorf("Expected default database path './seowatch.db', got %s", cfg.DatabasePath)
	}
	if cfg.ZScoreThreshold != 3.0 {
		t.Errorf("Expected default z-score threshold 3.0, got %v", cfg.ZScoreThreshold)
	}
	if cfg.DetectorWeights.Statistical != 0.4 || cfg.DetectorWeights.Outlier != 0.3 || cfg.DetectorWeights.Forecast != 0.3 {
		t.Errorf("Unexpected default detector weights: %+v", cfg.DetectorWeights)
	}
	if cfg.SeverityBands.Medium != 0.5 || cfg.SeverityBands.High != 0.8 {
		t.Errorf("Unexpected default severity bands: %+v", cfg.SeverityBands)
	}
	if cfg.MaxDeliveryAttempts != 5 {
		t.Errorf("Expected default max delivery attempts 5, got %d", cfg.MaxDeliveryAttempts)
	}
	if cfg.SuppressionWindowSec != 24*60*60 {
		t.Errorf("Expected default suppression window 24h, got %ds", cfg.SuppressionWindowSec)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("SEOWATCH_PORT", "9000")
	os.Setenv("SEOWATCH_DATABASE_PATH", "/tmp/test.db")
	os.Setenv("SEOWATCH_WORKER_COUNT", "8")
	defer func() {
		os.Unsetenv("SEOWATCH_PORT")
		os.Unsetenv("SEOWATCH_DATABASE_PATH")
		os.Unsetenv("SEOWATCH_WORKER_COUNT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000 from env, got %d", cfg.Port)
	}
	if cfg.DatabasePath != "/tmp/test.db" {
		t.Errorf("Expected database path from env, got %s", cfg.DatabasePath)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("Expected worker count 8 from env, got %d", cfg.WorkerCount)
	}
}

func TestValidate_RejectsBadBands(t *testing.T) {
	cfg := &Config{
		SeverityBands:       SeverityBands{Medium: 0.8, High: 0.5},
		ZScoreThreshold:     3.0,
		ZScoreCeiling:       6.0,
		MaxDeliveryAttempts: 5,
		WorkerCount:         4,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for high band below medium band")
	}
}

func TestValidate_RejectsBadCeiling(t *testing.T) {
	cfg := &Config{
		SeverityBands:       SeverityBands{Medium: 0.5, High: 0.8},
		ZScoreThreshold:     3.0,
		ZScoreCeiling:       2.0,
		MaxDeliveryAttempts: 5,
		WorkerCount:         4,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for ceiling below threshold")
	}
}

func TestZThresholdFor_PerMetricOverride(t *testing.T) {
	cfg := &Config{
		ZScoreThreshold:   3.0,
		MetricZThresholds: map[string]float64{"keyword_rank": 2.5},
	}
	if got := cfg.ZThresholdFor("keyword_rank"); got != 2.5 {
		t.Errorf("Expected per-metric threshold 2.5, got %v", got)
	}
	if got := cfg.ZThresholdFor("search_clicks"); got != 3.0 {
		t.Errorf("Expected default threshold 3.0, got %v", got)
	}
}
